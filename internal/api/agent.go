package api

import (
	"net/http"

	"github.com/ashureev/lexivoice/internal/identity"
)

// Agent handles GET /agent?text=...&user_id=... and replies with the
// tutor's answer as a JSON string.
func (h *Handler) Agent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("text") {
		missingParam(w, "text")
		return
	}
	if _, ok := identity.FromRequest(r); !ok {
		missingParam(w, identity.UserIDParam)
		return
	}

	userID := identity.UserIDFromContext(r.Context())
	sess := h.sessions.GetOrCreate(r.Context(), userID)

	out, err := h.agent.Run(r.Context(), q.Get("text"), sess)
	if err != nil {
		h.logger.Error("Agent request failed", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "agent run failed")
		return
	}
	JSON(w, http.StatusOK, out)
}
