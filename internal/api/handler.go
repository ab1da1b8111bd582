// Package api provides HTTP handlers for the tutor API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/lexivoice/internal/session"
)

// SessionProvider resolves learner sessions.
type SessionProvider interface {
	GetOrCreate(ctx context.Context, userID string) *session.Session
}

// Runner answers a learner message in one shot.
type Runner interface {
	Run(ctx context.Context, text string, sess *session.Session) (string, error)
}

// Synthesizer renders text as a WAV document.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (*bytes.Reader, error)
	DefaultVoice() string
}

// Handler serves the request/response endpoints.
type Handler struct {
	sessions SessionProvider
	agent    Runner
	synth    Synthesizer
	logger   *slog.Logger
}

// NewHandler creates a new Handler with its dependencies.
func NewHandler(sessions SessionProvider, agent Runner, synth Synthesizer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sessions: sessions,
		agent:    agent,
		synth:    synth,
		logger:   logger,
	}
}

// RegisterRoutes registers the agent and speech routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/agent", h.Agent)
	r.Get("/tts", h.TTS)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// missingParam reports a required query parameter the way request
// validators commonly do.
func missingParam(w http.ResponseWriter, name string) {
	JSON(w, http.StatusUnprocessableEntity, map[string]any{
		"error": "missing query parameter",
		"param": name,
	})
}
