package api

import (
	"net/http"
	"strconv"
)

// TTS handles GET /tts?text=... and returns the speech as an inline WAV.
func (h *Handler) TTS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("text") {
		missingParam(w, "text")
		return
	}

	wav, err := h.synth.Synthesize(r.Context(), q.Get("text"), h.synth.DefaultVoice())
	if err != nil {
		h.logger.Error("Speech synthesis failed", "error", err)
		Error(w, http.StatusInternalServerError, "speech synthesis failed")
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `inline; filename="tts.wav"`)
	w.Header().Set("Content-Length", strconv.Itoa(wav.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := wav.WriteTo(w); err != nil {
		h.logger.Warn("failed to write tts response", "error", err)
	}
}
