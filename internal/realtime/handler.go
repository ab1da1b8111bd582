package realtime

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ashureev/lexivoice/internal/chunk"
	"github.com/ashureev/lexivoice/internal/identity"
	"github.com/ashureev/lexivoice/internal/session"
)

const (
	// DefaultChunkSizeWords is the number of words synthesized per audio reply.
	DefaultChunkSizeWords = 10

	maxAudioFrameBytes = 16 << 20

	msgAudioReceived     = "Audio received. Processing transcription..."
	msgTranscriptionDone = "Transcription done: "
	msgErrorPrefix       = "Error: "
)

var errNotAudio = errors.New("expected a binary audio frame")

// SessionProvider resolves learner sessions.
type SessionProvider interface {
	GetOrCreate(ctx context.Context, userID string) *session.Session
}

// Transcriber turns an uploaded audio clip into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Synthesizer renders text as a WAV document.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (*bytes.Reader, error)
	DefaultVoice() string
}

// StreamRunner runs a tutoring turn, handing text to onChunk as it is
// produced.
type StreamRunner interface {
	RunStreaming(ctx context.Context, text string, sess *session.Session, onChunk chunk.EmitFunc, chunkSizeWords int) (string, error)
}

// Config holds the collaborators of a Handler.
type Config struct {
	Sessions       SessionProvider
	Transcriber    Transcriber
	Synthesizer    Synthesizer
	Agent          StreamRunner
	Conns          *ConnManager
	ChunkSizeWords int
	OriginPatterns []string
	Logger         *slog.Logger
}

// Handler serves the voice loop: audio in, status text and synthesized
// audio out.
type Handler struct {
	sessions       SessionProvider
	transcriber    Transcriber
	synth          Synthesizer
	agent          StreamRunner
	conns          *ConnManager
	chunkSize      int
	originPatterns []string
	logger         *slog.Logger
}

// NewHandler creates a realtime handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Conns == nil {
		cfg.Conns = NewConnManager(cfg.Logger)
	}
	if cfg.ChunkSizeWords <= 0 {
		cfg.ChunkSizeWords = DefaultChunkSizeWords
	}
	if len(cfg.OriginPatterns) == 0 {
		cfg.OriginPatterns = []string{"*"}
	}
	return &Handler{
		sessions:       cfg.Sessions,
		transcriber:    cfg.Transcriber,
		synth:          cfg.Synthesizer,
		agent:          cfg.Agent,
		conns:          cfg.Conns,
		chunkSize:      cfg.ChunkSizeWords,
		originPatterns: cfg.OriginPatterns,
		logger:         cfg.Logger,
	}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	h.logger.Info("Realtime connection request", "user_id", userID, "ip", identity.IPFromRequest(r))

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()
	ws.SetReadLimit(maxAudioFrameBytes)

	connID := uuid.NewString()
	h.conns.Register(userID, connID, ws)
	defer h.conns.Unregister(userID, connID, ws)

	ctx := r.Context()
	sess := h.sessions.GetOrCreate(ctx, userID)
	h.loop(ctx, ws, sess)
	h.logger.Info("Realtime session ended", "user_id", userID, "conn_id", connID)
}

// loop runs turns until the caller goes away. Failures inside a turn are
// reported to the caller and the loop continues; a disconnect or a failed
// read ends it.
func (h *Handler) loop(ctx context.Context, ws *websocket.Conn, sess *session.Session) {
	for {
		typ, audio, err := ws.Read(ctx)
		if err != nil {
			if isDisconnect(err) {
				h.logger.Info("Client disconnected", "user_id", sess.UserID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", sess.UserID)
			}
			return
		}

		if typ != websocket.MessageBinary {
			err = errNotAudio
		} else {
			err = h.turn(ctx, ws, sess, audio)
		}
		if err == nil {
			continue
		}
		if isDisconnect(err) {
			h.logger.Info("Client disconnected", "user_id", sess.UserID)
			return
		}

		h.logger.Error("Realtime turn failed", "error", err, "user_id", sess.UserID)
		if werr := writeText(ctx, ws, msgErrorPrefix+err.Error()); werr != nil {
			h.logger.Debug("Failed to report turn error", "error", werr, "user_id", sess.UserID)
			return
		}
	}
}

func (h *Handler) turn(ctx context.Context, ws *websocket.Conn, sess *session.Session, audio []byte) error {
	if err := writeText(ctx, ws, msgAudioReceived); err != nil {
		return err
	}

	text, err := h.transcriber.Transcribe(ctx, audio)
	if err != nil {
		return err
	}
	h.logger.Info("Transcription", "user_id", sess.UserID, "text", text)
	if err := writeText(ctx, ws, msgTranscriptionDone+text); err != nil {
		return err
	}

	voice := h.synth.DefaultVoice()
	_, err = h.agent.RunStreaming(ctx, text, sess, func(piece string) error {
		wav, err := h.synth.Synthesize(ctx, piece, voice)
		if err != nil {
			return err
		}
		data, err := io.ReadAll(wav)
		if err != nil {
			return err
		}
		return ws.Write(ctx, websocket.MessageBinary, data)
	}, h.chunkSize)
	return err
}

func writeText(ctx context.Context, ws *websocket.Conn, msg string) error {
	return ws.Write(ctx, websocket.MessageText, []byte(msg))
}

// isDisconnect reports whether err means the caller went away.
func isDisconnect(err error) bool {
	return websocket.CloseStatus(err) != -1 ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed)
}

// OriginPatterns converts allowed CORS origins into the host patterns the
// WebSocket handshake checks against.
func OriginPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}
