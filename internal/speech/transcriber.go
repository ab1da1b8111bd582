package speech

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Transcriber writes inbound audio to a scoped temporary file and hands it
// to a RecognitionEngine. The file is removed whether or not the engine
// succeeds.
type Transcriber struct {
	engine  RecognitionEngine
	tempDir string
	logger  *slog.Logger
}

// NewTranscriber creates a Transcriber. An empty tempDir uses the system
// default.
func NewTranscriber(engine RecognitionEngine, tempDir string, logger *slog.Logger) *Transcriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcriber{engine: engine, tempDir: tempDir, logger: logger}
}

// Transcribe returns the engine's text for audio. Engine errors are
// returned as is; there is no retry.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	defer timed(t.logger, "transcribe")()

	f, err := os.CreateTemp(t.tempDir, "utterance-*.wav")
	if err != nil {
		return "", fmt.Errorf("create temp audio file: %w", err)
	}
	path := f.Name()
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			t.logger.Warn("Failed to remove temp audio file", "path", path, "error", rmErr)
		}
	}()

	if _, err := f.Write(audio); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write temp audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close temp audio file: %w", err)
	}

	return t.engine.TranscribeFile(ctx, path)
}
