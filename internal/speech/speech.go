// Package speech adapts external speech-to-text and text-to-speech engines
// to the byte-in/text-out and text-in/WAV-out contracts used by the tutor.
package speech

import (
	"context"
	"iter"
	"log/slog"
	"time"
)

const (
	// SampleRate is the fixed rate of synthesized audio.
	SampleRate = 24000
	// BitsPerSample is the PCM depth of synthesized audio.
	BitsPerSample = 16
	// Channels is the channel count of synthesized audio.
	Channels = 1
)

// RecognitionEngine turns an audio file into text.
type RecognitionEngine interface {
	TranscribeFile(ctx context.Context, path string) (string, error)
}

// SynthesisEngine produces 16-bit little-endian mono PCM at SampleRate for
// the given text, as a sequence of sample chunks.
type SynthesisEngine interface {
	Generate(ctx context.Context, text, voice string) iter.Seq2[[]byte, error]
}

// timed logs how long the named operation took when the returned function
// is called.
func timed(logger *slog.Logger, name string) func() {
	start := time.Now()
	return func() {
		logger.Info(name+" took", "duration", time.Since(start).String())
	}
}
