package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var errNoAudio = errors.New("engine produced no audio")

// Synthesizer collects the sample chunks of a SynthesisEngine into a single
// WAV container.
type Synthesizer struct {
	engine       SynthesisEngine
	defaultVoice string
	logger       *slog.Logger
}

// NewSynthesizer creates a Synthesizer. defaultVoice is used when
// Synthesize is called with an empty voice.
func NewSynthesizer(engine SynthesisEngine, defaultVoice string, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{engine: engine, defaultVoice: defaultVoice, logger: logger}
}

// DefaultVoice returns the voice used when none is given.
func (s *Synthesizer) DefaultVoice() string {
	return s.defaultVoice
}

// Synthesize renders text with voice and returns WAV bytes positioned at
// the start.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voice string) (*bytes.Reader, error) {
	defer timed(s.logger, "synthesize")()

	if voice == "" {
		voice = s.defaultVoice
	}

	var pcm bytes.Buffer
	for chunk, err := range s.engine.Generate(ctx, text, voice) {
		if err != nil {
			return nil, fmt.Errorf("generate speech: %w", err)
		}
		pcm.Write(chunk)
	}
	if pcm.Len() == 0 {
		return nil, errNoAudio
	}

	return bytes.NewReader(EncodeWAV(pcm.Bytes(), SampleRate, BitsPerSample, Channels)), nil
}
