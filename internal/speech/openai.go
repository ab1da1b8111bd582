package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/openai/openai-go"
)

var (
	_ RecognitionEngine = (*OpenAIRecognizer)(nil)
	_ SynthesisEngine   = (*OpenAISpeaker)(nil)
)

// OpenAIRecognizer transcribes through an OpenAI-compatible
// /audio/transcriptions endpoint (hosted Whisper or a local server).
type OpenAIRecognizer struct {
	Client   *openai.Client
	Model    string
	Language string
}

// TranscribeFile uploads the file at path and returns the recognized text.
func (r *OpenAIRecognizer) TranscribeFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	params := openai.AudioTranscriptionNewParams{
		File:  f,
		Model: openai.AudioModel(r.Model),
	}
	if r.Language != "" {
		params.Language = openai.String(r.Language)
	}

	resp, err := r.Client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("transcribe audio: %w", err)
	}
	return resp.Text, nil
}

// defaultChunkBytes is 200ms of 16-bit mono audio at SampleRate.
const defaultChunkBytes = SampleRate * 2 / 5

// OpenAISpeaker synthesizes through an OpenAI-compatible /audio/speech
// endpoint requesting raw PCM, which is 24 kHz 16-bit mono.
type OpenAISpeaker struct {
	Client     *openai.Client
	Model      string
	ChunkBytes int
}

// Generate streams the response body as PCM chunks.
func (s *OpenAISpeaker) Generate(ctx context.Context, text, voice string) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		resp, err := s.Client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
			Input:          text,
			Model:          openai.SpeechModel(s.Model),
			Voice:          openai.AudioSpeechNewParamsVoice(voice),
			ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
		})
		if err != nil {
			yield(nil, fmt.Errorf("request speech: %w", err))
			return
		}
		defer resp.Body.Close()

		size := s.ChunkBytes
		if size <= 0 {
			size = defaultChunkBytes
		}
		buf := make([]byte, size)
		for {
			n, err := io.ReadFull(resp.Body, buf)
			if n > 0 {
				if !yield(bytes.Clone(buf[:n]), nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("read speech audio: %w", err))
				return
			}
		}
	}
}
