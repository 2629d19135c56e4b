package voice

import (
	"context"
	"errors"
)

var (
	// ErrTranscription wraps every speech-to-text failure.
	ErrTranscription = errors.New("transcription failed")
	// ErrSynthesis wraps every text-to-speech failure.
	ErrSynthesis = errors.New("synthesis failed")
)

// Audio is an encoded clip with its MIME type.
type Audio struct {
	Data        []byte
	ContentType string
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio Audio) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Audio, error)
}

type TTSSettings struct {
	Stability       float64
	SimilarityBoost float64
	Speed           float64
}
