package voice

import (
	"context"
	"fmt"
	"sync/atomic"
)

// NewFailoverSynthesizer prefers primary and switches to fallback when a
// primary synthesis fails. Once fallback succeeds, it stays active until
// fallback fails; then primary is retried.
func NewFailoverSynthesizer(primary, fallback Synthesizer) Synthesizer {
	return &failoverSynthesizer{primary: primary, fallback: fallback}
}

type failoverSynthesizer struct {
	primary        Synthesizer
	fallback       Synthesizer
	fallbackActive atomic.Bool
}

func (f *failoverSynthesizer) Synthesize(ctx context.Context, text string) (Audio, error) {
	if f.fallbackActive.Load() {
		audio, fbErr := f.fallback.Synthesize(ctx, text)
		if fbErr == nil {
			return audio, nil
		}
		if ctx.Err() != nil {
			return Audio{}, fbErr
		}
		// Fallback failed after being active; try primary again.
		audio, prErr := f.primary.Synthesize(ctx, text)
		if prErr == nil {
			f.fallbackActive.Store(false)
			return audio, nil
		}
		return Audio{}, fmt.Errorf("tts fallback failed: %v; tts primary failed: %w", fbErr, prErr)
	}

	audio, prErr := f.primary.Synthesize(ctx, text)
	if prErr == nil {
		return audio, nil
	}
	if ctx.Err() != nil {
		return Audio{}, prErr
	}
	audio, fbErr := f.fallback.Synthesize(ctx, text)
	if fbErr != nil {
		return Audio{}, fmt.Errorf("tts primary failed: %v; tts fallback failed: %w", prErr, fbErr)
	}
	f.fallbackActive.Store(true)
	return audio, nil
}
