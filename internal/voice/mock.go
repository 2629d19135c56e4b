package voice

import (
	"context"
	"fmt"
	"strings"
)

// MockProvider is a local stand-in used when ElevenLabs is not configured.
// Recordings are treated as UTF-8 text, and synthesized audio is the reply
// text itself, so a call can be driven end to end with a webhook simulator.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Transcribe(_ context.Context, audio Audio) (string, error) {
	return strings.TrimSpace(string(audio.Data)), nil
}

func (p *MockProvider) Synthesize(_ context.Context, text string) (Audio, error) {
	text = SanitizeSpeechText(text)
	if text == "" {
		return Audio{}, fmt.Errorf("%w: nothing speakable in reply", ErrSynthesis)
	}
	return Audio{Data: []byte(text), ContentType: "audio/mpeg"}, nil
}
