package voice

import (
	"context"
	"errors"
	"testing"
)

type stubSynthesizer struct {
	calls int
	err   error
	tag   string
}

func (s *stubSynthesizer) Synthesize(_ context.Context, text string) (Audio, error) {
	s.calls++
	if s.err != nil {
		return Audio{}, s.err
	}
	return Audio{Data: []byte(s.tag + ":" + text), ContentType: "audio/mpeg"}, nil
}

func TestFailoverSynthesizerSwitchesToFallbackAndSticks(t *testing.T) {
	ctx := context.Background()
	primary := &stubSynthesizer{err: errors.New("primary unavailable"), tag: "p"}
	fallback := &stubSynthesizer{tag: "f"}
	synth := NewFailoverSynthesizer(primary, fallback)

	for i := 0; i < 2; i++ {
		audio, err := synth.Synthesize(ctx, "hello")
		if err != nil {
			t.Fatalf("Synthesize() error = %v", err)
		}
		if string(audio.Data) != "f:hello" {
			t.Fatalf("audio = %q, want fallback audio", audio.Data)
		}
	}
	if primary.calls != 1 {
		t.Fatalf("primary calls = %d, want 1", primary.calls)
	}
	if fallback.calls != 2 {
		t.Fatalf("fallback calls = %d, want 2", fallback.calls)
	}
}

func TestFailoverSynthesizerReturnsToPrimaryWhenFallbackFails(t *testing.T) {
	ctx := context.Background()
	primary := &stubSynthesizer{err: errors.New("down"), tag: "p"}
	fallback := &stubSynthesizer{tag: "f"}
	synth := NewFailoverSynthesizer(primary, fallback)

	if _, err := synth.Synthesize(ctx, "a"); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	primary.err = nil
	fallback.err = errors.New("fallback down")
	audio, err := synth.Synthesize(ctx, "b")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if string(audio.Data) != "p:b" {
		t.Fatalf("audio = %q, want primary audio", audio.Data)
	}

	fallback.err = nil
	audio, _ = synth.Synthesize(ctx, "c")
	if string(audio.Data) != "p:c" {
		t.Fatalf("audio = %q, want primary to stay active", audio.Data)
	}
}

func TestFailoverSynthesizerBothFail(t *testing.T) {
	primary := &stubSynthesizer{err: ErrSynthesis}
	fallback := &stubSynthesizer{err: errors.New("fallback down")}
	synth := NewFailoverSynthesizer(primary, fallback)

	if _, err := synth.Synthesize(context.Background(), "x"); err == nil {
		t.Fatalf("Synthesize() error = nil, want error")
	}
}

func TestFailoverSynthesizerSkipsFallbackOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	primary := &stubSynthesizer{err: context.Canceled}
	fallback := &stubSynthesizer{tag: "f"}
	synth := NewFailoverSynthesizer(primary, fallback)

	if _, err := synth.Synthesize(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Synthesize() error = %v, want context.Canceled", err)
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback calls = %d, want 0", fallback.calls)
	}
}

func TestMockProviderRoundTrip(t *testing.T) {
	p := NewMockProvider()
	text, err := p.Transcribe(context.Background(), Audio{Data: []byte("  Alice \n")})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "Alice" {
		t.Fatalf("Transcribe() = %q, want %q", text, "Alice")
	}
	if _, err := p.Synthesize(context.Background(), "  "); !errors.Is(err, ErrSynthesis) {
		t.Fatalf("Synthesize(blank) error = %v, want ErrSynthesis", err)
	}
}
