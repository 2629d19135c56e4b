package audio

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func pcmOf(samples ...int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

func TestParseWAVRoundTrip(t *testing.T) {
	pcm := pcmOf(make([]int16, 8000)...)
	data, err := EncodeWAVPCM16LE(pcm, 8000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}

	clip, err := ParseWAV(data)
	if err != nil {
		t.Fatalf("ParseWAV() error = %v", err)
	}
	if clip.SampleRate != 8000 || clip.NumChannels != 1 {
		t.Fatalf("format = %d Hz x %d, want 8000 x 1", clip.SampleRate, clip.NumChannels)
	}
	if got := clip.Duration(); got != time.Second {
		t.Fatalf("Duration() = %v, want 1s", got)
	}
}

func TestClipSilence(t *testing.T) {
	quiet, _ := EncodeWAVPCM16LE(pcmOf(3, -12, 40, -80), 8000)
	loud, _ := EncodeWAVPCM16LE(pcmOf(3, -12, -9000, 80), 8000)

	q, err := ParseWAV(quiet)
	if err != nil {
		t.Fatalf("ParseWAV() error = %v", err)
	}
	if !q.Silent(DefaultSilenceLevel) {
		t.Fatalf("quiet clip peak %d not silent", q.Peak())
	}

	l, err := ParseWAV(loud)
	if err != nil {
		t.Fatalf("ParseWAV() error = %v", err)
	}
	if l.Peak() != 9000 || l.Silent(DefaultSilenceLevel) {
		t.Fatalf("loud clip peak = %d, silent = %v", l.Peak(), l.Silent(DefaultSilenceLevel))
	}
}

func TestParseWAVSkipsUnknownChunks(t *testing.T) {
	data, _ := EncodeWAVPCM16LE(pcmOf(1000, 1000), 8000)
	// Splice a LIST chunk with an odd size between fmt and data.
	extra := append([]byte("LIST"), 0x03, 0, 0, 0, 'a', 'b', 'c', 0)
	spliced := append(append(append([]byte{}, data[:36]...), extra...), data[36:]...)

	clip, err := ParseWAV(spliced)
	if err != nil {
		t.Fatalf("ParseWAV() error = %v", err)
	}
	if clip.Peak() != 1000 {
		t.Fatalf("Peak() = %d, want 1000", clip.Peak())
	}
}

func TestParseWAVRejectsOtherData(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("Alice"), []byte("ID3\x04\x00\x00\x00\x00\x00\x00\x00\x00")} {
		if _, err := ParseWAV(data); !errors.Is(err, ErrNotWAV) {
			t.Fatalf("ParseWAV(%q) error = %v, want ErrNotWAV", data, err)
		}
	}
}
