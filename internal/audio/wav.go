package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotWAV is returned when a recording is not a PCM WAV container.
var ErrNotWAV = errors.New("not a pcm wav recording")

// DefaultSilenceLevel is the peak amplitude below which a PCM16 recording is
// treated as silence. Line hiss on a phone call sits well under it.
const DefaultSilenceLevel = 500

// Clip is a decoded PCM16 WAV recording.
type Clip struct {
	SampleRate  int
	NumChannels int
	PCM         []byte
}

// ParseWAV reads a 16-bit PCM WAV container. Unknown chunks are skipped.
func ParseWAV(data []byte) (Clip, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Clip{}, ErrNotWAV
	}

	var (
		clip     Clip
		haveFmt  bool
		haveData bool
	)
	r := bytes.NewReader(data[12:])
	for !haveData {
		var header struct {
			ID   [4]byte
			Size uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return Clip{}, fmt.Errorf("read chunk header: %w", err)
		}
		size := int64(header.Size)
		if size > int64(r.Len()) {
			size = int64(r.Len())
		}

		switch string(header.ID[:]) {
		case "fmt ":
			var format struct {
				AudioFormat   uint16
				NumChannels   uint16
				SampleRate    uint32
				ByteRate      uint32
				BlockAlign    uint16
				BitsPerSample uint16
			}
			if size < 16 {
				return Clip{}, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			if err := binary.Read(r, binary.LittleEndian, &format); err != nil {
				return Clip{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			if format.AudioFormat != 1 || format.BitsPerSample != 16 {
				return Clip{}, fmt.Errorf("%w: format %d at %d bits", ErrNotWAV, format.AudioFormat, format.BitsPerSample)
			}
			clip.SampleRate = int(format.SampleRate)
			clip.NumChannels = int(format.NumChannels)
			haveFmt = true
			if _, err := r.Seek(size-16, io.SeekCurrent); err != nil {
				return Clip{}, fmt.Errorf("skip fmt chunk: %w", err)
			}
		case "data":
			clip.PCM = make([]byte, size)
			if _, err := io.ReadFull(r, clip.PCM); err != nil {
				return Clip{}, fmt.Errorf("read data chunk: %w", err)
			}
			haveData = true
		default:
			if _, err := r.Seek(size, io.SeekCurrent); err != nil {
				return Clip{}, fmt.Errorf("skip %q chunk: %w", string(header.ID[:]), err)
			}
		}
		// Chunks are word aligned.
		if size%2 == 1 && r.Len() > 0 {
			_, _ = r.ReadByte()
		}
	}
	if !haveFmt {
		return Clip{}, fmt.Errorf("%w: missing fmt chunk", ErrNotWAV)
	}
	return clip, nil
}

// Duration is the playback length of the clip.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 || c.NumChannels <= 0 {
		return 0
	}
	frames := len(c.PCM) / (2 * c.NumChannels)
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// Peak returns the largest absolute sample value.
func (c Clip) Peak() int {
	peak := 0
	for i := 0; i+1 < len(c.PCM); i += 2 {
		v := int(int16(binary.LittleEndian.Uint16(c.PCM[i:])))
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}

// Silent reports whether no sample reaches level.
func (c Clip) Silent(level int) bool {
	return c.Peak() < level
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = 8000
	}

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	w := bufio.NewWriter(out)
	w.WriteString("RIFF")
	binary.Write(w, binary.LittleEndian, uint32(36)+dataSize)
	w.WriteString("WAVE")

	w.WriteString("fmt ")
	binary.Write(w, binary.LittleEndian, uint32(16))
	binary.Write(w, binary.LittleEndian, uint16(audioFormat))
	binary.Write(w, binary.LittleEndian, uint16(numChannels))
	binary.Write(w, binary.LittleEndian, uint32(sampleRate))
	binary.Write(w, binary.LittleEndian, byteRate)
	binary.Write(w, binary.LittleEndian, blockAlign)
	binary.Write(w, binary.LittleEndian, uint16(bitsPerSample))

	w.WriteString("data")
	binary.Write(w, binary.LittleEndian, dataSize)
	w.Write(pcm)
	// bufio.Writer keeps the first write error and reports it here.
	return w.Flush()
}
