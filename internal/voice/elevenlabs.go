package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/nessievoice/internal/reliability"
	"github.com/gorilla/websocket"
)

type ElevenLabsConfig struct {
	APIKey       string
	BaseURL      string
	WSBaseURL    string
	VoiceID      string
	TTSModelID   string
	STTModelID   string
	OutputFormat string
	Settings     TTSSettings
	HTTPClient   *http.Client
}

// ElevenLabsProvider transcribes recordings over the REST speech-to-text API
// and synthesizes replies over the stream-input websocket.
type ElevenLabsProvider struct {
	cfg    ElevenLabsConfig
	client *http.Client
	dialer *websocket.Dialer
}

func NewElevenLabsProvider(cfg ElevenLabsConfig) *ElevenLabsProvider {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.STTModelID) == "" {
		cfg.STTModelID = "scribe_v1"
	}
	if strings.TrimSpace(cfg.TTSModelID) == "" {
		cfg.TTSModelID = "eleven_multilingual_v2"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	cfg.Settings = normalizeSettings(cfg.Settings)
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &ElevenLabsProvider{cfg: cfg, client: client, dialer: websocket.DefaultDialer}
}

func (p *ElevenLabsProvider) Transcribe(ctx context.Context, audio Audio) (string, error) {
	if len(audio.Data) == 0 {
		return "", nil
	}
	var text string
	err := reliability.Do(ctx, reliability.Policy{Attempts: 2, Base: 200 * time.Millisecond, Cap: time.Second}, func(ctx context.Context) error {
		var err error
		text, err = p.transcribeOnce(ctx, audio)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscription, err)
	}
	return strings.TrimSpace(text), nil
}

func (p *ElevenLabsProvider) transcribeOnce(ctx context.Context, audio Audio) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model_id", p.cfg.STTModelID); err != nil {
		return "", err
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+recordingFilename(audio.ContentType)+`"`)
	contentType := audio.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio.Data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/speech-to-text"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("xi-api-key", p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &reliability.StatusError{Service: "elevenlabs stt", Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode stt response: %w", err)
	}
	return out.Text, nil
}

func (p *ElevenLabsProvider) Synthesize(ctx context.Context, text string) (Audio, error) {
	text = SanitizeSpeechText(text)
	if text == "" {
		return Audio{}, fmt.Errorf("%w: nothing speakable in reply", ErrSynthesis)
	}
	var data []byte
	err := reliability.Do(ctx, reliability.Policy{
		Attempts: 2,
		Base:     150 * time.Millisecond,
		Retry:    isRetryableStreamError,
	}, func(ctx context.Context) error {
		var err error
		data, err = p.streamSynthesis(ctx, text)
		return err
	})
	if err != nil {
		return Audio{}, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	return Audio{Data: data, ContentType: contentTypeForFormat(p.cfg.OutputFormat)}, nil
}

func (p *ElevenLabsProvider) streamSynthesis(ctx context.Context, text string) ([]byte, error) {
	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(p.cfg.VoiceID) + "/stream-input")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model_id", p.cfg.TTSModelID)
	q.Set("output_format", p.cfg.OutputFormat)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", p.cfg.APIKey)

	conn, _, err := p.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("dial tts websocket: %w", err)
	}
	s := newTTSStream(conn)
	defer s.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	go s.readLoop()

	// Prime the stream with voice settings, send the whole reply, then close input.
	settings := p.cfg.Settings
	msgs := []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]any{
				"stability":        settings.Stability,
				"similarity_boost": settings.SimilarityBoost,
				"speed":            settings.Speed,
			},
		},
		{"text": text + " ", "try_trigger_generation": true},
		{"text": ""},
	}
	for _, msg := range msgs {
		if err := s.writeJSON(msg); err != nil {
			return nil, fmt.Errorf("write tts message: %w", err)
		}
	}

	var out bytes.Buffer
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-s.events:
			if !ok {
				if out.Len() > 0 {
					return out.Bytes(), nil
				}
				return nil, fmt.Errorf("tts stream closed without audio")
			}
			switch ev.kind {
			case ttsChunk:
				chunk, err := base64.StdEncoding.DecodeString(ev.audio)
				if err != nil {
					return nil, fmt.Errorf("decode tts chunk: %w", err)
				}
				out.Write(chunk)
			case ttsFinal:
				if out.Len() == 0 {
					return nil, fmt.Errorf("tts stream finished without audio")
				}
				return out.Bytes(), nil
			case ttsError:
				return nil, &streamError{code: ev.code, detail: ev.detail}
			}
		}
	}
}

// RESTSynthesizer returns a synthesizer that uses the plain HTTP
// text-to-speech endpoint. It serves as the fallback when the websocket
// stream cannot be opened.
func (p *ElevenLabsProvider) RESTSynthesizer() Synthesizer {
	return elevenRESTSynthesizer{p: p}
}

type elevenRESTSynthesizer struct {
	p *ElevenLabsProvider
}

func (r elevenRESTSynthesizer) Synthesize(ctx context.Context, text string) (Audio, error) {
	p := r.p
	text = SanitizeSpeechText(text)
	if text == "" {
		return Audio{}, fmt.Errorf("%w: nothing speakable in reply", ErrSynthesis)
	}
	payload, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": p.cfg.TTSModelID,
		"voice_settings": map[string]any{
			"stability":        p.cfg.Settings.Stability,
			"similarity_boost": p.cfg.Settings.SimilarityBoost,
		},
	})
	if err != nil {
		return Audio{}, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(p.cfg.VoiceID) +
		"?output_format=" + url.QueryEscape(p.cfg.OutputFormat)

	var data []byte
	err = reliability.Do(ctx, reliability.Policy{Attempts: 2, Base: 200 * time.Millisecond, Cap: time.Second}, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("xi-api-key", p.cfg.APIKey)
		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &reliability.StatusError{Service: "elevenlabs tts", Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}
		data = body
		return nil
	})
	if err != nil {
		return Audio{}, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	if len(data) == 0 {
		return Audio{}, fmt.Errorf("%w: empty audio", ErrSynthesis)
	}
	return Audio{Data: data, ContentType: contentTypeForFormat(p.cfg.OutputFormat)}, nil
}

type streamError struct {
	code   string
	detail string
}

func (e *streamError) Error() string {
	return fmt.Sprintf("tts upstream error %s: %s", e.code, e.detail)
}

// Rate limits and queue overflows reported mid-stream are worth one more try.
func isRetryableStreamError(err error) bool {
	var se *streamError
	return errors.As(err, &se) && reliability.IsRetryableStreamCode(se.code)
}

type ttsEventKind int

const (
	ttsChunk ttsEventKind = iota
	ttsFinal
	ttsError
)

type ttsEvent struct {
	kind   ttsEventKind
	audio  string
	code   string
	detail string
}

type ttsStream struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
	events    chan ttsEvent
}

func newTTSStream(conn *websocket.Conn) *ttsStream {
	return &ttsStream{conn: conn, done: make(chan struct{}), events: make(chan ttsEvent, 64)}
}

func (s *ttsStream) writeJSON(payload map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(payload)
}

// readLoop is the only closer of events.
func (s *ttsStream) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		if audio := asString(raw["audio"]); audio != "" {
			if !s.emit(ttsEvent{kind: ttsChunk, audio: audio}) {
				return
			}
		}
		if errMsg := asString(raw["error"]); errMsg != "" {
			code := asString(raw["message_type"])
			if code == "" {
				code = "error"
			}
			if !s.emit(ttsEvent{kind: ttsError, code: code, detail: errMsg}) {
				return
			}
		}
		if asBool(raw["isFinal"]) || asBool(raw["is_final"]) {
			s.emit(ttsEvent{kind: ttsFinal})
			return
		}
	}
}

func (s *ttsStream) emit(ev ttsEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *ttsStream) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		close(s.done)
		retErr = s.conn.Close()
	})
	return retErr
}

func normalizeSettings(s TTSSettings) TTSSettings {
	if s.Stability <= 0 {
		s.Stability = 0.5
	} else if s.Stability > 1 {
		s.Stability = 1
	}
	if s.SimilarityBoost <= 0 {
		s.SimilarityBoost = 0.75
	} else if s.SimilarityBoost > 1 {
		s.SimilarityBoost = 1
	}
	if s.Speed <= 0 {
		s.Speed = 1.0
	}
	if s.Speed < 0.7 {
		s.Speed = 0.7
	} else if s.Speed > 1.2 {
		s.Speed = 1.2
	}
	return s
}

func contentTypeForFormat(format string) string {
	switch {
	case strings.HasPrefix(format, "mp3"):
		return "audio/mpeg"
	case strings.HasPrefix(format, "ulaw"):
		return "audio/basic"
	case strings.HasPrefix(format, "pcm"):
		return "audio/L16"
	default:
		return "application/octet-stream"
	}
}

func recordingFilename(contentType string) string {
	switch {
	case strings.Contains(contentType, "mpeg"), strings.Contains(contentType, "mp3"):
		return "recording.mp3"
	default:
		return "recording.wav"
	}
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func asBool(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return false
}
