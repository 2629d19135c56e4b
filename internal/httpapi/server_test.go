package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/antoniostano/nessievoice/internal/artifact"
	"github.com/antoniostano/nessievoice/internal/callflow"
	"github.com/antoniostano/nessievoice/internal/observability"
	"github.com/antoniostano/nessievoice/internal/session"
	"github.com/antoniostano/nessievoice/internal/telephony"
	"github.com/antoniostano/nessievoice/internal/voice"
)

type recordingCalls struct {
	mu        sync.Mutex
	callbacks []callflow.Callback
	inst      callflow.Instruction
}

func (c *recordingCalls) Handle(_ context.Context, cb callflow.Callback) callflow.Instruction {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, cb)
	return c.inst
}

func (c *recordingCalls) Callbacks() []callflow.Callback {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]callflow.Callback(nil), c.callbacks...)
}

type rejectAll struct{}

func (rejectAll) Validate(*http.Request, string) error {
	return telephony.ErrAuthentication
}

type brokenRenderer struct{}

func (brokenRenderer) Render(callflow.Instruction) ([]byte, error) {
	return nil, io.ErrUnexpectedEOF
}

type testEnv struct {
	server    *httptest.Server
	calls     *recordingCalls
	sessions  *session.Manager
	artifacts *artifact.Store
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	env := &testEnv{
		calls: &recordingCalls{inst: callflow.Instruction{Actions: []callflow.Action{
			callflow.Speak{Text: "Hello"},
			callflow.Record{Next: callflow.CallbackRef{Step: callflow.StepName}, MaxLength: 30 * time.Second, SilenceTimeout: 3 * time.Second},
		}}},
		sessions:  session.NewManager(time.Minute),
		artifacts: artifact.NewStore(artifact.NewMemoryBackend(), time.Minute, nil),
	}
	opts := Options{
		PublicBaseURL: "https://nessie.test",
		Sessions:      env.sessions,
		Calls:         env.calls,
		Validator:     telephony.NewValidator("", false),
		Renderer:      telephony.NewRenderer("https://nessie.test"),
		Artifacts:     env.artifacts,
		Metrics:       observability.NewMetricsWithRegistry("test_httpapi", prometheus.NewRegistry()),
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&opts)
	}
	env.server = httptest.NewServer(New(opts).Router())
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) postForm(t *testing.T, path string, form url.Values) *http.Response {
	t.Helper()
	res, err := http.PostForm(e.server.URL+path, form)
	if err != nil {
		t.Fatalf("POST %s error = %v", path, err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func TestHealthReportsOnlyStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	env.sessions.Do("CA1", func(*session.CallSession) error { return nil })

	res, err := http.Get(env.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer res.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload) != 1 || payload["status"] != "ok" {
		t.Fatalf("payload = %+v, want only status ok", payload)
	}
}

func TestReadyReportsActiveCalls(t *testing.T) {
	env := newTestEnv(t, nil)
	env.sessions.Do("CA1", func(*session.CallSession) error { return nil })

	res, err := http.Get(env.server.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	defer res.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["active_calls"] != float64(1) {
		t.Fatalf("active_calls = %v, want 1", payload["active_calls"])
	}
}

func TestCallbackRendersTwiML(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.postForm(t, "/voice", url.Values{"CallSid": {"CA1"}})

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/xml" {
		t.Fatalf("Content-Type = %q, want application/xml", ct)
	}
	body, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(body), "<Record") || !strings.Contains(string(body), "https://nessie.test/voice/name") {
		t.Fatalf("body = %s", body)
	}
	cbs := env.calls.Callbacks()
	if len(cbs) != 1 || cbs[0].CallID != "CA1" || cbs[0].Step != callflow.StepStart {
		t.Fatalf("callbacks = %+v", cbs)
	}
}

func TestSecurityCallbackCarriesQuery(t *testing.T) {
	env := newTestEnv(t, nil)
	env.postForm(t, "/voice/security?caller=alice&attempt=2", url.Values{
		"CallSid":      {"CA1"},
		"RecordingUrl": {"https://api.twilio.com/rec/RE1"},
	})

	cbs := env.calls.Callbacks()
	if len(cbs) != 1 {
		t.Fatalf("callbacks = %d, want 1", len(cbs))
	}
	cb := cbs[0]
	if cb.Step != callflow.StepSecurity || cb.CallerName != "alice" || cb.Attempt != 2 || cb.RecordingURL != "https://api.twilio.com/rec/RE1" {
		t.Fatalf("callback = %+v", cb)
	}
}

func TestUnauthenticatedCallbackIsRejected(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.Validator = rejectAll{} })

	for _, path := range []string{"/voice", "/voice/name", "/voice/security", "/voice/conversation", "/voice/status"} {
		res := env.postForm(t, path, url.Values{"CallSid": {"CA1"}})
		if res.StatusCode != http.StatusForbidden {
			t.Fatalf("POST %s status = %d, want %d", path, res.StatusCode, http.StatusForbidden)
		}
	}
	if n := len(env.calls.Callbacks()); n != 0 {
		t.Fatalf("engine saw %d callbacks, want 0", n)
	}
	if env.sessions.ActiveCount() != 0 {
		t.Fatalf("session state touched by rejected callback")
	}
}

func TestRenderFailureServesFallback(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.Renderer = brokenRenderer{} })
	res := env.postForm(t, "/voice/conversation", url.Values{"CallSid": {"CA1"}})

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != string(telephony.FallbackDocument()) {
		t.Fatalf("body = %s, want fallback document", body)
	}
}

func TestAudioEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	ref, err := env.artifacts.Put(context.Background(), "CA1", 1, voice.Audio{Data: []byte("ID3"), ContentType: "audio/mpeg"})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	res, err := http.Get(env.server.URL + "/audio/" + ref)
	if err != nil {
		t.Fatalf("GET /audio error = %v", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK || string(body) != "ID3" || res.Header.Get("Content-Type") != "audio/mpeg" {
		t.Fatalf("GET /audio = %d %q %q", res.StatusCode, res.Header.Get("Content-Type"), body)
	}

	missing, err := http.Get(env.server.URL + "/audio/CA1-9-unknown.mp3")
	if err != nil {
		t.Fatalf("GET /audio error = %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown ref status = %d, want %d", missing.StatusCode, http.StatusNotFound)
	}
}

func TestCallStatusCompletedEndsSession(t *testing.T) {
	env := newTestEnv(t, nil)
	env.sessions.Do("CA1", func(s *session.CallSession) error {
		s.Phase = session.PhaseConversing
		return nil
	})
	ref, _ := env.artifacts.Put(context.Background(), "CA1", 1, voice.Audio{Data: []byte("x"), ContentType: "audio/mpeg"})

	res := env.postForm(t, "/voice/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"in-progress"}})
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}
	if env.sessions.ActiveCount() != 1 {
		t.Fatalf("in-progress status ended the session")
	}

	env.postForm(t, "/voice/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}})
	if env.sessions.ActiveCount() != 0 {
		t.Fatalf("completed status left the session")
	}
	if _, err := env.artifacts.Open(context.Background(), ref); err == nil {
		t.Fatalf("artifact still served after call completed")
	}
}

func TestPerfLatencySnapshot(t *testing.T) {
	env := newTestEnv(t, nil)
	res, err := http.Get(env.server.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("GET /v1/perf/latency error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := payload["stages"]; !ok {
		t.Fatalf("payload = %+v, missing stages", payload)
	}
}

func TestPerfLatencyFiltersAndFlagsSlowStages(t *testing.T) {
	metrics := observability.NewMetricsWithRegistry("test_perf", prometheus.NewRegistry())
	metrics.ObserveStage(observability.StageTranscribe, 20*time.Second)
	metrics.ObserveStage(observability.StageFetch, time.Millisecond)
	env := newTestEnv(t, func(o *Options) { o.Metrics = metrics })

	res, err := http.Get(env.server.URL + "/v1/perf/latency?stage=" + observability.StageTranscribe)
	if err != nil {
		t.Fatalf("GET /v1/perf/latency error = %v", err)
	}
	defer res.Body.Close()
	var payload struct {
		Stages []struct {
			Stage string `json:"stage"`
		} `json:"stages"`
		OverTarget []string `json:"over_target"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Stages) != 1 || payload.Stages[0].Stage != observability.StageTranscribe {
		t.Fatalf("stages = %+v, want only %s", payload.Stages, observability.StageTranscribe)
	}
	if len(payload.OverTarget) != 1 || payload.OverTarget[0] != observability.StageTranscribe {
		t.Fatalf("over_target = %v, want [%s]", payload.OverTarget, observability.StageTranscribe)
	}
}
