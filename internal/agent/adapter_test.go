package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/antoniostano/nessievoice/internal/banking"
)

func TestParseReply(t *testing.T) {
	cases := []struct {
		raw       string
		text      string
		terminate bool
	}{
		{"Your balance is fine.", "Your balance is fine.", false},
		{"Goodbye! [HANGUP]", "Goodbye!", true},
		{"[HANGUP]", "", true},
		{"Bye [HANGUP] now [HANGUP]", "Bye now", true},
		{"  spaced\n out  ", "spaced out", false},
	}
	for _, tc := range cases {
		got := ParseReply(tc.raw)
		if got.Text != tc.text || got.Terminate != tc.terminate {
			t.Fatalf("ParseReply(%q) = %+v, want {%q %v}", tc.raw, got, tc.text, tc.terminate)
		}
	}
}

func TestNewAdapterAutoFallsBackToMock(t *testing.T) {
	a, err := NewAdapter(context.Background(), Config{Mode: "auto"})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	if _, ok := a.(*MockAdapter); !ok {
		t.Fatalf("NewAdapter() = %T, want *MockAdapter", a)
	}
}

func TestNewAdapterAutoPrefersHTTPWithoutGemini(t *testing.T) {
	a, err := NewAdapter(context.Background(), Config{Mode: "auto", HTTPURL: "http://agent.test"})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	if _, ok := a.(*HTTPAdapter); !ok {
		t.Fatalf("NewAdapter() = %T, want *HTTPAdapter", a)
	}
}

func TestNewAdapterRejectsIncompleteModes(t *testing.T) {
	for _, cfg := range []Config{{Mode: "gemini"}, {Mode: "http"}, {Mode: "carrier-pigeon"}} {
		if _, err := NewAdapter(context.Background(), cfg); err == nil {
			t.Fatalf("NewAdapter(%+v) error = nil, want error", cfg)
		}
	}
}

func TestMockAdapterTerminatesOnClosingPhrase(t *testing.T) {
	a := NewMockAdapter()
	reply, err := a.Converse(context.Background(), Request{UserText: "What's my balance?"})
	if err != nil {
		t.Fatalf("Converse() error = %v", err)
	}
	if reply.Terminate {
		t.Fatalf("Terminate = true for a question, want false")
	}

	for _, phrase := range []string{"No, that's all.", "Goodbye."} {
		reply, _ = a.Converse(context.Background(), Request{UserText: phrase})
		if !reply.Terminate || strings.Contains(reply.Text, TerminationMarker) {
			t.Fatalf("reply to %q = %+v, want terminate with marker stripped", phrase, reply)
		}
	}
}

func TestMockAdapterSummarizesTransactions(t *testing.T) {
	reply, err := NewMockAdapter().Converse(context.Background(), Request{
		UserText: "How much did I spend?",
		Transactions: []banking.Transaction{
			{Amount: -10}, {Amount: -5.5},
		},
	})
	if err != nil {
		t.Fatalf("Converse() error = %v", err)
	}
	if !strings.Contains(reply.Text, "15.50 dollars") {
		t.Fatalf("reply.Text = %q, want spend total", reply.Text)
	}
}

func TestFallbackAdapterUsesFallback(t *testing.T) {
	a := NewFallbackAdapter(errAgent{}, okAgent{text: "fallback"})
	reply, err := a.Converse(context.Background(), Request{UserText: "x"})
	if err != nil {
		t.Fatalf("Converse() error = %v", err)
	}
	if reply.Text != "fallback" {
		t.Fatalf("reply.Text = %q, want fallback", reply.Text)
	}
}

func TestFallbackAdapterSkipsFallbackOnCanceledContext(t *testing.T) {
	fb := &countingAgent{}
	a := NewFallbackAdapter(cancelAgent{}, fb)
	_, err := a.Converse(context.Background(), Request{UserText: "x"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if fb.calls != 0 {
		t.Fatalf("fallback should not be called, calls = %d", fb.calls)
	}
}

func TestHTTPAdapterJSONReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Decode() error = %v", err)
		}
		if req.Caller.AccountID != "acc1" || req.UserText != "balance?" {
			t.Errorf("request = %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"reply":"You have 10 dollars.","terminate":true}`))
	}))
	defer srv.Close()

	reply, err := NewHTTPAdapter(srv.URL).Converse(context.Background(), Request{
		UserText: "balance?",
		Caller:   Caller{Name: "Alice", AccountID: "acc1"},
	})
	if err != nil {
		t.Fatalf("Converse() error = %v", err)
	}
	if reply.Text != "You have 10 dollars." || !reply.Terminate {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestHTTPAdapterStatusErrorWrapsErrAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPAdapter(srv.URL).Converse(context.Background(), Request{UserText: "x"})
	if !errors.Is(err, ErrAgent) {
		t.Fatalf("Converse() error = %v, want ErrAgent", err)
	}
}

func TestConsumeStreamingSSE(t *testing.T) {
	stream := strings.NewReader(strings.Join([]string{
		": keepalive",
		"",
		"data: {\"delta\":\"Hel\"}",
		"",
		"data: {\"delta\":\"lo [HANGUP]\"}",
		"",
		"data: [DONE]",
		"",
	}, "\n"))

	got, err := consumeStreaming(stream)
	if err != nil {
		t.Fatalf("consumeStreaming() error = %v", err)
	}
	if got != "Hello [HANGUP]" {
		t.Fatalf("consumeStreaming() = %q, want %q", got, "Hello [HANGUP]")
	}
}

func TestConsumeStreamingNDJSON(t *testing.T) {
	stream := strings.NewReader(strings.Join([]string{
		"{\"delta\":\"Hi\"}",
		" there",
		"[DONE]",
	}, "\n"))

	got, err := consumeStreaming(stream)
	if err != nil {
		t.Fatalf("consumeStreaming() error = %v", err)
	}
	if got != "Hi there" {
		t.Fatalf("consumeStreaming() = %q, want %q", got, "Hi there")
	}
}

func TestGeminiAdapterSendsPromptAndParsesMarker(t *testing.T) {
	gen := &fakeGenerator{text: "Thanks for calling. [HANGUP]"}
	a := &GeminiAdapter{models: gen, model: "gemini-2.5-flash"}

	reply, err := a.Converse(context.Background(), Request{
		UserText: "that's all",
		Caller:   Caller{Name: "Alice", CustomerID: "c1", AccountID: "acc1"},
		Transactions: []banking.Transaction{
			{Date: "2025-10-01", Description: "Coffee", Amount: -4.5, Type: "debit"},
		},
	})
	if err != nil {
		t.Fatalf("Converse() error = %v", err)
	}
	if reply.Text != "Thanks for calling." || !reply.Terminate {
		t.Fatalf("reply = %+v", reply)
	}
	if gen.model != "gemini-2.5-flash" {
		t.Fatalf("model = %q", gen.model)
	}
	if !strings.Contains(gen.prompt, "Coffee -4.50") || !strings.Contains(gen.prompt, "Caller said: that's all") {
		t.Fatalf("prompt = %q", gen.prompt)
	}
	if !strings.Contains(gen.system, TerminationMarker) {
		t.Fatalf("system instruction does not mention the termination marker")
	}
}

func TestGeminiAdapterErrorWrapsErrAgent(t *testing.T) {
	a := &GeminiAdapter{models: &fakeGenerator{err: errors.New("quota")}, model: "m"}
	if _, err := a.Converse(context.Background(), Request{UserText: "x"}); !errors.Is(err, ErrAgent) {
		t.Fatalf("Converse() error = %v, want ErrAgent", err)
	}
}

func TestBuildPromptLedgerUnavailable(t *testing.T) {
	p := BuildPrompt(Request{UserText: "hi", LedgerUnavailable: true})
	if !strings.Contains(p, "unavailable") {
		t.Fatalf("BuildPrompt() = %q, want unavailable notice", p)
	}
	bal := &banking.Balance{Nickname: "Checking", Amount: 12.5, Currency: "USD"}
	p = BuildPrompt(Request{UserText: "hi", Balance: bal})
	if !strings.Contains(p, "Balance on Checking: 12.50 USD") {
		t.Fatalf("BuildPrompt() = %q, want balance line", p)
	}
}

type fakeGenerator struct {
	text   string
	err    error
	model  string
	prompt string
	system string
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.prompt = contents[0].Parts[0].Text
	}
	if config != nil && config.SystemInstruction != nil && len(config.SystemInstruction.Parts) > 0 {
		f.system = config.SystemInstruction.Parts[0].Text
	}
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: f.text}}},
		}},
	}, nil
}

type errAgent struct{}

func (errAgent) Converse(context.Context, Request) (Reply, error) {
	return Reply{}, errors.New("boom")
}

type okAgent struct {
	text string
}

func (a okAgent) Converse(context.Context, Request) (Reply, error) {
	return Reply{Text: a.text}, nil
}

type cancelAgent struct{}

func (cancelAgent) Converse(context.Context, Request) (Reply, error) {
	return Reply{}, context.Canceled
}

type countingAgent struct {
	calls int
}

func (a *countingAgent) Converse(context.Context, Request) (Reply, error) {
	a.calls++
	return Reply{Text: "counted"}, nil
}
