package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/antoniostano/nessievoice/internal/banking"
)

// ErrAgent wraps every conversation agent failure.
var ErrAgent = errors.New("conversation agent failed")

// Caller identifies the verified person on the line.
type Caller struct {
	Name       string `json:"name"`
	CustomerID string `json:"customer_id"`
	AccountID  string `json:"account_id"`
}

// Request is one conversational turn sent to the agent.
type Request struct {
	CallID       string                `json:"call_id"`
	Turn         int                   `json:"turn"`
	UserText     string                `json:"user_text"`
	Caller       Caller                `json:"caller"`
	Transactions []banking.Transaction `json:"transactions,omitempty"`
	Balance      *banking.Balance      `json:"balance,omitempty"`
	// LedgerUnavailable is set when account data could not be fetched for this turn.
	LedgerUnavailable bool `json:"ledger_unavailable,omitempty"`
}

// Reply is the agent's answer with the termination marker already removed.
type Reply struct {
	Text      string `json:"text"`
	Terminate bool   `json:"terminate"`
}

// Agent produces the next spoken reply in a verified conversation.
type Agent interface {
	Converse(ctx context.Context, req Request) (Reply, error)
}

// Config controls adapter construction.
type Config struct {
	Mode         string
	GoogleAPIKey string
	GeminiModel  string
	HTTPURL      string
}

func NewAdapter(ctx context.Context, cfg Config) (Agent, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoAdapter(ctx, cfg)
	case "gemini":
		if strings.TrimSpace(cfg.GoogleAPIKey) == "" {
			return nil, errors.New("GOOGLE_API_KEY is required for gemini mode")
		}
		return NewGeminiAdapter(ctx, GeminiConfig{APIKey: cfg.GoogleAPIKey, Model: cfg.GeminiModel})
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("agent HTTP url is required for http mode")
		}
		return NewHTTPAdapter(cfg.HTTPURL), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported agent mode %q", cfg.Mode)
	}
}

// newAutoAdapter prefers Gemini, backed by the HTTP agent when both are
// configured. The mock is only used when nothing real is available.
func newAutoAdapter(ctx context.Context, cfg Config) (Agent, error) {
	var secondary Agent
	if httpURL := strings.TrimSpace(cfg.HTTPURL); httpURL != "" {
		secondary = NewHTTPAdapter(httpURL)
	}

	if strings.TrimSpace(cfg.GoogleAPIKey) != "" {
		gemini, err := NewGeminiAdapter(ctx, GeminiConfig{APIKey: cfg.GoogleAPIKey, Model: cfg.GeminiModel})
		if err != nil {
			return nil, err
		}
		if secondary != nil {
			return NewFallbackAdapter(gemini, secondary), nil
		}
		return gemini, nil
	}
	if secondary != nil {
		return secondary, nil
	}
	return NewMockAdapter(), nil
}
