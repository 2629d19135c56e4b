package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/antoniostano/nessievoice/internal/directory"
)

// MockAdapter provides deterministic local replies when no model is configured.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

// Closing phrases, in normalized form.
var mockClosings = map[string]bool{
	"no":            true,
	"nope":          true,
	"nothing":       true,
	"nothingelse":   true,
	"nothanks":      true,
	"nothankyou":    true,
	"bye":           true,
	"goodbye":       true,
	"thatsall":      true,
	"thatsit":       true,
	"nothatsall":    true,
	"nothatsit":     true,
	"imdone":        true,
	"thatwillbeall": true,
}

func (a *MockAdapter) Converse(ctx context.Context, req Request) (Reply, error) {
	select {
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	default:
	}

	if mockClosings[directory.Normalize(req.UserText)] {
		return ParseReply("Thank you for calling. Goodbye. " + TerminationMarker), nil
	}

	text := strings.TrimSpace(req.UserText)
	if text == "" {
		text = "nothing"
	}
	reply := fmt.Sprintf("You asked about %s.", text)
	switch {
	case req.LedgerUnavailable:
		reply += " I can't reach your account details right now."
	case len(req.Transactions) > 0:
		var spent float64
		for _, tx := range req.Transactions {
			spent -= tx.Amount
		}
		reply += fmt.Sprintf(" Your last %d purchases add up to %.2f dollars.", len(req.Transactions), spent)
	}
	return ParseReply(reply), nil
}
