package callflow

import (
	"context"
	"errors"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/antoniostano/nessievoice/internal/banking"
	"github.com/antoniostano/nessievoice/internal/observability"
	"github.com/antoniostano/nessievoice/internal/reliability"
	"github.com/antoniostano/nessievoice/internal/session"
)

// conversationTurn is what the agent needs for one verified turn.
type conversationTurn struct {
	text              string
	transactions      []banking.Transaction
	balance           *banking.Balance
	ledgerUnavailable bool
}

// gatherTurn transcribes the caller while account data loads. A transcription
// failure cancels the ledger lookups; a ledger failure only marks the turn as
// missing account data.
func (e *Engine) gatherTurn(ctx context.Context, s *session.CallSession, recordingURL string) (conversationTurn, error) {
	var turn conversationTurn
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		text, err := e.listen(gctx, recordingURL)
		turn.text = text
		return err
	})

	if e.ledger != nil && s.AccountID != "" {
		var txErr, balErr error
		g.Go(func() error {
			started := time.Now()
			turn.transactions, txErr = e.ledger.RecentTransactions(gctx, s.AccountID, e.cfg.TransactionCount)
			e.metrics.ObserveStage(observability.StageLedger, time.Since(started))
			return nil
		})
		g.Go(func() error {
			balance, err := e.ledger.AccountBalance(gctx, s.AccountID)
			if err == nil {
				turn.balance = &balance
			}
			balErr = err
			return nil
		})
		if err := g.Wait(); err != nil {
			return conversationTurn{}, err
		}
		if txErr != nil {
			turn.ledgerUnavailable = true
			e.countProviderError("ledger", txErr)
			e.logger.Warn("recent transactions unavailable", "call_id", s.CallID, "error", txErr)
		}
		if balErr != nil && !errors.Is(balErr, banking.ErrAccountNotFound) {
			e.countProviderError("ledger", balErr)
			e.logger.Warn("account balance unavailable", "call_id", s.CallID, "error", balErr)
		}
		return turn, nil
	}

	if err := g.Wait(); err != nil {
		return conversationTurn{}, err
	}
	return turn, nil
}

// providerErr tags a collaborator failure with the collaborator's name.
type providerErr struct {
	provider string
	err      error
}

func (e *providerErr) Error() string {
	return e.provider + ": " + e.err.Error()
}

func (e *providerErr) Unwrap() error {
	return e.err
}

func providerError(provider string, err error) error {
	return &providerErr{provider: provider, err: err}
}

func errorCode(err error) string {
	var se *reliability.StatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &se):
		return strconv.Itoa(se.Code)
	default:
		return "error"
	}
}

func (e *Engine) countProviderError(provider string, err error) {
	if e.metrics != nil {
		e.metrics.ProviderErrors.WithLabelValues(provider, errorCode(err)).Inc()
	}
}

// report logs the callback and updates call metrics.
func (e *Engine) report(cb Callback, res turnResult, elapsed time.Duration) {
	if e.metrics != nil {
		e.metrics.Callbacks.WithLabelValues(string(cb.Step), res.outcome).Inc()
		if res.from != "" && res.to != "" && res.from != res.to {
			e.metrics.PhaseTransitions.WithLabelValues(string(res.from), string(res.to)).Inc()
		}
		if res.created && cb.Step == StepStart {
			e.metrics.SessionEvents.WithLabelValues("started").Inc()
		}
		if res.to == session.PhaseTerminated || res.outcome == "timeout" {
			e.metrics.SessionEvents.WithLabelValues("ended").Inc()
		}
		var pe *providerErr
		if errors.As(res.err, &pe) {
			e.metrics.ProviderErrors.WithLabelValues(pe.provider, errorCode(pe.err)).Inc()
		}
		e.metrics.ActiveCalls.Set(float64(e.sessions.ActiveCount()))
	}

	attrs := []any{
		"call_id", cb.CallID,
		"step", string(cb.Step),
		"phase_from", string(res.from),
		"phase_to", string(res.to),
		"outcome", res.outcome,
		"duration_ms", elapsed.Milliseconds(),
	}
	switch res.outcome {
	case "failed", "timeout", "out_of_order", "invalid":
		e.logger.Warn("callback ended call", append(attrs, "error", res.err)...)
	default:
		if res.err != nil {
			attrs = append(attrs, "reason", res.err.Error())
		}
		e.logger.Info("callback handled", attrs...)
	}
}
