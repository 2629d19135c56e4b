package agent

import (
	"context"
	"errors"
	"fmt"
)

// FallbackAdapter attempts a primary adapter first and falls back on error.
type FallbackAdapter struct {
	primary  Agent
	fallback Agent
}

func NewFallbackAdapter(primary Agent, fallback Agent) *FallbackAdapter {
	return &FallbackAdapter{
		primary:  primary,
		fallback: fallback,
	}
}

func (a *FallbackAdapter) Converse(ctx context.Context, req Request) (Reply, error) {
	if a == nil || a.primary == nil {
		if a != nil && a.fallback != nil {
			return a.fallback.Converse(ctx, req)
		}
		return Reply{}, fmt.Errorf("%w: fallback adapter misconfigured", ErrAgent)
	}

	reply, err := a.primary.Converse(ctx, req)
	if err == nil {
		return reply, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || a.fallback == nil {
		return Reply{}, err
	}

	fallbackReply, fallbackErr := a.fallback.Converse(ctx, req)
	if fallbackErr != nil {
		return Reply{}, fmt.Errorf("primary adapter error: %w; fallback adapter error: %v", err, fallbackErr)
	}
	return fallbackReply, nil
}
