package reliability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{404, false},
		{408, true},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestIsRetryableStreamCode(t *testing.T) {
	for _, code := range []string{"rate_limited", "queue_overflow", "concurrent_limit_exceeded"} {
		if !IsRetryableStreamCode(code) {
			t.Fatalf("IsRetryableStreamCode(%q) = false, want true", code)
		}
	}
	if IsRetryableStreamCode("invalid_api_key") {
		t.Fatalf("IsRetryableStreamCode(invalid_api_key) = true, want false")
	}
}

func TestExponentialBackoffDoubles(t *testing.T) {
	if got := ExponentialBackoff(2, 100*time.Millisecond, time.Second); got != 400*time.Millisecond {
		t.Fatalf("attempt 2 = %v, want 400ms", got)
	}
	if got := ExponentialBackoff(3, time.Second, time.Second); got != time.Second {
		t.Fatalf("base at cap = %v, want 1s", got)
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}

func TestDoRetriesTransientStatus(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3, Base: time.Millisecond, Cap: 2 * time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return &StatusError{Service: "ledger", Code: 503}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnPermanentStatus(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 5, Base: time.Millisecond}, func(context.Context) error {
		calls++
		return &StatusError{Service: "ledger", Code: 404}
	})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 404 {
		t.Fatalf("Do() error = %v, want status 404", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoHonoursCustomClassifier(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Policy{
		Attempts: 4,
		Base:     time.Millisecond,
		Retry:    func(error) bool { return false },
	}, func(context.Context) error {
		calls++
		return errors.New("transport")
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryableSkipsContextErrors(t *testing.T) {
	if Retryable(context.Canceled) {
		t.Fatalf("Retryable(context.Canceled) = true, want false")
	}
	if !Retryable(errors.New("connection reset")) {
		t.Fatalf("Retryable(transport error) = false, want true")
	}
}
