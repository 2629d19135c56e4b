package reliability

import "time"

// Upstream statuses worth another attempt. Twilio's media edge answers 408
// and 425 while a fresh recording is still being published.
var retryableStatus = map[int]bool{
	408: true,
	425: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	return retryableStatus[code]
}

// Error codes the TTS stream-input socket reports when the same request can
// simply be replayed.
var retryableStreamCodes = map[string]bool{
	"rate_limited":              true,
	"resource_exhausted":        true,
	"queue_overflow":            true,
	"concurrent_limit_exceeded": true,
	"error":                     true,
}

// IsRetryableStreamCode classifies an upstream streaming error code.
func IsRetryableStreamCode(code string) bool {
	return retryableStreamCodes[code]
}

// ExponentialBackoff doubles base for every attempt already made and never
// exceeds cap.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if base >= cap {
		return cap
	}
	if attempt <= 0 {
		return base
	}
	if attempt >= 32 {
		return cap
	}
	if d := base << attempt; d > 0 && d < cap {
		return d
	}
	return cap
}
