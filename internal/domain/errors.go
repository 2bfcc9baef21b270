package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors used for failure classification across the posting and
// reconciliation paths.
var (
	// ErrPlanning wraps a store read failure during batch planning.
	// Planning failures abort the whole run; the next trigger retries.
	ErrPlanning = errors.New("planning failed")

	// ErrNoChannel means no channel is mapped for an ad's city at the
	// moment of dispatch.
	ErrNoChannel = errors.New("no channel mapped for city")

	// ErrNoPhotos means an ad carries no usable photo references and
	// cannot be posted as a media group.
	ErrNoPhotos = errors.New("ad has no photos")
)

// RateLimitedError is returned by the delivery client when Telegram answers
// 429. RetryAfter carries the server-suggested wait.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}
