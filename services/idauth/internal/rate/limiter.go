// Package rate bounds how often a user may request OTP codes.
package rate

import (
	"context"
	"time"
)

// Limiter admits or rejects one event for key. When rejected it returns how
// long until the window resets.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error)
}
