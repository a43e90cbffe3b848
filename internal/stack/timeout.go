package stack

import (
	"context"
	"time"
)

// DefaultTimeout bounds a single resource operation, including image pulls
// and readiness checks.
const DefaultTimeout = 5 * time.Minute

// WithTimeout wraps a context with a per-resource timeout.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
