package confirm

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"github.com/kursadbilgin/notify-dispatch/internal/provider"
	"github.com/kursadbilgin/notify-dispatch/internal/workerpool"
)

// Policy bounds redelivery of failed tasks. A task is republished at most
// MaxRetries times. With a zero BaseDelay the channel TTL is used as the
// delay; otherwise the delay doubles per attempt up to MaxDelay.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// NextDelay returns the delay before the retry following attempt. Zero means
// "use the channel TTL".
func (p Policy) NextDelay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// CanRetry reports whether another republish is allowed after attempt.
func (p Policy) CanRetry(attempt int) bool {
	return attempt <= p.MaxRetries
}

// Classify decides whether cause is worth retrying and names it for metrics.
func Classify(cause error) (retryable bool, reason string) {
	var providerErr *provider.ProviderError

	switch {
	case cause == nil:
		return false, ""
	case errors.Is(cause, domain.ErrUnrecoverable):
		return false, "unrecoverable"
	case errors.Is(cause, workerpool.ErrPoolSaturated):
		return true, "pool_saturated"
	case errors.Is(cause, workerpool.ErrPoolClosed):
		return true, "pool_closed"
	case errors.Is(cause, workerpool.ErrNoPool):
		return false, "no_pool"
	case errors.Is(cause, domain.ErrNotFound), errors.Is(cause, domain.ErrValidation):
		return false, "invalid_task"
	case errors.Is(cause, context.Canceled):
		return true, "canceled"
	case errors.As(cause, &providerErr):
		if providerErr.Transient {
			return true, "transient_error"
		}
		return false, "permanent_error"
	case provider.IsTransient(cause):
		return true, "transient_error"
	default:
		return true, "unknown_error"
	}
}
