package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"github.com/kursadbilgin/notify-dispatch/internal/observability"
	"github.com/kursadbilgin/notify-dispatch/internal/provider"
	"github.com/kursadbilgin/notify-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/notify-dispatch/internal/workerpool"
	"go.uber.org/zap"
)

// AccountResolver finds the provider account a delivery is sent from.
type AccountResolver interface {
	Resolve(ctx context.Context, ch domain.Channel, name string) (*domain.Account, error)
}

// Confirmer records the outcome of one task.
type Confirmer interface {
	ConfirmSend(ctx context.Context, d domain.Delivery, providerMessageID string, cause error) domain.DeliveryOutcome
}

// Executor is the unit of work a pool worker runs for one task: resolve the
// account, hand the task to the channel sender, confirm the outcome.
type Executor struct {
	accounts  AccountResolver
	sender    provider.Sender
	confirmer Confirmer
	throttle  ratelimit.RateLimiter
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewExecutor(accounts AccountResolver, sender provider.Sender, confirmer Confirmer, logger *zap.Logger) (*Executor, error) {
	if accounts == nil {
		return nil, fmt.Errorf("account resolver is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("channel sender is required")
	}
	if confirmer == nil {
		return nil, fmt.Errorf("confirmer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Executor{
		accounts:  accounts,
		sender:    sender,
		confirmer: confirmer,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (e *Executor) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

// SetThrottle makes every send wait on a limiter shared across instances.
func (e *Executor) SetThrottle(limiter ratelimit.RateLimiter) {
	if e == nil {
		return
	}
	e.throttle = limiter
}

// Job wraps d for submission to a worker pool.
func (e *Executor) Job(d domain.Delivery) workerpool.Job {
	return func(ctx context.Context) {
		e.Execute(ctx, d)
	}
}

// Execute always confirms exactly once, whatever the sender does.
func (e *Executor) Execute(ctx context.Context, d domain.Delivery) domain.DeliveryOutcome {
	if ctx == nil {
		ctx = context.Background()
	}

	channelName := d.Channel.String()
	e.metrics.IncWorkerInFlight(channelName)
	defer e.metrics.DecWorkerInFlight(channelName)

	providerMessageID, err := e.send(ctx, d, channelName)
	return e.confirmer.ConfirmSend(ctx, d, providerMessageID, err)
}

func (e *Executor) send(ctx context.Context, d domain.Delivery, channelName string) (providerMessageID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("channel sender panicked",
				append(observability.DeliveryFields(d), zap.Any("panic", r))...,
			)
			providerMessageID = ""
			err = fmt.Errorf("%w: channel sender panicked: %v", domain.ErrUnrecoverable, r)
		}
	}()

	account, err := e.accounts.Resolve(ctx, d.Channel, d.Sender)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// Senders fall back to their configured endpoint.
		account = &domain.Account{Channel: d.Channel, Name: d.Sender}
	case err != nil:
		return "", fmt.Errorf("failed to resolve account: %w", err)
	}

	if e.throttle != nil {
		if err := e.throttle.Wait(ctx, "provider:"+channelName); err != nil {
			return "", fmt.Errorf("provider throttle wait failed: %w", err)
		}
	}

	start := e.now()
	providerMessageID, err = e.sender.Send(ctx, *account, d)
	e.metrics.ObserveSendDuration(channelName, e.now().Sub(start))

	return providerMessageID, err
}
