package confirm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"github.com/kursadbilgin/notify-dispatch/internal/observability"
	"go.uber.org/zap"
)

const confirmTimeout = 10 * time.Second

// DelayedPublisher republishes a batch through the broker's delay route.
type DelayedPublisher interface {
	PublishDelayed(ctx context.Context, batch domain.SendBatch, delay time.Duration) error
}

// LogWriter persists delivery outcomes.
type LogWriter interface {
	Append(ctx context.Context, entry *domain.DeliveryLog) error
}

// Confirmer records the outcome of every task and applies the retry policy
// to failures.
type Confirmer struct {
	logs      LogWriter
	publisher DelayedPublisher
	policy    Policy
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
	newID     func() string
}

func NewConfirmer(logs LogWriter, publisher DelayedPublisher, policy Policy, logger *zap.Logger) (*Confirmer, error) {
	if logs == nil {
		return nil, fmt.Errorf("delivery log writer is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("delayed publisher is required")
	}
	if policy.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: retry limit must not be negative", domain.ErrValidation)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Confirmer{
		logs:      logs,
		publisher: publisher,
		policy:    policy,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

func (c *Confirmer) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
}

// ConfirmSend records the outcome of d. A retryable failure within the retry
// limit is republished as a single-task batch with the attempt incremented;
// anything else is marked terminal.
func (c *Confirmer) ConfirmSend(ctx context.Context, d domain.Delivery, providerMessageID string, cause error) domain.DeliveryOutcome {
	if ctx == nil {
		ctx = context.Background()
	}
	// Outcomes must be recorded even while the dispatcher is shutting down.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), confirmTimeout)
	defer cancel()

	if d.Task.Attempt < 1 {
		d.Task.Attempt = 1
	}
	outcome := domain.NewOutcome(d, providerMessageID, cause)
	entry := c.newEntry(outcome)
	channelName := d.Channel.String()
	logger := observability.WithContextLogger(c.logger, ctx).With(observability.DeliveryFields(d)...)

	if outcome.Success {
		c.metrics.IncDeliverySent(channelName)
		logger.Info("task delivered", zap.String("providerMessageId", providerMessageID))
		c.append(ctx, logger, entry)
		return outcome
	}

	retryable, reason := Classify(cause)
	switch {
	case retryable && c.policy.CanRetry(d.Task.Attempt):
		next := d
		next.Task.Attempt++
		delay := c.policy.NextDelay(d.Task.Attempt)

		if err := c.publisher.PublishDelayed(ctx, next.Batch(), delay); err != nil {
			entry.Terminal = true
			c.metrics.IncDeliveryFailed(channelName, "republish_failed")
			logger.Error("task failed and could not be republished",
				zap.NamedError("cause", cause),
				zap.Error(err),
			)
			break
		}

		entry.RetryScheduled = true
		c.metrics.IncRetryScheduled(channelName)
		logger.Warn("task failed, retry scheduled",
			zap.String("reason", reason),
			zap.Int("nextAttempt", next.Task.Attempt),
			zap.Duration("delay", delay),
			zap.Error(cause),
		)
	case retryable:
		entry.Terminal = true
		c.metrics.IncDeliveryFailed(channelName, "retry_exhausted")
		logger.Error("task failed, retries exhausted", zap.String("reason", reason), zap.Error(cause))
	default:
		entry.Terminal = true
		c.metrics.IncDeliveryFailed(channelName, reason)
		logger.Error("task failed permanently", zap.String("reason", reason), zap.Error(cause))
	}

	c.append(ctx, logger, entry)
	return outcome
}

func (c *Confirmer) newEntry(outcome domain.DeliveryOutcome) *domain.DeliveryLog {
	entry := &domain.DeliveryLog{
		ID:        c.newID(),
		TaskID:    outcome.TaskID,
		MessageID: outcome.MessageID,
		DedupKey:  outcome.DedupKey,
		Channel:   outcome.Channel,
		Attempt:   outcome.Attempt,
		Success:   outcome.Success,
		CreatedAt: c.now().UTC(),
	}
	if outcome.ProviderMessageID != "" {
		value := outcome.ProviderMessageID
		entry.ProviderMessageID = &value
	}
	if outcome.FailureCause != nil {
		value := outcome.FailureCause.Error()
		entry.FailureCause = &value
	}
	return entry
}

func (c *Confirmer) append(ctx context.Context, logger *zap.Logger, entry *domain.DeliveryLog) {
	if err := c.logs.Append(ctx, entry); err != nil {
		logger.Warn("failed to persist delivery log", zap.Error(err))
	}
}
