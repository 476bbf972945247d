package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"github.com/kursadbilgin/notify-dispatch/internal/observability"
	"github.com/kursadbilgin/notify-dispatch/internal/queue"
	"github.com/kursadbilgin/notify-dispatch/internal/workerpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	tracerName         = "github.com/kursadbilgin/notify-dispatch/internal/dispatch"
	minConsumerWorkers = 1
)

// Pools routes a job to the worker pool owned by a channel.
type Pools interface {
	Submit(ch domain.Channel, job workerpool.Job) error
}

// JobFactory builds the pool job for one delivery.
type JobFactory interface {
	Job(d domain.Delivery) workerpool.Job
}

// RecallHandler receives RECALL envelopes.
type RecallHandler func(ctx context.Context, messageID string) error

// Consumer turns broker envelopes into pool jobs. It never blocks on a full
// pool: a rejected submit is confirmed as a failure right away so the retry
// policy can requeue it.
type Consumer struct {
	pools     Pools
	jobs      JobFactory
	confirmer Confirmer
	recall    RecallHandler
	tracer    trace.Tracer
	logger    *zap.Logger
	metrics   *observability.Metrics
}

func NewConsumer(pools Pools, jobs JobFactory, confirmer Confirmer, logger *zap.Logger) (*Consumer, error) {
	if pools == nil {
		return nil, fmt.Errorf("worker pools are required")
	}
	if jobs == nil {
		return nil, fmt.Errorf("job factory is required")
	}
	if confirmer == nil {
		return nil, fmt.Errorf("confirmer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Consumer{
		pools:     pools,
		jobs:      jobs,
		confirmer: confirmer,
		tracer:    otel.Tracer(tracerName),
		logger:    logger,
	}
	c.recall = c.logRecall
	return c, nil
}

func (c *Consumer) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
}

// SetTracerProvider replaces the global tracer provider for dispatch spans.
func (c *Consumer) SetTracerProvider(tp trace.TracerProvider) {
	if c == nil || tp == nil {
		return
	}
	c.tracer = tp.Tracer(tracerName)
}

func (c *Consumer) SetRecallHandler(handler RecallHandler) {
	if c == nil || handler == nil {
		return
	}
	c.recall = handler
}

// Run consumes from source with the given number of concurrent consumers
// until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, source queue.Consumer, concurrency int) error {
	if source == nil {
		return fmt.Errorf("queue consumer is required")
	}
	if concurrency < minConsumerWorkers {
		concurrency = minConsumerWorkers
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		consumerID := i + 1

		g.Go(func() error {
			c.logger.Info("dispatch consumer started", zap.Int("consumerId", consumerID))

			if err := source.Consume(groupCtx, c.OnMessage); err != nil {
				c.logger.Error("dispatch consumer stopped with error",
					zap.Int("consumerId", consumerID),
					zap.Error(err),
				)
				return err
			}

			c.logger.Info("dispatch consumer stopped", zap.Int("consumerId", consumerID))
			return nil
		})
	}

	return g.Wait()
}

// OnMessage handles one envelope. Errors wrapping queue.ErrMalformedMessage
// are terminal for the broker message.
func (c *Consumer) OnMessage(ctx context.Context, env queue.Envelope) error {
	if ctx == nil {
		ctx = context.Background()
	}

	switch env.Kind {
	case queue.KindSend:
		return c.onSend(ctx, env)
	case queue.KindRecall:
		return c.onRecall(ctx, env)
	default:
		c.logger.Error("dropping envelope of unknown kind",
			zap.String("kind", string(env.Kind)),
			zap.String("messageId", env.MessageID),
		)
		return fmt.Errorf("%w: unknown kind %q", queue.ErrMalformedMessage, env.Kind)
	}
}

func (c *Consumer) onSend(ctx context.Context, env queue.Envelope) error {
	ctx, span := c.tracer.Start(ctx, "dispatch.batch",
		trace.WithAttributes(attribute.String("dispatch.messageId", env.MessageID)),
	)
	defer span.End()

	batch, err := env.Batch()
	if err != nil {
		span.SetStatus(codes.Error, "decode failed")
		c.logger.Error("failed to decode send batch",
			zap.String("messageId", env.MessageID),
			zap.Error(err),
		)
		if !errors.Is(err, queue.ErrMalformedMessage) {
			err = fmt.Errorf("%w: %v", queue.ErrMalformedMessage, err)
		}
		return err
	}

	channelName := batch.Channel.String()
	span.SetAttributes(
		attribute.String("dispatch.channel", channelName),
		attribute.Int("dispatch.tasks", len(batch.Tasks)),
	)

	rejected := 0
	for _, d := range batch.Deliveries() {
		if d.Task.Attempt < 1 {
			d.Task.Attempt = 1
		}

		if err := c.pools.Submit(d.Channel, withSpanContext(c.jobs.Job(d), span.SpanContext())); err != nil {
			rejected++
			c.metrics.IncPoolRejected(channelName)
			c.confirmer.ConfirmSend(ctx, d, "", err)
			continue
		}
		c.metrics.IncTaskSubmitted(channelName)
	}

	if rejected > 0 {
		span.SetAttributes(attribute.Int("dispatch.rejected", rejected))
		c.logger.Warn("pool rejected tasks",
			zap.String("messageId", env.MessageID),
			zap.String("channel", channelName),
			zap.Int("rejected", rejected),
			zap.Int("tasks", len(batch.Tasks)),
		)
	}

	return nil
}

func (c *Consumer) onRecall(ctx context.Context, env queue.Envelope) error {
	messageID, err := env.RecallID()
	if err != nil {
		c.logger.Error("failed to decode recall", zap.Error(err))
		return err
	}

	if err := c.recall(ctx, messageID); err != nil {
		return fmt.Errorf("failed to handle recall: %w", err)
	}
	return nil
}

// logRecall is the default recall handler. Recall has no delivery effect.
func (c *Consumer) logRecall(_ context.Context, messageID string) error {
	c.logger.Info("recall received", zap.String("messageId", messageID))
	return nil
}

// withSpanContext runs job under the batch span so sender calls, confirmations
// and republished retries join the batch's trace.
func withSpanContext(job workerpool.Job, sc trace.SpanContext) workerpool.Job {
	if !sc.IsValid() {
		return job
	}
	return func(ctx context.Context) {
		job(trace.ContextWithSpanContext(ctx, sc))
	}
}
