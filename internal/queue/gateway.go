package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"github.com/kursadbilgin/notify-dispatch/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// TTLSource supplies the default delayed-delivery expiry per channel.
type TTLSource interface {
	TTLOf(ch domain.Channel) time.Duration
}

var _ Publisher = (*Gateway)(nil)

// Gateway publishes envelopes to the live route or to the delay route.
type Gateway struct {
	client  *RabbitMQ
	ttls    TTLSource
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewGateway(client *RabbitMQ, ttls TTLSource, logger *zap.Logger) (*Gateway, error) {
	if client == nil {
		return nil, fmt.Errorf("rabbitmq client is required")
	}
	if ttls == nil {
		return nil, fmt.Errorf("ttl source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Gateway{client: client, ttls: ttls, logger: logger, now: time.Now}, nil
}

func (g *Gateway) SetMetrics(metrics *observability.Metrics) {
	if g == nil {
		return
	}
	g.metrics = metrics
}

func (g *Gateway) PublishSend(ctx context.Context, batch domain.SendBatch) error {
	env, err := NewSendEnvelope(batch)
	if err != nil {
		return err
	}

	t := g.client.Topology()
	if err := g.publish(ctx, t.Exchange, t.RoutingKey, env.publishing(g.now())); err != nil {
		return err
	}

	g.metrics.IncBatchPublished(batch.Channel.String(), "live")
	return nil
}

func (g *Gateway) PublishRecall(ctx context.Context, messageID string) error {
	env, err := NewRecallEnvelope(messageID)
	if err != nil {
		return err
	}

	t := g.client.Topology()
	return g.publish(ctx, t.Exchange, t.RoutingKey, env.publishing(g.now()))
}

// PublishDelayed routes batch through the delayed-message exchange, which
// releases it to the live queue once delay elapses. A non-positive delay
// falls back to the channel's configured TTL.
func (g *Gateway) PublishDelayed(ctx context.Context, batch domain.SendBatch, delay time.Duration) error {
	env, err := NewSendEnvelope(batch)
	if err != nil {
		return err
	}

	delay = g.effectiveDelay(batch.Channel, delay)
	t := g.client.Topology()

	if err := g.publish(ctx, t.DelayExchange, t.RoutingKey, env.delayedPublishing(g.now(), delay)); err != nil {
		return err
	}

	g.metrics.IncBatchPublished(batch.Channel.String(), "delay")
	g.logger.Debug("batch published with delay",
		zap.String("messageId", env.MessageID),
		zap.Int("channel", int(batch.Channel)),
		zap.Duration("delay", delay),
	)
	return nil
}

func (g *Gateway) effectiveDelay(ch domain.Channel, delay time.Duration) time.Duration {
	if delay > 0 {
		return delay
	}
	return g.ttls.TTLOf(ch)
}

func (g *Gateway) publish(ctx context.Context, exchange string, routingKey string, msg amqp.Publishing) error {
	if g == nil || g.client == nil {
		return fmt.Errorf("gateway is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ch, err := g.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	injectTraceContext(ctx, msg.Headers)

	if err := ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish message to exchange %q: %w", exchange, err)
	}

	return nil
}

func (g *Gateway) Close() error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Close()
}
