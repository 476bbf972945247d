package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
)

// Publisher places send, recall and retry messages on the broker.
type Publisher interface {
	PublishSend(ctx context.Context, batch domain.SendBatch) error
	PublishRecall(ctx context.Context, messageID string) error
	PublishDelayed(ctx context.Context, batch domain.SendBatch, delay time.Duration) error
}

// MessageHandler handles a consumed envelope. Returning an error wrapping
// ErrMalformedMessage dead-letters the delivery; any other error requeues it.
type MessageHandler func(ctx context.Context, env Envelope) error

// Consumer consumes envelopes from the live dispatch queue.
type Consumer interface {
	Consume(ctx context.Context, handler MessageHandler) error
	Close() error
}

// Topology names the exchanges and queues the dispatcher declares.
type Topology struct {
	Exchange      string
	Queue         string
	RoutingKey    string
	DelayExchange string
}

func (t Topology) Validate() error {
	for name, value := range map[string]string{
		"exchange":       t.Exchange,
		"queue":          t.Queue,
		"routing key":    t.RoutingKey,
		"delay exchange": t.DelayExchange,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: rabbitmq %s is required", domain.ErrValidation, name)
		}
	}
	if t.Exchange == t.DelayExchange {
		return fmt.Errorf("%w: delay route must differ from the live route", domain.ErrValidation)
	}
	return nil
}

// DeadLetterExchange receives rejected deliveries from the live queue.
func (t Topology) DeadLetterExchange() string {
	return t.Exchange + ".dlx"
}

// DeadLetterQueue parks rejected deliveries for inspection, e.g. dlq.dispatch.send.
func (t Topology) DeadLetterQueue() string {
	return fmt.Sprintf("dlq.%s", t.Queue)
}
