package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
)

// RabbitMQ manages RabbitMQ connectivity and topology declaration.
type RabbitMQ struct {
	url      string
	topology Topology

	mu          sync.RWMutex
	reconnectMu sync.Mutex
	conn        *amqp.Connection
}

func NewRabbitMQ(url string, topology Topology) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	if err := topology.Validate(); err != nil {
		return nil, err
	}

	r := &RabbitMQ{url: url, topology: topology}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	return conn.Close()
}

func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		if err := r.ensureConnected(ctx); err != nil {
			return nil, err
		}
		r.mu.RLock()
		conn = r.conn
		r.mu.RUnlock()
	}

	ch, err := conn.Channel()
	if err != nil {
		if errReconnect := r.reconnectWithBackoff(ctx); errReconnect != nil {
			return nil, errReconnect
		}

		r.mu.RLock()
		conn = r.conn
		r.mu.RUnlock()

		ch, err = conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("failed to create rabbitmq channel after reconnect: %w", err)
		}
	}

	if err := declareTopology(ch, r.topology); err != nil {
		_ = ch.Close()
		return nil, err
	}

	return ch, nil
}

func (r *RabbitMQ) ensureConnected(ctx context.Context) error {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	if conn != nil && !conn.IsClosed() {
		return nil
	}

	return r.reconnectWithBackoff(ctx)
}

func (r *RabbitMQ) reconnectWithBackoff(ctx context.Context) error {
	r.reconnectMu.Lock()
	defer r.reconnectMu.Unlock()

	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()
	if conn != nil && !conn.IsClosed() {
		return nil
	}

	wait := reconnectBackoff
	for {
		newConn, err := amqp.Dial(r.url)
		if err == nil {
			r.mu.Lock()
			oldConn := r.conn
			r.conn = newConn
			r.mu.Unlock()

			if oldConn != nil && !oldConn.IsClosed() {
				_ = oldConn.Close()
			}

			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("rabbitmq reconnect canceled: %w", ctx.Err())
		case <-time.After(wait):
		}

		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}
}

// Ping reports whether the broker connection is currently open. It never
// dials.
func (r *RabbitMQ) Ping(context.Context) error {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return fmt.Errorf("rabbitmq connection is closed")
	}
	return nil
}

func (r *RabbitMQ) Topology() Topology {
	return r.topology
}

// DelayExchangeType is the exchange type of the rabbitmq_delayed_message_exchange
// plugin. It holds each message for its own x-delay header, so retries with
// different delays never queue behind each other.
const DelayExchangeType = "x-delayed-message"

// topologyDeclarer is the slice of *amqp.Channel used to declare the topology.
type topologyDeclarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// declareTopology sets up three routes:
//   - live: Exchange -> Queue, rejected deliveries dead-letter to the DLQ;
//   - delay: DelayExchange (delayed-message plugin) -> Queue once x-delay elapses;
//   - dead letter: DeadLetterExchange -> DeadLetterQueue.
func declareTopology(ch topologyDeclarer, t Topology) error {
	exchanges := []struct {
		name string
		kind string
		args amqp.Table
	}{
		{name: t.DeadLetterExchange(), kind: amqp.ExchangeDirect},
		{name: t.Exchange, kind: amqp.ExchangeDirect},
		{name: t.DelayExchange, kind: DelayExchangeType, args: amqp.Table{"x-delayed-type": amqp.ExchangeDirect}},
	}
	for _, e := range exchanges {
		if err := ch.ExchangeDeclare(e.name, e.kind, true, false, false, false, e.args); err != nil {
			return fmt.Errorf("failed to declare exchange %q: %w", e.name, err)
		}
	}

	queues := []struct {
		name string
		args amqp.Table
	}{
		{name: t.DeadLetterQueue()},
		{
			name: t.Queue,
			args: amqp.Table{
				"x-dead-letter-exchange":    t.DeadLetterExchange(),
				"x-dead-letter-routing-key": t.RoutingKey,
			},
		},
	}
	for _, q := range queues {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", q.name, err)
		}
	}

	bindings := []struct {
		queue    string
		exchange string
	}{
		{queue: t.DeadLetterQueue(), exchange: t.DeadLetterExchange()},
		{queue: t.Queue, exchange: t.Exchange},
		{queue: t.Queue, exchange: t.DelayExchange},
	}
	for _, b := range bindings {
		if err := ch.QueueBind(b.queue, t.RoutingKey, b.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %q to %q: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}
