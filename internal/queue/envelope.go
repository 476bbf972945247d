package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// HeaderMessageType carries the envelope kind on every published message.
const HeaderMessageType = "messageType"

var ErrMalformedMessage = errors.New("malformed message")

// Kind tags what an envelope body holds.
type Kind string

const (
	KindSend   Kind = "SEND"
	KindRecall Kind = "RECALL"
)

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	switch k {
	case KindSend, KindRecall:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown message type %q", ErrMalformedMessage, s)
}

// Envelope is the broker message: a kind header plus a serialized SendBatch
// (SEND) or a bare message id (RECALL).
type Envelope struct {
	Kind      Kind
	MessageID string
	Body      []byte
}

func NewSendEnvelope(batch domain.SendBatch) (Envelope, error) {
	if err := batch.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("invalid send batch: %w", err)
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: failed to marshal send batch: %v", domain.ErrUnrecoverable, err)
	}

	return Envelope{Kind: KindSend, MessageID: batch.Tasks[0].MessageID, Body: body}, nil
}

func NewRecallEnvelope(messageID string) (Envelope, error) {
	id := strings.TrimSpace(messageID)
	if id == "" {
		return Envelope{}, fmt.Errorf("%w: message id is required", domain.ErrValidation)
	}
	return Envelope{Kind: KindRecall, MessageID: id, Body: []byte(id)}, nil
}

// Batch decodes a SEND body.
func (e Envelope) Batch() (domain.SendBatch, error) {
	if e.Kind != KindSend {
		return domain.SendBatch{}, fmt.Errorf("%w: %s envelope has no batch", ErrMalformedMessage, e.Kind)
	}

	var batch domain.SendBatch
	if err := json.Unmarshal(e.Body, &batch); err != nil {
		return domain.SendBatch{}, fmt.Errorf("%w: invalid batch json: %v", ErrMalformedMessage, err)
	}
	if err := batch.Validate(); err != nil {
		return domain.SendBatch{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	return batch, nil
}

// RecallID decodes a RECALL body.
func (e Envelope) RecallID() (string, error) {
	if e.Kind != KindRecall {
		return "", fmt.Errorf("%w: %s envelope has no recall id", ErrMalformedMessage, e.Kind)
	}
	id := strings.TrimSpace(string(e.Body))
	if id == "" {
		return "", fmt.Errorf("%w: empty recall id", ErrMalformedMessage)
	}
	return id, nil
}

func (e Envelope) publishing(now time.Time) amqp.Publishing {
	contentType := "application/json"
	if e.Kind == KindRecall {
		contentType = "text/plain"
	}

	return amqp.Publishing{
		Headers:      amqp.Table{HeaderMessageType: string(e.Kind)},
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		Timestamp:    now.UTC(),
		MessageId:    e.MessageID,
		Body:         e.Body,
	}
}

// HeaderDelay is read by the delayed-message exchange: milliseconds to hold
// the message before routing it.
const HeaderDelay = "x-delay"

func (e Envelope) delayedPublishing(now time.Time, delay time.Duration) amqp.Publishing {
	p := e.publishing(now)
	ms := delay.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	p.Headers[HeaderDelay] = ms
	return p
}

func envelopeFromDelivery(d amqp.Delivery) (Envelope, error) {
	raw, ok := d.Headers[HeaderMessageType]
	if !ok {
		return Envelope{}, fmt.Errorf("%w: missing %s header", ErrMalformedMessage, HeaderMessageType)
	}

	var header string
	switch v := raw.(type) {
	case string:
		header = v
	case []byte:
		header = string(v)
	default:
		return Envelope{}, fmt.Errorf("%w: %s header has type %T", ErrMalformedMessage, HeaderMessageType, raw)
	}

	kind, err := ParseKind(header)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{Kind: kind, MessageID: d.MessageId, Body: d.Body}, nil
}
