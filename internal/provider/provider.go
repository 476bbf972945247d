package provider

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
)

// Sender is the channel sender seam. It delivers one task using the
// resolved account and returns the provider's message id.
type Sender interface {
	Send(ctx context.Context, account domain.Account, delivery domain.Delivery) (string, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, account domain.Account, delivery domain.Delivery) (string, error)

func (f SenderFunc) Send(ctx context.Context, account domain.Account, delivery domain.Delivery) (string, error) {
	return f(ctx, account, delivery)
}

const routerSenderName = "router"

var _ Sender = (*Router)(nil)

// Router picks the sender registered for a delivery's channel. It is
// populated at startup and read-only afterwards.
type Router struct {
	senders  map[domain.Channel]Sender
	fallback Sender
}

func NewRouter(fallback Sender) *Router {
	return &Router{senders: make(map[domain.Channel]Sender), fallback: fallback}
}

func (r *Router) Register(ch domain.Channel, sender Sender) {
	r.senders[ch] = sender
}

func (r *Router) Send(ctx context.Context, account domain.Account, delivery domain.Delivery) (string, error) {
	sender, ok := r.senders[delivery.Channel]
	if !ok {
		sender = r.fallback
	}
	if sender == nil {
		return "", &ProviderError{
			Sender:    routerSenderName,
			Message:   fmt.Sprintf("no sender registered for channel %s", delivery.Channel),
			Transient: false,
		}
	}
	return sender.Send(ctx, account, delivery)
}
