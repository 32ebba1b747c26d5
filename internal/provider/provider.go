// Package provider defines the interface for email delivery backends.
package provider

import (
	"context"

	"github.com/shineum/mailgate/internal/email"
)

// Provider is the interface that email delivery backends must implement.
//
// Delivery is split in two steps. Prepare encodes the message and its
// attachments into the provider's wire form and performs no I/O, so
// encoding failures surface before anything leaves the process. Deliver on
// the returned value performs exactly one network attempt.
type Provider interface {
	// Name returns the configuration name of this provider.
	Name() string

	// Prepare serializes msg for this provider. It returns an
	// *email.EncodingError if the message cannot be encoded.
	Prepare(msg *email.Email) (Delivery, error)
}

// Delivery is a message already encoded for one provider.
type Delivery interface {
	// Deliver sends the message once. Failures are reported in the
	// returned outcome, never as a panic or a separate error.
	Deliver(ctx context.Context) email.Outcome
}

// DeliveryFunc adapts a function to the Delivery interface.
type DeliveryFunc func(ctx context.Context) email.Outcome

// Deliver calls f(ctx).
func (f DeliveryFunc) Deliver(ctx context.Context) email.Outcome {
	return f(ctx)
}

// Send prepares and delivers msg through p, folding preparation errors into
// a failed outcome.
func Send(ctx context.Context, p Provider, msg *email.Email) email.Outcome {
	d, err := p.Prepare(msg)
	if err != nil {
		return email.Failed(err)
	}
	if err := ctx.Err(); err != nil {
		return email.Failed(err)
	}
	return d.Deliver(ctx)
}
