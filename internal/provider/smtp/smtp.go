// Package smtp implements a Provider that relays emails through an
// authenticated SMTP submission server.
package smtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/textproto"

	"github.com/shineum/mailgate/internal/compose"
	"github.com/shineum/mailgate/internal/email"
	"github.com/shineum/mailgate/internal/provider"
)

// Name is the configuration name of the SMTP provider.
const Name = "smtp"

// Session is an authenticated SMTP connection ready for one mail
// transaction.
type Session interface {
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	// Close ends the session with QUIT and releases the connection.
	Close() error
}

// SessionOpener dials, secures and authenticates a new Session.
type SessionOpener interface {
	Open(ctx context.Context) (Session, error)
}

// SMTPProvider sends composed MIME messages over a SessionOpener.
type SMTPProvider struct {
	sender compose.Sender
	opener SessionOpener
}

// New creates an SMTPProvider sending as sender.
func New(sender compose.Sender, opener SessionOpener) *SMTPProvider {
	return &SMTPProvider{sender: sender, opener: opener}
}

// Name returns the provider name.
func (p *SMTPProvider) Name() string {
	return Name
}

// Prepare composes msg and fixes its envelope. Bcc recipients are part of
// the envelope but never of the headers.
func (p *SMTPProvider) Prepare(msg *email.Email) (provider.Delivery, error) {
	composed, err := compose.Compose(p.sender, msg, compose.Options{})
	if err != nil {
		return nil, err
	}
	envelope := msg.Recipients()

	return provider.DeliveryFunc(func(ctx context.Context) email.Outcome {
		return p.deliver(ctx, msg.Subject, envelope, composed)
	}), nil
}

// Send delivers msg in a single SMTP transaction.
func (p *SMTPProvider) Send(ctx context.Context, msg *email.Email) email.Outcome {
	return provider.Send(ctx, p, msg)
}

func (p *SMTPProvider) deliver(ctx context.Context, subject string, envelope []string, msg *compose.Message) email.Outcome {
	sess, err := p.opener.Open(ctx)
	if err != nil {
		slog.Error("failed to open SMTP session", "error", err)
		var authErr *email.AuthError
		if errors.As(err, &authErr) {
			return email.Failed(authErr)
		}
		return email.Failed(&email.AuthError{Provider: Name, Err: err})
	}
	defer func() {
		if err := sess.Close(); err != nil {
			slog.Debug("SMTP session close failed", "error", err)
		}
	}()

	slog.Info("sending email via SMTP",
		"subject", subject,
		"recipients", len(envelope),
	)

	if err := p.transact(sess, envelope, msg.Raw); err != nil {
		slog.Error("SMTP delivery failed", "error", err)
		return email.Failed(err)
	}

	return email.Succeeded("email sent", msg.MessageID)
}

func (p *SMTPProvider) transact(sess Session, envelope []string, raw []byte) error {
	if err := sess.Mail(p.sender.Email); err != nil {
		return transportError("MAIL FROM", err)
	}
	for _, rcpt := range envelope {
		if err := sess.Rcpt(rcpt); err != nil {
			return transportError("RCPT TO "+rcpt, err)
		}
	}

	w, err := sess.Data()
	if err != nil {
		return transportError("DATA", err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return transportError("DATA", err)
	}
	if err := w.Close(); err != nil {
		return transportError("DATA", err)
	}
	return nil
}

// transportError keeps the SMTP reply code as the status when the server
// rejected the command.
func transportError(stage string, err error) error {
	terr := &email.TransportError{Provider: Name, Err: fmt.Errorf("%s: %w", stage, err)}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		terr.StatusCode = protoErr.Code
		terr.Body = stage + ": " + protoErr.Msg
	}
	return terr
}
