// Package dispatch runs one render, validate, encode and send cycle per
// message against the configured provider.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/shineum/mailgate/internal/attachment"
	"github.com/shineum/mailgate/internal/email"
	"github.com/shineum/mailgate/internal/provider"
	"github.com/shineum/mailgate/internal/render"
	"github.com/shineum/mailgate/internal/store"
)

// maxConcurrentFetches bounds parallel attachment store reads per message.
const maxConcurrentFetches = 4

// ErrNoStore is returned by template operations when no store is configured.
var ErrNoStore = errors.New("dispatch: template store not configured")

// Dispatcher sends messages through a single provider.
//
// Cancelling ctx aborts a dispatch only until the provider starts its
// network call. Once Deliver has begun the remote side effect may already
// have happened and is not unwound.
type Dispatcher struct {
	provider          provider.Provider
	templates         store.TemplateStore
	attachments       store.AttachmentStore
	maxAttachmentSize int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithStore serves templates and stored attachments from s.
func WithStore(s store.Store) Option {
	return func(d *Dispatcher) {
		d.templates = s
		d.attachments = s
	}
}

// WithMaxAttachmentSize overrides email.DefaultMaxAttachmentSize.
func WithMaxAttachmentSize(n int) Option {
	return func(d *Dispatcher) {
		d.maxAttachmentSize = n
	}
}

// New creates a Dispatcher delivering through p.
func New(p provider.Provider, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		provider:          p,
		maxAttachmentSize: email.DefaultMaxAttachmentSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Provider returns the name of the configured provider.
func (d *Dispatcher) Provider() string {
	return d.provider.Name()
}

// Send renders, validates, encodes and delivers msg. msg itself is not
// modified.
//
// A non-nil error means the message never reached the provider: it failed
// validation (*email.ValidationError), encoding (*email.EncodingError), or
// ctx was already done. Delivery failures are reported in the outcome.
func (d *Dispatcher) Send(ctx context.Context, msg *email.Email) (email.Outcome, error) {
	if msg == nil {
		return email.Outcome{}, email.ErrNilMessage
	}

	rendered := msg.Clone()
	if len(rendered.TemplateVariables) > 0 {
		rendered.Body = render.Render(rendered.Body, rendered.TemplateVariables)
		if missing := render.Unresolved(rendered.Body, rendered.TemplateVariables); len(missing) > 0 {
			slog.Warn("unresolved template placeholders", "subject", rendered.Subject, "placeholders", missing)
		}
	}

	if err := rendered.Validate(d.maxAttachmentSize); err != nil {
		slog.Warn("email rejected", "error", err)
		return email.Outcome{}, err
	}

	delivery, err := d.provider.Prepare(rendered)
	if err != nil {
		slog.Error("failed to encode email",
			"provider", d.provider.Name(),
			"error", err,
		)
		return email.Outcome{}, err
	}

	if err := ctx.Err(); err != nil {
		return email.Outcome{}, fmt.Errorf("dispatch aborted before delivery: %w", err)
	}

	out := delivery.Deliver(ctx)

	if out.Success {
		slog.Info("email delivered",
			"provider", d.provider.Name(),
			"subject", rendered.Subject,
			"recipients", len(rendered.Recipients()),
			"reference", out.ProviderReference,
		)
	} else {
		slog.Error("email delivery failed",
			"provider", d.provider.Name(),
			"subject", rendered.Subject,
			"error", out.Message,
		)
	}
	return out, nil
}

// TemplateRequest sends a stored template.
type TemplateRequest struct {
	Template   string
	Subject    string
	To         []email.Recipient
	Cc         []email.Recipient
	Bcc        []email.Recipient
	Importance email.Importance
	Variables  map[string]string

	// Attachments are supplied with the request.
	Attachments []email.Attachment
	// StoredAttachments are loaded by file name from the attachment store.
	StoredAttachments []string

	// SaveToSentItems defaults to true when nil.
	SaveToSentItems *bool
}

// SendTemplate loads req.Template, attaches the requested files and sends
// the result as an HTML message. A missing template or attachment returns
// an error wrapping store.ErrNotFound.
func (d *Dispatcher) SendTemplate(ctx context.Context, req TemplateRequest) (email.Outcome, error) {
	msg, err := d.buildTemplateMessage(ctx, req)
	if err != nil {
		return email.Outcome{}, err
	}
	return d.Send(ctx, msg)
}

func (d *Dispatcher) buildTemplateMessage(ctx context.Context, req TemplateRequest) (*email.Email, error) {
	if d.templates == nil {
		return nil, ErrNoStore
	}

	body, err := d.templates.Template(ctx, req.Template)
	if err != nil {
		return nil, err
	}

	msg := email.New(req.Subject, body, req.To...)
	msg.Cc = req.Cc
	msg.Bcc = req.Bcc
	msg.TemplateVariables = req.Variables
	if req.Importance != "" {
		msg.Importance = req.Importance
	}
	if req.SaveToSentItems != nil {
		msg.SaveToSentItems = *req.SaveToSentItems
	}

	stored, err := d.loadAttachments(ctx, req.StoredAttachments)
	if err != nil {
		return nil, err
	}
	msg.Attachments = append(msg.Attachments, req.Attachments...)
	msg.Attachments = append(msg.Attachments, stored...)

	return msg, nil
}

// loadAttachments fetches stored files concurrently, keeping the requested
// order. The first failure cancels the remaining fetches.
func (d *Dispatcher) loadAttachments(ctx context.Context, names []string) ([]email.Attachment, error) {
	if len(names) == 0 {
		return nil, nil
	}
	if d.attachments == nil {
		return nil, ErrNoStore
	}

	out := make([]email.Attachment, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, name := range names {
		g.Go(func() error {
			content, err := d.attachments.Attachment(gctx, name)
			if err != nil {
				return err
			}
			out[i] = email.NewAttachment(name, attachment.InferContentType(name, ""), content)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Preview is a rendered template.
type Preview struct {
	Template   string   `json:"template"`
	Body       string   `json:"body"`
	Unresolved []string `json:"unresolved,omitempty"`
}

// Preview renders a stored template without sending it.
func (d *Dispatcher) Preview(ctx context.Context, name string, vars map[string]string) (Preview, error) {
	if d.templates == nil {
		return Preview{}, ErrNoStore
	}
	body, err := d.templates.Template(ctx, name)
	if err != nil {
		return Preview{}, err
	}
	rendered := render.Render(body, vars)
	return Preview{
		Template:   name,
		Body:       rendered,
		Unresolved: render.Unresolved(rendered, vars),
	}, nil
}

// Factory builds a provider on demand.
type Factory func() (provider.Provider, error)

// DefaultProvider is used when the configured provider name is unknown.
const DefaultProvider = "smtp"

// Select maps a configured provider name to its factory and builds the
// provider. An empty or unrecognized name falls back to DefaultProvider and
// logs a warning.
func Select(name string, factories map[string]Factory) (provider.Provider, error) {
	key := strings.ToLower(strings.TrimSpace(name))

	factory, ok := factories[key]
	if !ok {
		slog.Warn("unknown email provider, falling back to default",
			"provider", name,
			"default", DefaultProvider,
		)
		key = DefaultProvider
		factory, ok = factories[key]
		if !ok {
			return nil, fmt.Errorf("default provider %q is not available", DefaultProvider)
		}
	}

	p, err := factory()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s provider: %w", key, err)
	}
	return p, nil
}
