// Package stdout implements a Provider that prints emails to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/samber/lo"

	"github.com/shineum/mailgate/internal/compose"
	"github.com/shineum/mailgate/internal/email"
	"github.com/shineum/mailgate/internal/provider"
)

// Name is the configuration name of the stdout provider.
const Name = "stdout"

const separator = "========================================\n"

// Provider prints email messages to stdout in a human-readable format.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return Name
}

// Prepare renders the readable summary of msg.
func (p *Provider) Prepare(msg *email.Email) (provider.Delivery, error) {
	if msg == nil {
		return nil, email.ErrNilMessage
	}
	text := format(msg)

	return provider.DeliveryFunc(func(_ context.Context) email.Outcome {
		if _, err := io.WriteString(p.writer, text); err != nil {
			return email.Failed(&email.TransportError{Provider: Name, Err: err})
		}
		return email.Succeeded("email written to stdout", compose.NewMessageID("stdout@localhost"))
	}), nil
}

// Send prints the email message.
func (p *Provider) Send(ctx context.Context, msg *email.Email) email.Outcome {
	return provider.Send(ctx, p, msg)
}

func format(msg *email.Email) string {
	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "To: %s\n", compose.FormatAddressList(msg.To))

	if len(msg.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", compose.FormatAddressList(msg.Cc))
	}
	if len(msg.Bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", compose.FormatAddressList(msg.Bcc))
	}

	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	if msg.Importance != "" && msg.Importance != email.ImportanceNormal {
		fmt.Fprintf(&b, "Importance: %s\n", msg.Importance)
	}
	fmt.Fprintf(&b, "Body (%s):\n", lo.CoalesceOrEmpty(msg.BodyType, email.BodyHTML))
	b.WriteString(msg.Body + "\n")

	if len(msg.Attachments) > 0 {
		attachments := lo.Map(msg.Attachments, func(att email.Attachment, _ int) string {
			return fmt.Sprintf("%s (%s)", att.Filename, formatSize(att.Size()))
		})
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}

	b.WriteString(separator)
	return b.String()
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
