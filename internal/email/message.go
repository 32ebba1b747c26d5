// Package email defines the provider-agnostic outbound message model shared by
// every transport.
package email

import (
	"fmt"
	"maps"
	"path"
	"strings"
	"unicode"
)

// DefaultMaxAttachmentSize is 10 MiB in bytes.
const DefaultMaxAttachmentSize = 10 * 1024 * 1024

// BodyType selects how the message body is interpreted.
type BodyType string

const (
	BodyHTML BodyType = "HTML"
	BodyText BodyType = "Text"
)

// ParseBodyType accepts "html" or "text" in any case. An empty value means HTML.
func ParseBodyType(s string) (BodyType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "html":
		return BodyHTML, nil
	case "text", "plain":
		return BodyText, nil
	default:
		return "", &ValidationError{Field: "body_type", Reason: fmt.Sprintf("unsupported body type %q", s)}
	}
}

// Importance mirrors the importance levels understood by Outlook and most
// desktop clients.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceNormal Importance = "normal"
	ImportanceHigh   Importance = "high"
)

// ParseImportance accepts low, normal or high in any case. An empty value
// means normal.
func ParseImportance(s string) (Importance, error) {
	switch Importance(strings.ToLower(strings.TrimSpace(s))) {
	case "", ImportanceNormal:
		return ImportanceNormal, nil
	case ImportanceLow:
		return ImportanceLow, nil
	case ImportanceHigh:
		return ImportanceHigh, nil
	default:
		return "", &ValidationError{Field: "importance", Reason: fmt.Sprintf("unsupported importance %q", s)}
	}
}

// Email is a single outbound message. It is built once per send request,
// rendered at most once, and handed to exactly one provider.
type Email struct {
	Subject           string
	Body              string
	BodyType          BodyType
	To                []Recipient
	Cc                []Recipient
	Bcc               []Recipient
	Importance        Importance
	Attachments       []Attachment
	SaveToSentItems   bool
	TemplateVariables map[string]string
}

// New returns an Email with the defaults applied: HTML body, normal
// importance and SaveToSentItems enabled.
func New(subject, body string, to ...Recipient) *Email {
	return &Email{
		Subject:         subject,
		Body:            body,
		BodyType:        BodyHTML,
		To:              to,
		Importance:      ImportanceNormal,
		SaveToSentItems: true,
	}
}

// Clone returns a copy whose slices and maps can be modified without
// affecting m. Attachment contents are shared since they are immutable.
func (m *Email) Clone() *Email {
	c := *m
	c.To = append([]Recipient(nil), m.To...)
	c.Cc = append([]Recipient(nil), m.Cc...)
	c.Bcc = append([]Recipient(nil), m.Bcc...)
	c.Attachments = append([]Attachment(nil), m.Attachments...)
	if m.TemplateVariables != nil {
		c.TemplateVariables = maps.Clone(m.TemplateVariables)
	}
	return &c
}

// Recipients returns To, Cc and Bcc addresses in that order. This is the
// SMTP envelope recipient list.
func (m *Email) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	for _, list := range [][]Recipient{m.To, m.Cc, m.Bcc} {
		for _, r := range list {
			out = append(out, r.Email)
		}
	}
	return out
}

// Attachment is a file attached to a message. The content is owned by the
// attachment and never modified after construction.
type Attachment struct {
	Filename    string
	ContentType string
	content     []byte
}

// NewAttachment copies content and sanitizes filename. contentType may be
// empty, in which case encoders infer it from the filename.
func NewAttachment(filename, contentType string, content []byte) Attachment {
	return Attachment{
		Filename:    SanitizeFilename(filename),
		ContentType: strings.TrimSpace(contentType),
		content:     append([]byte(nil), content...),
	}
}

// Content returns a copy of the attachment bytes.
func (a Attachment) Content() []byte {
	return append([]byte(nil), a.content...)
}

// Bytes returns the attachment bytes without copying. Callers must not
// modify the returned slice.
func (a Attachment) Bytes() []byte {
	return a.content
}

// Size returns the raw content size in bytes.
func (a Attachment) Size() int {
	return len(a.content)
}

// SanitizeFilename strips directory components, path separators and control
// characters. A name that sanitizes to nothing becomes "attachment".
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)

	name = strings.Map(func(r rune) rune {
		if r == '/' || unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)

	if name == "" || name == "." || name == ".." {
		return "attachment"
	}
	return name
}

// Outcome is the normalized result of a delivery attempt.
type Outcome struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	ProviderReference string `json:"email_id,omitempty"`

	// Err holds the typed cause of a failed outcome (*AuthError,
	// *TransportError, ...). It is nil on success.
	Err error `json:"-"`
}

// Succeeded builds a successful outcome.
func Succeeded(message, reference string) Outcome {
	return Outcome{Success: true, Message: message, ProviderReference: reference}
}

// Failed builds a failed outcome from err.
func Failed(err error) Outcome {
	return Outcome{Success: false, Message: err.Error(), Err: err}
}
