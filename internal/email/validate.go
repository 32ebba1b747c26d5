package email

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNilMessage is returned when a nil *Email is passed where a message is
// required. It is a programmer error and fails fast.
var ErrNilMessage = errors.New("email: nil message")

// Validate checks the invariants every provider relies on. maxAttachmentSize
// applies to the raw content size; a value <= 0 means DefaultMaxAttachmentSize.
func (m *Email) Validate(maxAttachmentSize int) error {
	if m == nil {
		return ErrNilMessage
	}
	if maxAttachmentSize <= 0 {
		maxAttachmentSize = DefaultMaxAttachmentSize
	}

	if strings.TrimSpace(m.Subject) == "" {
		return &ValidationError{Field: "subject", Reason: "must not be empty"}
	}
	if len(m.To) == 0 {
		return &ValidationError{Field: "to_recipients", Reason: "at least one recipient is required"}
	}

	lists := []struct {
		field string
		list  []Recipient
	}{{"to_recipients", m.To}, {"cc_recipients", m.Cc}, {"bcc_recipients", m.Bcc}}
	for _, l := range lists {
		for _, r := range l.list {
			if r.Email == "" {
				return &ValidationError{Field: l.field, Reason: "recipient without address"}
			}
		}
	}

	if _, err := ParseBodyType(string(m.BodyType)); err != nil {
		return err
	}
	if _, err := ParseImportance(string(m.Importance)); err != nil {
		return err
	}

	for _, a := range m.Attachments {
		if a.Size() > maxAttachmentSize {
			return &ValidationError{
				Field:  "attachments",
				Reason: fmt.Sprintf("%s is %d bytes, exceeds limit of %d bytes", a.Filename, a.Size(), maxAttachmentSize),
			}
		}
	}

	return nil
}
