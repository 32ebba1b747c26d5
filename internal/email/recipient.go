package email

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var addressValidator = sync.OnceValue(func() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
})

// Recipient is a validated email address with an optional display name.
type Recipient struct {
	Email string
	Name  string
}

// NewRecipient validates address and returns a Recipient.
func NewRecipient(address, name string) (Recipient, error) {
	address = strings.TrimSpace(address)
	if err := addressValidator().Var(address, "required,email"); err != nil {
		return Recipient{}, &ValidationError{
			Field:  "email",
			Reason: fmt.Sprintf("invalid address %q", address),
		}
	}
	return Recipient{Email: address, Name: strings.TrimSpace(name)}, nil
}

// MustRecipient is like NewRecipient but panics on an invalid address.
// It is intended for constants and tests.
func MustRecipient(address, name string) Recipient {
	r, err := NewRecipient(address, name)
	if err != nil {
		panic(err)
	}
	return r
}

// ParseRecipientList splits a comma-separated address list. Blank entries are
// skipped; any invalid address fails the whole list.
func ParseRecipientList(raw string) ([]Recipient, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	out := make([]Recipient, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		r, err := NewRecipient(p, "")
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
