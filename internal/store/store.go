// Package store loads stored email templates and attachments by name.
package store

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned when a template or attachment does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrInvalidName is returned for names that are empty or escape the store root.
var ErrInvalidName = errors.New("store: invalid name")

// TemplateStore returns template bodies by name.
type TemplateStore interface {
	Template(ctx context.Context, name string) (string, error)
}

// AttachmentStore returns attachment content by file name.
type AttachmentStore interface {
	Attachment(ctx context.Context, name string) ([]byte, error)
}

// Store serves both templates and attachments.
type Store interface {
	TemplateStore
	AttachmentStore
}

// templateExt is appended to template names to form the object name.
const templateExt = ".html"

// cleanName rejects names that could address anything outside the store root.
func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, "\\\x00") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	cleaned := path.Clean("/" + name)[1:]
	if cleaned == "" || cleaned != name {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return cleaned, nil
}

// templateName maps a template name to its stored object name.
func templateName(name string) (string, error) {
	cleaned, err := cleanName(name)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(cleaned, templateExt) {
		cleaned += templateExt
	}
	return cleaned, nil
}
