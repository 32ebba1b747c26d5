package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore reads templates and attachments from two local directories.
type FileStore struct {
	templates   fs.FS
	attachments fs.FS
}

// NewFileStore serves templates from templateDir and attachments from attachmentDir.
func NewFileStore(templateDir, attachmentDir string) *FileStore {
	return NewFSStore(os.DirFS(filepath.Clean(templateDir)), os.DirFS(filepath.Clean(attachmentDir)))
}

// NewFSStore serves from arbitrary file systems, such as fstest.MapFS in tests.
func NewFSStore(templates, attachments fs.FS) *FileStore {
	return &FileStore{templates: templates, attachments: attachments}
}

// Template returns the body of <name>.html.
func (s *FileStore) Template(_ context.Context, name string) (string, error) {
	file, err := templateName(name)
	if err != nil {
		return "", err
	}
	data, err := readFile(s.templates, file)
	if err != nil {
		return "", fmt.Errorf("template %q: %w", name, err)
	}
	return string(data), nil
}

// Attachment returns the content of the named attachment file.
func (s *FileStore) Attachment(_ context.Context, name string) ([]byte, error) {
	file, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	data, err := readFile(s.attachments, file)
	if err != nil {
		return nil, fmt.Errorf("attachment %q: %w", name, err)
	}
	return data, nil
}

func readFile(fsys fs.FS, name string) ([]byte, error) {
	data, err := fs.ReadFile(fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}
