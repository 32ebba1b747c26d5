package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanName(t *testing.T) {
	t.Parallel()

	valid := []string{"welcome", "invoices/march.pdf", "logo.png"}
	for _, name := range valid {
		got, err := cleanName(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, got)
	}

	invalid := []string{"", "  ", "../secret", "a/../../b", "/etc/passwd", `..\win`, "a//b", "dir/"}
	for _, name := range invalid {
		_, err := cleanName(name)
		assert.ErrorIs(t, err, ErrInvalidName, "name %q", name)
	}
}

func TestFileStore(t *testing.T) {
	t.Parallel()

	s := NewFSStore(
		fstest.MapFS{
			"welcome.html":      {Data: []byte("<p>Hi {name}</p>")},
			"nested/reset.html": {Data: []byte("reset {link}")},
		},
		fstest.MapFS{
			"terms.pdf": {Data: []byte("%PDF")},
		},
	)
	ctx := context.Background()

	body, err := s.Template(ctx, "welcome")
	require.NoError(t, err)
	assert.Equal(t, "<p>Hi {name}</p>", body)

	body, err = s.Template(ctx, "welcome.html")
	require.NoError(t, err)
	assert.Equal(t, "<p>Hi {name}</p>", body)

	body, err = s.Template(ctx, "nested/reset")
	require.NoError(t, err)
	assert.Equal(t, "reset {link}", body)

	data, err := s.Attachment(ctx, "terms.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), data)

	_, err = s.Template(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Attachment(ctx, "missing.pdf")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Attachment(ctx, "../welcome.html")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestNewFileStore_Disk(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	templates := filepath.Join(root, "templates")
	attachments := filepath.Join(root, "attachments")
	require.NoError(t, os.MkdirAll(templates, 0o755))
	require.NoError(t, os.MkdirAll(attachments, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(templates, "notice.html"), []byte("notice"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(attachments, "a.txt"), []byte("a"), 0o600))

	s := NewFileStore(templates, attachments)

	body, err := s.Template(context.Background(), "notice")
	require.NoError(t, err)
	assert.Equal(t, "notice", body)

	data, err := s.Attachment(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), data)
}

// mockS3Client implements GetObjectAPI over an in-memory bucket.
type mockS3Client struct {
	objects map[string][]byte
	err     error
	keys    []string
}

func (m *mockS3Client) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(params.Key)
	m.keys = append(m.keys, aws.ToString(params.Bucket)+"/"+key)
	if m.err != nil {
		return nil, m.err
	}
	data, ok := m.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

// mockAPIError implements smithy.APIError for testing.
type mockAPIError struct {
	code string
}

func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.code }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }
func (e *mockAPIError) Error() string                 { return fmt.Sprintf("api error %s", e.code) }

func TestS3Store(t *testing.T) {
	t.Parallel()

	client := &mockS3Client{objects: map[string][]byte{
		"templates/welcome.html": []byte("<p>Hi {name}</p>"),
		"files/terms.pdf":        []byte("%PDF"),
	}}
	s := NewS3StoreWithClient(client, "mail-assets", "/templates/", "files")
	ctx := context.Background()

	body, err := s.Template(ctx, "welcome")
	require.NoError(t, err)
	assert.Equal(t, "<p>Hi {name}</p>", body)

	data, err := s.Attachment(ctx, "terms.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), data)

	_, err = s.Template(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []string{
		"mail-assets/templates/welcome.html",
		"mail-assets/files/terms.pdf",
		"mail-assets/templates/missing.html",
	}, client.keys)
}

func TestS3Store_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		err          error
		wantNotFound bool
	}{
		{name: "NoSuchKey code", err: &mockAPIError{code: "NoSuchKey"}, wantNotFound: true},
		{name: "NotFound code", err: &mockAPIError{code: "NotFound"}, wantNotFound: true},
		{name: "AccessDenied code", err: &mockAPIError{code: "AccessDenied"}},
		{name: "network error", err: errors.New("dial tcp: i/o timeout")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := NewS3StoreWithClient(&mockS3Client{err: tt.err}, "b", "", "")
			_, err := s.Attachment(context.Background(), "x.pdf")
			require.Error(t, err)
			assert.Equal(t, tt.wantNotFound, errors.Is(err, ErrNotFound))
		})
	}
}
