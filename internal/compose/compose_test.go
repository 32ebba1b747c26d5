package compose

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mailgate/internal/attachment"
	"github.com/shineum/mailgate/internal/email"
)

var testSender = Sender{Name: "Mail Gate", Email: "noreply@example.com"}

func parseMessage(t *testing.T, raw []byte) *mail.Message {
	t.Helper()
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)
	return msg
}

// readParts returns all parts of a multipart body with their decoded content.
func readParts(t *testing.T, contentType string, body io.Reader) []partContent {
	t.Helper()
	mediaType, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(mediaType, "multipart/"), mediaType)

	var out []partContent
	r := multipart.NewReader(body, params["boundary"])
	for {
		p, err := r.NextRawPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		raw, err := io.ReadAll(p)
		require.NoError(t, err)

		switch strings.ToLower(p.Header.Get("Content-Transfer-Encoding")) {
		case "quoted-printable":
			raw, err = io.ReadAll(quotedprintable.NewReader(bytes.NewReader(raw)))
			require.NoError(t, err)
		case "base64":
			raw, err = attachment.DecodeBase64(string(raw))
			require.NoError(t, err)
		}
		out = append(out, partContent{header: p.Header, body: raw})
	}
	return out
}

type partContent struct {
	header map[string][]string
	body   []byte
}

func (p partContent) get(key string) string {
	if v := p.header[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func TestCompose_HTMLWithAlternative(t *testing.T) {
	t.Parallel()

	msg := email.New("Hello", "<p>Hi <b>Ana</b> &amp; co</p>",
		email.MustRecipient("ana@example.com", "Ana"),
		email.MustRecipient("bo@example.com", ""),
	)

	out, err := Compose(testSender, msg, Options{MessageID: "<fixed@example.com>"})
	require.NoError(t, err)

	m := parseMessage(t, out.Raw)
	assert.Equal(t, `"Mail Gate" <noreply@example.com>`, m.Header.Get("From"))
	assert.Equal(t, `"Ana" <ana@example.com>, bo@example.com`, m.Header.Get("To"))
	assert.Equal(t, "Hello", m.Header.Get("Subject"))
	assert.Equal(t, "<fixed@example.com>", m.Header.Get("Message-Id"))
	assert.Equal(t, "1.0", m.Header.Get("Mime-Version"))
	assert.Empty(t, m.Header.Get("Cc"))

	top := readParts(t, m.Header.Get("Content-Type"), m.Body)
	require.Len(t, top, 1)

	alt := readParts(t, top[0].get("Content-Type"), bytes.NewReader(top[0].body))
	require.Len(t, alt, 2)
	assert.True(t, strings.HasPrefix(alt[0].get("Content-Type"), "text/plain"))
	assert.Equal(t, "Hi Ana & co", string(alt[0].body))
	assert.True(t, strings.HasPrefix(alt[1].get("Content-Type"), "text/html"))
	assert.Equal(t, "<p>Hi <b>Ana</b> &amp; co</p>", string(alt[1].body))
}

func TestCompose_TextBody(t *testing.T) {
	t.Parallel()

	msg := email.New("Plain", "Olá mundo, a long line that should survive quoted-printable wrapping without any changes to its content at all",
		email.MustRecipient("a@b.com", ""))
	msg.BodyType = email.BodyText

	out, err := Compose(testSender, msg, Options{})
	require.NoError(t, err)

	m := parseMessage(t, out.Raw)
	parts := readParts(t, m.Header.Get("Content-Type"), m.Body)
	require.Len(t, parts, 1)
	assert.True(t, strings.HasPrefix(parts[0].get("Content-Type"), "text/plain"))
	assert.Equal(t, msg.Body, string(parts[0].body))
	assert.NotEmpty(t, out.MessageID)
	assert.True(t, strings.HasSuffix(out.MessageID, "@example.com>"), out.MessageID)
}

func TestCompose_ImportanceHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		importance   email.Importance
		wantPriority string
		wantImp      string
	}{
		{email.ImportanceHigh, "1", "high"},
		{email.ImportanceLow, "5", "low"},
		{email.ImportanceNormal, "", ""},
	}

	for _, tt := range tests {
		msg := email.New("S", "b", email.MustRecipient("a@b.com", ""))
		msg.Importance = tt.importance

		out, err := Compose(testSender, msg, Options{})
		require.NoError(t, err)

		m := parseMessage(t, out.Raw)
		assert.Equal(t, tt.wantPriority, m.Header.Get("X-Priority"), "X-Priority for %s", tt.importance)
		assert.Equal(t, tt.wantImp, m.Header.Get("Importance"), "Importance for %s", tt.importance)
		_, present := m.Header["X-Priority"]
		assert.Equal(t, tt.wantPriority != "", present)
	}
}

func TestCompose_BccNotInHeaders(t *testing.T) {
	t.Parallel()

	msg := email.New("S", "b", email.MustRecipient("to@x.com", ""))
	msg.Cc = []email.Recipient{email.MustRecipient("cc@x.com", "Carol")}
	msg.Bcc = []email.Recipient{email.MustRecipient("secret@x.com", "")}

	out, err := Compose(testSender, msg, Options{})
	require.NoError(t, err)

	assert.NotContains(t, string(out.Raw), "secret@x.com")
	m := parseMessage(t, out.Raw)
	assert.Equal(t, `"Carol" <cc@x.com>`, m.Header.Get("Cc"))
	assert.Empty(t, m.Header.Get("Bcc"))
}

func TestCompose_Attachments(t *testing.T) {
	t.Parallel()

	msg := email.New("S", "<p>see attached</p>", email.MustRecipient("a@b.com", ""))
	msg.Attachments = []email.Attachment{
		email.NewAttachment("logo.png", "image/png", []byte{0x89, 'P', 'N', 'G', 0x00}),
		email.NewAttachment("report.pdf", "", []byte("%PDF-1.4")),
	}

	out, err := Compose(testSender, msg, Options{})
	require.NoError(t, err)

	m := parseMessage(t, out.Raw)
	parts := readParts(t, m.Header.Get("Content-Type"), m.Body)
	require.Len(t, parts, 3)

	assert.True(t, strings.HasPrefix(parts[0].get("Content-Type"), "multipart/alternative"))

	assert.True(t, strings.HasPrefix(parts[1].get("Content-Type"), "image/png"))
	assert.Equal(t, `attachment; filename="logo.png"`, parts[1].get("Content-Disposition"))
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G', 0x00}, parts[1].body)

	assert.True(t, strings.HasPrefix(parts[2].get("Content-Type"), "application/pdf"))
	assert.Equal(t, []byte("%PDF-1.4"), parts[2].body)
}

func TestCompose_EncodedHeaders(t *testing.T) {
	t.Parallel()

	msg := email.New("Résumé ready", "b", email.MustRecipient("jose@example.com", "José Núñez"))

	out, err := Compose(Sender{Email: "noreply@example.com"}, msg, Options{Date: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)})
	require.NoError(t, err)

	m := parseMessage(t, out.Raw)
	assert.Equal(t, "noreply@example.com", m.Header.Get("From"))

	dec := new(mime.WordDecoder)
	subject, err := dec.DecodeHeader(m.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "Résumé ready", subject)

	to, err := m.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 1)
	assert.Equal(t, "José Núñez", to[0].Name)
	assert.Equal(t, "Tue, 02 Jan 2024 03:04:05 +0000", m.Header.Get("Date"))
}

func TestCompose_FoldsLongHeaders(t *testing.T) {
	t.Parallel()

	var to []email.Recipient
	for i := range 40 {
		to = append(to, email.MustRecipient(
			fmt.Sprintf("recipient%02d@example.com", i),
			fmt.Sprintf("Recipient Number %d", i),
		))
	}
	subject := strings.TrimSpace(strings.Repeat("Quarterly revenue summary ", 45))
	msg := email.New(subject, "<p>Report</p>", to...)
	msg.Cc = to[:20]

	out, err := Compose(testSender, msg, Options{})
	require.NoError(t, err)

	head, _, ok := bytes.Cut(out.Raw, []byte("\r\n\r\n"))
	require.True(t, ok)
	for _, line := range strings.Split(string(head), "\r\n") {
		if strings.HasPrefix(line, "Content-Type:") {
			continue
		}
		assert.LessOrEqual(t, len(line), 78, "header line %q", line)
	}
	for _, line := range strings.Split(string(out.Raw), "\r\n") {
		assert.LessOrEqual(t, len(line), 998)
	}

	m := parseMessage(t, out.Raw)
	assert.Equal(t, subject, m.Header.Get("Subject"))
	assert.Equal(t, FormatAddressList(to), m.Header.Get("To"))

	parsed, err := m.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, parsed, 40)
	assert.Equal(t, "Recipient Number 39", parsed[39].Name)
	assert.Equal(t, "recipient39@example.com", parsed[39].Address)

	cc, err := m.Header.AddressList("Cc")
	require.NoError(t, err)
	assert.Len(t, cc, 20)
}

func TestCompose_FoldsEncodedSubject(t *testing.T) {
	t.Parallel()

	subject := strings.TrimSpace(strings.Repeat("Résumé für Jürgen ", 30))
	msg := email.New(subject, "b", email.MustRecipient("ana@example.com", ""))

	out, err := Compose(testSender, msg, Options{})
	require.NoError(t, err)

	head, _, ok := bytes.Cut(out.Raw, []byte("\r\n\r\n"))
	require.True(t, ok)
	continuations := 0
	for _, line := range strings.Split(string(head), "\r\n") {
		assert.LessOrEqual(t, len(line), 998)
		if strings.HasPrefix(line, " =?utf-8?q?") {
			continuations++
		}
	}
	assert.Greater(t, continuations, 1)

	m := parseMessage(t, out.Raw)
	decoded, err := new(mime.WordDecoder).DecodeHeader(m.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, subject, decoded)
}

func TestStripTags(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Hello Ana", StripTags("<h1>Hello <em>Ana</em></h1>"))
	assert.Equal(t, "a < b & c", StripTags("a &lt; b &amp; c"))
	assert.Equal(t, "no markup", StripTags("no markup"))
}

func TestCompose_NilMessage(t *testing.T) {
	t.Parallel()

	_, err := Compose(testSender, nil, Options{})
	assert.ErrorIs(t, err, email.ErrNilMessage)
}
