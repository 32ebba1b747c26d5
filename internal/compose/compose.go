// Package compose builds RFC 5322 / RFC 2045 MIME messages from an
// email.Email.
package compose

import (
	"bytes"
	"fmt"
	"html"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/samber/lo"

	"github.com/shineum/mailgate/internal/attachment"
	"github.com/shineum/mailgate/internal/email"
)

// Sender is the From identity of composed messages.
type Sender struct {
	Name  string
	Email string
}

// Options control the generated envelope headers. Zero values are replaced
// with the current time and a random Message-ID.
type Options struct {
	Date      time.Time
	MessageID string
}

// Message is a composed MIME message.
type Message struct {
	// MessageID is the Message-ID header value including angle brackets.
	MessageID string
	Raw       []byte
}

var stripPolicy = sync.OnceValue(bluemonday.StrictPolicy)

// StripTags returns the text content of an HTML fragment, used as the
// plain-text alternative of HTML bodies.
func StripTags(s string) string {
	return html.UnescapeString(stripPolicy().Sanitize(s))
}

// FormatAddress renders r as `"name" <email>` when a display name is
// present, otherwise as the bare address.
func FormatAddress(r email.Recipient) string {
	if r.Name == "" {
		return r.Email
	}
	return (&mail.Address{Name: r.Name, Address: r.Email}).String()
}

// FormatAddressList joins formatted recipients with ", ".
func FormatAddressList(list []email.Recipient) string {
	return strings.Join(formatAddresses(list), ", ")
}

func formatAddresses(list []email.Recipient) []string {
	return lo.Map(list, func(r email.Recipient, _ int) string {
		return FormatAddress(r)
	})
}

// Compose renders msg as a multipart/mixed message. Bcc recipients are never
// written to the headers.
func Compose(from Sender, msg *email.Email, opts Options) (*Message, error) {
	if msg == nil {
		return nil, email.ErrNilMessage
	}
	if opts.Date.IsZero() {
		opts.Date = time.Now()
	}
	if opts.MessageID == "" {
		opts.MessageID = NewMessageID(from.Email)
	}

	var buf bytes.Buffer
	root := multipart.NewWriter(&buf)

	writeHeader(&buf, "From", formatSender(from))
	writeFoldedHeader(&buf, "To", formatAddresses(msg.To), ",")
	if len(msg.Cc) > 0 {
		writeFoldedHeader(&buf, "Cc", formatAddresses(msg.Cc), ",")
	}
	// QEncoding separates encoded-words with spaces, so splitting on
	// spaces also folds between them.
	writeFoldedHeader(&buf, "Subject", strings.Split(mime.QEncoding.Encode("utf-8", msg.Subject), " "), "")
	writeHeader(&buf, "Date", opts.Date.Format(time.RFC1123Z))
	writeHeader(&buf, "Message-ID", opts.MessageID)

	switch msg.Importance {
	case email.ImportanceHigh:
		writeHeader(&buf, "Importance", "high")
		writeHeader(&buf, "X-Priority", "1")
	case email.ImportanceLow:
		writeHeader(&buf, "Importance", "low")
		writeHeader(&buf, "X-Priority", "5")
	}

	writeHeader(&buf, "MIME-Version", "1.0")
	writeHeader(&buf, "Content-Type", mime.FormatMediaType("multipart/mixed", map[string]string{"boundary": root.Boundary()}))
	buf.WriteString("\r\n")

	if err := writeBody(root, msg); err != nil {
		return nil, err
	}

	for _, att := range msg.Attachments {
		part, err := attachment.ToMIMEPart(att)
		if err != nil {
			return nil, err
		}
		w, err := root.CreatePart(part.Header)
		if err != nil {
			return nil, encodingError(att.Filename, err)
		}
		if _, err := w.Write(part.Body); err != nil {
			return nil, encodingError(att.Filename, err)
		}
	}

	if err := root.Close(); err != nil {
		return nil, encodingError("message", err)
	}

	return &Message{MessageID: opts.MessageID, Raw: buf.Bytes()}, nil
}

// NewMessageID returns a unique Message-ID in the sender's domain.
func NewMessageID(senderAddress string) string {
	domain := "localhost"
	if _, d, ok := strings.Cut(senderAddress, "@"); ok && d != "" {
		domain = d
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

func writeBody(root *multipart.Writer, msg *email.Email) error {
	if msg.BodyType == email.BodyText {
		return writeTextPart(root, "text/plain", msg.Body)
	}

	var alt bytes.Buffer
	altWriter := multipart.NewWriter(&alt)
	if err := writeTextPart(altWriter, "text/plain", StripTags(msg.Body)); err != nil {
		return err
	}
	if err := writeTextPart(altWriter, "text/html", msg.Body); err != nil {
		return err
	}
	if err := altWriter.Close(); err != nil {
		return encodingError("body", err)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Type", mime.FormatMediaType("multipart/alternative", map[string]string{"boundary": altWriter.Boundary()}))
	w, err := root.CreatePart(header)
	if err != nil {
		return encodingError("body", err)
	}
	if _, err := w.Write(alt.Bytes()); err != nil {
		return encodingError("body", err)
	}
	return nil
}

func writeTextPart(mw *multipart.Writer, mediaType, content string) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Type", mediaType+"; charset=utf-8")
	header.Set("Content-Transfer-Encoding", "quoted-printable")

	w, err := mw.CreatePart(header)
	if err != nil {
		return encodingError(mediaType+" part", err)
	}
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(content)); err != nil {
		return encodingError(mediaType+" part", err)
	}
	if err := qp.Close(); err != nil {
		return encodingError(mediaType+" part", err)
	}
	return nil
}

func formatSender(from Sender) string {
	if from.Name == "" {
		return from.Email
	}
	return (&mail.Address{Name: from.Name, Address: from.Email}).String()
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	fmt.Fprintf(buf, "%s: %s\r\n", key, value)
}

// foldWidth is the RFC 5322 recommended line length, excluding CRLF.
const foldWidth = 78

// writeFoldedHeader writes tokens joined by glue and a space. A token that
// would push the line past foldWidth starts a continuation line instead;
// a single token longer than that stays whole.
func writeFoldedHeader(buf *bytes.Buffer, key string, tokens []string, glue string) {
	buf.WriteString(key)
	buf.WriteString(":")
	width := len(key) + 1
	for i, tok := range tokens {
		if i > 0 {
			buf.WriteString(glue)
			width += len(glue)
			if width+1+len(tok) > foldWidth {
				buf.WriteString("\r\n")
				width = 0
			}
		}
		buf.WriteString(" ")
		buf.WriteString(tok)
		width += 1 + len(tok)
	}
	buf.WriteString("\r\n")
}

func encodingError(subject string, err error) error {
	return &email.EncodingError{Subject: subject, Err: err}
}
