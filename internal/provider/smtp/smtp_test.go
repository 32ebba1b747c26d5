package smtp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/mail"
	"net/textproto"
	"strings"
	"testing"

	"github.com/shineum/mailgate/internal/compose"
	"github.com/shineum/mailgate/internal/email"
)

var testSender = compose.Sender{Name: "Mail Gate", Email: "noreply@example.com"}

// fakeSession records one SMTP transaction.
type fakeSession struct {
	from    string
	rcpts   []string
	data    bytes.Buffer
	closed  int
	rcptErr error
	dataErr error
}

func (s *fakeSession) Mail(from string) error {
	s.from = from
	return nil
}

func (s *fakeSession) Rcpt(to string) error {
	if s.rcptErr != nil {
		return s.rcptErr
	}
	s.rcpts = append(s.rcpts, to)
	return nil
}

func (s *fakeSession) Data() (io.WriteCloser, error) {
	if s.dataErr != nil {
		return nil, s.dataErr
	}
	return nopCloser{&s.data}, nil
}

func (s *fakeSession) Close() error {
	s.closed++
	return nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

type fakeOpener struct {
	session *fakeSession
	err     error
	opens   int
}

func (o *fakeOpener) Open(_ context.Context) (Session, error) {
	o.opens++
	if o.err != nil {
		return nil, o.err
	}
	return o.session, nil
}

func testMessage() *email.Email {
	msg := email.New("Quarterly report", "<p>Numbers attached</p>",
		email.MustRecipient("ana@example.com", "Ana"))
	msg.Cc = []email.Recipient{email.MustRecipient("carol@example.com", "")}
	msg.Bcc = []email.Recipient{email.MustRecipient("audit@example.com", "")}
	return msg
}

func TestSend_Envelope(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{}
	p := New(testSender, &fakeOpener{session: sess})

	out := p.Send(context.Background(), testMessage())
	if !out.Success {
		t.Fatalf("Success: got false, message %q", out.Message)
	}

	if sess.from != "noreply@example.com" {
		t.Errorf("MAIL FROM: got %q, want %q", sess.from, "noreply@example.com")
	}
	want := []string{"ana@example.com", "carol@example.com", "audit@example.com"}
	if strings.Join(sess.rcpts, ",") != strings.Join(want, ",") {
		t.Errorf("RCPT TO: got %v, want %v", sess.rcpts, want)
	}
	if sess.closed != 1 {
		t.Errorf("Close calls: got %d, want 1", sess.closed)
	}

	m, err := mail.ReadMessage(bytes.NewReader(sess.data.Bytes()))
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got := m.Header.Get("Message-Id"); got != out.ProviderReference {
		t.Errorf("ProviderReference: got %q, want Message-ID %q", out.ProviderReference, got)
	}
	if strings.Contains(sess.data.String(), "audit@example.com") {
		t.Error("Bcc recipient must not appear in the message data")
	}
}

func TestSend_HighImportanceHeaders(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{}
	msg := testMessage()
	msg.Importance = email.ImportanceHigh

	if out := New(testSender, &fakeOpener{session: sess}).Send(context.Background(), msg); !out.Success {
		t.Fatalf("Success: got false, message %q", out.Message)
	}

	m, err := mail.ReadMessage(bytes.NewReader(sess.data.Bytes()))
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got := m.Header.Get("X-Priority"); got != "1" {
		t.Errorf("X-Priority: got %q, want %q", got, "1")
	}
	if got := m.Header.Get("Importance"); got != "high" {
		t.Errorf("Importance: got %q, want %q", got, "high")
	}
}

func TestSend_RcptRejectedClosesSession(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{rcptErr: &textproto.Error{Code: 550, Msg: "mailbox unavailable"}}
	out := New(testSender, &fakeOpener{session: sess}).Send(context.Background(), testMessage())

	if out.Success {
		t.Fatal("Success: got true, want false")
	}
	if sess.closed != 1 {
		t.Errorf("Close calls: got %d, want 1", sess.closed)
	}

	var terr *email.TransportError
	if !errors.As(out.Err, &terr) {
		t.Fatalf("Err: got %T, want *email.TransportError", out.Err)
	}
	if terr.StatusCode != 550 {
		t.Errorf("StatusCode: got %d, want 550", terr.StatusCode)
	}
	if !strings.Contains(out.Message, "mailbox unavailable") {
		t.Errorf("Message: got %q, want server reply", out.Message)
	}
}

func TestSend_DataErrorClosesSession(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{dataErr: errors.New("connection reset")}
	out := New(testSender, &fakeOpener{session: sess}).Send(context.Background(), testMessage())

	if out.Success {
		t.Fatal("Success: got true, want false")
	}
	if sess.closed != 1 {
		t.Errorf("Close calls: got %d, want 1", sess.closed)
	}
	if !strings.Contains(out.Message, "connection reset") {
		t.Errorf("Message: got %q, want underlying error", out.Message)
	}
}

func TestSend_OpenErrorIsAuthError(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{err: errors.New("535 authentication failed")}
	out := New(testSender, opener).Send(context.Background(), testMessage())

	if out.Success {
		t.Fatal("Success: got true, want false")
	}
	var aerr *email.AuthError
	if !errors.As(out.Err, &aerr) {
		t.Fatalf("Err: got %T, want *email.AuthError", out.Err)
	}
	if aerr.Provider != "smtp" {
		t.Errorf("Provider: got %q, want %q", aerr.Provider, "smtp")
	}
}

func TestSend_OpenAuthErrorPassedThrough(t *testing.T) {
	t.Parallel()

	cause := &email.AuthError{Provider: "smtp", Err: errors.New("STARTTLS not offered")}
	out := New(testSender, &fakeOpener{err: cause}).Send(context.Background(), testMessage())

	if !errors.Is(out.Err, cause) {
		t.Errorf("Err: got %v, want the opener's AuthError", out.Err)
	}
	if strings.Count(out.Message, "authentication failed") != 1 {
		t.Errorf("Message: got %q, want a single authentication prefix", out.Message)
	}
}

func TestSend_CancelledBeforeOpen(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{session: &fakeSession{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := New(testSender, opener).Send(ctx, testMessage())
	if out.Success {
		t.Fatal("Success: got true, want false")
	}
	if opener.opens != 0 {
		t.Errorf("Open calls: got %d, want 0", opener.opens)
	}
}

func TestPrepare_NilMessage(t *testing.T) {
	t.Parallel()

	p := New(testSender, &fakeOpener{})
	if _, err := p.Prepare(nil); !errors.Is(err, email.ErrNilMessage) {
		t.Errorf("Prepare(nil): got %v, want ErrNilMessage", err)
	}
	if p.Name() != "smtp" {
		t.Errorf("Name: got %q, want %q", p.Name(), "smtp")
	}
}
