package credential

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shineum/mailgate/internal/email"
	smtpprovider "github.com/shineum/mailgate/internal/provider/smtp"
)

// DefaultSMTPPort is the message submission port.
const DefaultSMTPPort = 587

// DefaultSMTPTimeout bounds a whole SMTP session.
const DefaultSMTPTimeout = 60 * time.Second

// ErrNoStartTLS is returned when the relay does not offer STARTTLS.
var ErrNoStartTLS = errors.New("server does not offer STARTTLS")

// SMTPConfig describes the submission relay and the account used on it.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	// LocalName is sent in EHLO. Defaults to "localhost".
	LocalName string

	// Timeout bounds dialing and the whole session. The context deadline
	// wins when it is earlier.
	Timeout time.Duration

	// TLS configures the STARTTLS upgrade. ServerName defaults to Host.
	TLS *tls.Config
}

// SMTPDialer opens STARTTLS-secured, authenticated SMTP sessions. PLAIN is
// used when offered, LOGIN otherwise.
type SMTPDialer struct {
	cfg SMTPConfig
}

// NewSMTPDialer applies defaults to cfg.
func NewSMTPDialer(cfg SMTPConfig) *SMTPDialer {
	if cfg.Port == 0 {
		cfg.Port = DefaultSMTPPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSMTPTimeout
	}
	return &SMTPDialer{cfg: cfg}
}

// Open dials the relay, upgrades with STARTTLS and authenticates. Every
// failure is reported as *email.AuthError.
func (d *SMTPDialer) Open(ctx context.Context) (smtpprovider.Session, error) {
	deadline := time.Now().Add(d.cfg.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	addr := net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))
	dialer := &net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, authError("connect", err)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return nil, authError("connect", err)
	}

	c, err := smtp.NewClient(conn, d.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, authError("greeting", err)
	}

	if err := d.secure(c); err != nil {
		_ = c.Close()
		return nil, err
	}

	return &session{client: c}, nil
}

func (d *SMTPDialer) secure(c *smtp.Client) error {
	localName := d.cfg.LocalName
	if localName == "" {
		localName = "localhost"
	}
	if err := c.Hello(localName); err != nil {
		return authError("EHLO", err)
	}

	if ok, _ := c.Extension("STARTTLS"); !ok {
		return authError("STARTTLS", ErrNoStartTLS)
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if d.cfg.TLS != nil {
		tlsConfig = d.cfg.TLS.Clone()
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = d.cfg.Host
	}
	if err := c.StartTLS(tlsConfig); err != nil {
		return authError("STARTTLS", err)
	}

	if d.cfg.Username == "" {
		return nil
	}
	mechanism, auth := d.auth(c)
	if err := c.Auth(auth); err != nil {
		return authError("AUTH "+mechanism, err)
	}
	return nil
}

// auth picks PLAIN unless the relay advertises LOGIN alone.
func (d *SMTPDialer) auth(c *smtp.Client) (string, smtp.Auth) {
	_, advertised := c.Extension("AUTH")
	mechanisms := strings.Fields(strings.ToUpper(advertised))
	if slices.Contains(mechanisms, "LOGIN") && !slices.Contains(mechanisms, "PLAIN") {
		return "LOGIN", &loginAuth{username: d.cfg.Username, password: d.cfg.Password}
	}
	return "PLAIN", smtp.PlainAuth("", d.cfg.Username, d.cfg.Password, d.cfg.Host)
}

// loginAuth implements the LOGIN SASL mechanism, answering the
// "Username:" and "Password:" challenges in turn.
type loginAuth struct {
	username string
	password string
}

func (a *loginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS {
		return "", nil, errors.New("unencrypted connection")
	}
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(string(fromServer))) {
	case "username:":
		return []byte(a.username), nil
	case "password:":
		return []byte(a.password), nil
	default:
		return nil, fmt.Errorf("unexpected LOGIN challenge %q", fromServer)
	}
}

func authError(stage string, err error) error {
	return &email.AuthError{Provider: smtpprovider.Name, Err: fmt.Errorf("%s: %w", stage, err)}
}

// session adapts *smtp.Client to the provider's Session.
type session struct {
	client *smtp.Client
}

func (s *session) Mail(from string) error { return s.client.Mail(from) }

func (s *session) Rcpt(to string) error { return s.client.Rcpt(to) }

func (s *session) Data() (io.WriteCloser, error) { return s.client.Data() }

// Close sends QUIT, dropping the connection if the server does not answer.
func (s *session) Close() error {
	if err := s.client.Quit(); err != nil {
		_ = s.client.Close()
		return err
	}
	return nil
}
