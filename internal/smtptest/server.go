// Package smtptest provides an in-process SMTP submission relay for
// exercising the outbound SMTP client end to end. It speaks EHLO,
// STARTTLS, AUTH (PLAIN and LOGIN), MAIL, RCPT and DATA and records every
// accepted message.
package smtptest

import (
	"crypto/tls"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"
)

// Config controls the relay's capabilities.
type Config struct {
	// Hostname is used in the greeting and EHLO responses.
	Hostname string

	// TLSConfig enables STARTTLS. If nil, STARTTLS is not advertised.
	TLSConfig *tls.Config

	// Username and Password enable AUTH and make it mandatory before MAIL.
	Username string
	Password string

	// AuthMechanisms lists the advertised SASL mechanisms. Defaults to
	// PLAIN and LOGIN.
	AuthMechanisms []string

	// RejectRecipients lists addresses answered with 550 at RCPT.
	RejectRecipients []string
}

// Message is a mail transaction accepted by the relay.
type Message struct {
	From string
	To   []string
	Data []byte
	TLS  bool
}

// Server is a running relay bound to a loopback port.
type Server struct {
	config   Config
	auth     *authenticator
	listener net.Listener

	mu       sync.Mutex
	messages []Message

	// wg tracks in-flight session goroutines.
	wg sync.WaitGroup
}

// NewServer starts a relay on 127.0.0.1 with an ephemeral port.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if len(cfg.AuthMechanisms) == 0 {
		cfg.AuthMechanisms = []string{"PLAIN", "LOGIN"}
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:   cfg,
		auth:     &authenticator{username: cfg.Username, password: cfg.Password},
		listener: ln,
	}

	go s.serve()
	return s, nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Listener closed
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			newSession(conn, s).handle()
		}()
	}
}

// Close stops accepting connections and waits for open sessions to end.
func (s *Server) Close() {
	if err := s.listener.Close(); err != nil {
		slog.Debug("relay listener close failed", "error", err)
	}
	s.wg.Wait()
}

// Host returns the listener IP address.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.listener.Addr().String())
	return host
}

// Port returns the listener port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.listener.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// Messages returns a copy of the accepted messages.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

func (s *Server) record(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

func (s *Server) offers(mechanism string) bool {
	return slices.Contains(s.config.AuthMechanisms, mechanism)
}

func (s *Server) rejects(addr string) bool {
	return slices.Contains(s.config.RejectRecipients, addr)
}
