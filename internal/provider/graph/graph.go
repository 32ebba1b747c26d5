package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shineum/mailgate/internal/email"
	"github.com/shineum/mailgate/internal/provider"
)

// Name is the configuration name of the Graph provider.
const Name = "graph"

// DefaultEndpoint is the Graph v1.0 API root.
const DefaultEndpoint = "https://graph.microsoft.com/v1.0"

// requestTimeout bounds the single sendMail call.
const requestTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response is kept in the outcome.
const maxErrorBody = 64 * 1024

// TokenSource returns a bearer token for the Graph API.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// GraphProviderConfig holds the configuration for creating a GraphProvider.
type GraphProviderConfig struct {
	// Endpoint is the API root, DefaultEndpoint when empty.
	Endpoint string
	// User selects /users/{User}/sendMail. When empty the signed-in
	// mailbox (/me/sendMail) is used.
	User string
}

// GraphProvider sends emails via the Microsoft Graph API using a bearer
// token obtained per delivery.
type GraphProvider struct {
	sendURL    string
	httpClient *http.Client
	tokens     TokenSource
}

// New creates a new GraphProvider with the given configuration.
func New(cfg GraphProviderConfig, tokens TokenSource) *GraphProvider {
	return NewWithClient(cfg, tokens, &http.Client{Timeout: requestTimeout})
}

// NewWithClient creates a GraphProvider with a custom HTTP client.
func NewWithClient(cfg GraphProviderConfig, tokens TokenSource, client *http.Client) *GraphProvider {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	sendURL := endpoint + "/me/sendMail"
	if cfg.User != "" {
		sendURL = endpoint + "/users/" + url.PathEscape(cfg.User) + "/sendMail"
	}

	return &GraphProvider{
		sendURL:    sendURL,
		httpClient: client,
		tokens:     tokens,
	}
}

// Name returns the provider name.
func (g *GraphProvider) Name() string {
	return Name
}

// Prepare encodes msg, including its attachments, as a sendMail JSON body.
func (g *GraphProvider) Prepare(msg *email.Email) (provider.Delivery, error) {
	if msg == nil {
		return nil, email.ErrNilMessage
	}

	body, err := json.Marshal(buildSendMailRequest(msg))
	if err != nil {
		return nil, &email.EncodingError{Subject: "graph sendMail body", Err: err}
	}

	return provider.DeliveryFunc(func(ctx context.Context) email.Outcome {
		return g.deliver(ctx, msg.Subject, body)
	}), nil
}

// Send delivers msg with a single sendMail call.
func (g *GraphProvider) Send(ctx context.Context, msg *email.Email) email.Outcome {
	return provider.Send(ctx, g, msg)
}

// deliver performs one authenticated POST to the sendMail endpoint.
func (g *GraphProvider) deliver(ctx context.Context, subject string, body []byte) email.Outcome {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		slog.Error("failed to get Graph access token", "error", err)
		return email.Failed(&email.AuthError{Provider: Name, Err: err})
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.sendURL, bytes.NewReader(body))
	if err != nil {
		return email.Failed(&email.TransportError{Provider: Name, Err: fmt.Errorf("failed to create request: %w", err)})
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	slog.Info("sending email via Graph API", "subject", subject)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		slog.Error("Graph API request failed", "error", err)
		return email.Failed(&email.TransportError{Provider: Name, Err: err})
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is the only success status for sendMail
	if resp.StatusCode == http.StatusAccepted {
		return email.Succeeded("email sent", resp.Header.Get("request-id"))
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	slog.Error("Graph API rejected sendMail",
		"status", resp.StatusCode,
		"body", string(respBody),
	)
	return email.Failed(&email.TransportError{
		Provider:   Name,
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
	})
}
