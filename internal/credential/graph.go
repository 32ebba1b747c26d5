// Package credential obtains the secrets each transport needs at delivery
// time: Graph bearer tokens and authenticated SMTP sessions.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/microsoft"
)

// GraphDefaultScope requests the application permissions granted to the
// client in the tenant.
const GraphDefaultScope = "https://graph.microsoft.com/.default"

// ErrMissingGraphCredentials is returned when tenant, client ID or secret is empty.
var ErrMissingGraphCredentials = errors.New("graph tenant ID, client ID and client secret are required")

// GraphConfig holds the Azure AD application registration.
type GraphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	// RefreshTokenFile optionally holds a delegated refresh token. When it
	// exists it is tried before the client-credentials grant and rewritten
	// whenever the token endpoint rotates the refresh token.
	RefreshTokenFile string

	// TokenURL overrides the Azure AD token endpoint.
	TokenURL string

	// HTTPClient is used for token requests when set.
	HTTPClient *http.Client
}

// GraphTokens is a cached Graph bearer token source.
type GraphTokens struct {
	cfg               GraphConfig
	clientCredentials *clientcredentials.Config
	delegated         *oauth2.Config

	mu     sync.Mutex
	cached *oauth2.Token
}

// NewGraphTokens validates cfg and builds the token source.
func NewGraphTokens(cfg GraphConfig) (*GraphTokens, error) {
	if cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrMissingGraphCredentials
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{GraphDefaultScope}
	}

	endpoint := microsoft.AzureADEndpoint(cfg.TenantID)
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	return &GraphTokens{
		cfg: cfg,
		clientCredentials: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     endpoint.TokenURL,
			Scopes:       cfg.Scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		delegated: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       cfg.Scopes,
		},
	}, nil
}

// Token returns a valid access token, requesting a new one only when the
// cached token has expired.
func (g *GraphTokens) Token(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cached.Valid() {
		return g.cached.AccessToken, nil
	}

	if g.cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.cfg.HTTPClient)
	}

	if tok := g.fromRefreshToken(ctx); tok != nil {
		g.cached = tok
		return tok.AccessToken, nil
	}

	tok, err := g.clientCredentials.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("client credentials grant: %w", err)
	}

	slog.Debug("obtained Graph token with client credentials", "expiry", tok.Expiry)
	g.cached = tok
	return tok.AccessToken, nil
}

// fromRefreshToken redeems the stored refresh token. It returns nil when
// no token is stored or the grant fails, so the caller can fall back to
// client credentials.
func (g *GraphTokens) fromRefreshToken(ctx context.Context) *oauth2.Token {
	if g.cfg.RefreshTokenFile == "" {
		return nil
	}

	data, err := os.ReadFile(g.cfg.RefreshTokenFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to read refresh token file", "path", g.cfg.RefreshTokenFile, "error", err)
		}
		return nil
	}
	refresh := strings.TrimSpace(string(data))
	if refresh == "" {
		return nil
	}

	tok, err := g.delegated.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh}).Token()
	if err != nil {
		slog.Warn("refresh token grant failed, falling back to client credentials", "error", err)
		return nil
	}

	if tok.RefreshToken != "" && tok.RefreshToken != refresh {
		if err := os.WriteFile(g.cfg.RefreshTokenFile, []byte(tok.RefreshToken), 0o600); err != nil {
			slog.Warn("failed to store rotated refresh token", "path", g.cfg.RefreshTokenFile, "error", err)
		}
	}

	slog.Debug("obtained Graph token with refresh token", "expiry", tok.Expiry)
	return tok
}
