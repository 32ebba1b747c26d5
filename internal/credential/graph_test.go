package credential

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// tokenServer answers client-credentials and refresh-token grants.
type tokenServer struct {
	*httptest.Server
	clientCredentials atomic.Int32
	refreshGrants     atomic.Int32
	lastScope         atomic.Value
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("client_id") != "client" || r.PostForm.Get("client_secret") != "secret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("grant_type") {
		case "client_credentials":
			ts.clientCredentials.Add(1)
			ts.lastScope.Store(r.PostForm.Get("scope"))
			_, _ = w.Write([]byte(`{"access_token":"app-token","token_type":"Bearer","expires_in":3600}`))
		case "refresh_token":
			ts.refreshGrants.Add(1)
			if r.PostForm.Get("refresh_token") != "rt-1" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"user-token","token_type":"Bearer","expires_in":3600,"refresh_token":"rt-2"}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestNewGraphTokens_MissingCredentials(t *testing.T) {
	t.Parallel()

	_, err := NewGraphTokens(GraphConfig{TenantID: "tenant", ClientID: "client"})
	assert.ErrorIs(t, err, ErrMissingGraphCredentials)
}

func TestGraphTokens_ClientCredentials(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t)
	tokens, err := NewGraphTokens(GraphConfig{
		TenantID:     "tenant",
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     ts.URL,
	})
	require.NoError(t, err)

	tok, err := tokens.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "app-token", tok)
	assert.Equal(t, GraphDefaultScope, ts.lastScope.Load())

	// Cached until expiry
	tok, err = tokens.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "app-token", tok)
	assert.Equal(t, int32(1), ts.clientCredentials.Load())
}

func TestGraphTokens_InvalidClient(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t)
	tokens, err := NewGraphTokens(GraphConfig{
		TenantID:     "tenant",
		ClientID:     "client",
		ClientSecret: "wrong",
		TokenURL:     ts.URL,
	})
	require.NoError(t, err)

	_, err = tokens.Token(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_client")

	var retrieveErr *oauth2.RetrieveError
	require.True(t, errors.As(err, &retrieveErr))
	assert.Equal(t, http.StatusUnauthorized, retrieveErr.Response.StatusCode)
}

func TestGraphTokens_RefreshTokenRotation(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t)
	path := filepath.Join(t.TempDir(), "refresh_token.txt")
	require.NoError(t, os.WriteFile(path, []byte("rt-1\n"), 0o600))

	tokens, err := NewGraphTokens(GraphConfig{
		TenantID:         "tenant",
		ClientID:         "client",
		ClientSecret:     "secret",
		TokenURL:         ts.URL,
		RefreshTokenFile: path,
	})
	require.NoError(t, err)

	tok, err := tokens.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-token", tok)
	assert.Equal(t, int32(1), ts.refreshGrants.Load())
	assert.Equal(t, int32(0), ts.clientCredentials.Load())

	stored, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "rt-2", string(stored))
}

func TestGraphTokens_RefreshFailureFallsBack(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t)
	path := filepath.Join(t.TempDir(), "refresh_token.txt")
	require.NoError(t, os.WriteFile(path, []byte("revoked"), 0o600))

	tokens, err := NewGraphTokens(GraphConfig{
		TenantID:         "tenant",
		ClientID:         "client",
		ClientSecret:     "secret",
		TokenURL:         ts.URL,
		RefreshTokenFile: path,
	})
	require.NoError(t, err)

	tok, err := tokens.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "app-token", tok)
	assert.Equal(t, int32(1), ts.refreshGrants.Load())
	assert.Equal(t, int32(1), ts.clientCredentials.Load())

	stored, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "revoked", string(stored))
}

func TestGraphTokens_MissingRefreshFileUsesClientCredentials(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t)
	tokens, err := NewGraphTokens(GraphConfig{
		TenantID:         "tenant",
		ClientID:         "client",
		ClientSecret:     "secret",
		TokenURL:         ts.URL,
		RefreshTokenFile: filepath.Join(t.TempDir(), "absent.txt"),
	})
	require.NoError(t, err)

	tok, err := tokens.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "app-token", tok)
	assert.Equal(t, int32(0), ts.refreshGrants.Load())
}
