package mock

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, cfg OAuthServerConfig) *OAuthServer {
	t.Helper()
	srv := NewOAuthServer(cfg)
	srv.Start()
	t.Cleanup(srv.Close)
	return srv
}

func requestToken(t *testing.T, srv *OAuthServer, form url.Values) (*http.Response, TokenResponse) {
	t.Helper()
	resp, err := srv.Client().PostForm(srv.TokenURL(), form)
	require.NoError(t, err)
	defer resp.Body.Close()
	var tok TokenResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&tok))
	}
	return resp, tok
}

func clientForm(id, secret string) url.Values {
	return url.Values{"grant_type": {"client_credentials"}, "client_id": {id}, "client_secret": {secret}}
}

func TestOAuthServer_Metadata(t *testing.T) {
	srv := startServer(t, OAuthServerConfig{AcceptedScopes: []string{"read"}})

	for _, path := range []string{"/.well-known/oauth-authorization-server", "/.well-known/openid-configuration"} {
		resp, err := srv.Client().Get(srv.IssuerURL() + path)
		require.NoError(t, err)
		var md map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&md))
		resp.Body.Close()

		assert.Equal(t, srv.IssuerURL(), md["issuer"])
		assert.Equal(t, srv.TokenURL(), md["token_endpoint"])
		assert.Equal(t, []any{"client_credentials"}, md["grant_types_supported"])
		assert.Equal(t, []any{"read"}, md["scopes_supported"])
	}
	assert.Equal(t, 2, srv.MetadataRequests())
}

func TestOAuthServer_DisableRFC8414(t *testing.T) {
	srv := startServer(t, OAuthServerConfig{DisableRFC8414: true})
	resp, err := srv.Client().Get(srv.IssuerURL() + "/.well-known/oauth-authorization-server")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOAuthServer_IssueAndValidate(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	srv := startServer(t, OAuthServerConfig{
		ClientID: "svc", ClientSecret: "secret", TokenLifetime: time.Minute, Clock: clock,
	})

	resp, tok := requestToken(t, srv, clientForm("svc", "secret"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, 60, tok.ExpiresIn)
	assert.True(t, srv.ValidateToken(tok.AccessToken))

	clock.Advance(2 * time.Minute)
	assert.False(t, srv.ValidateToken(tok.AccessToken), "expired")
	assert.False(t, srv.ValidateToken("unknown"))
}

func TestOAuthServer_BasicAuthClient(t *testing.T) {
	srv := startServer(t, OAuthServerConfig{ClientID: "svc", ClientSecret: "secret"})

	req, err := http.NewRequest(http.MethodPost, srv.TokenURL(), strings.NewReader("grant_type=client_credentials"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("svc", "secret")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOAuthServer_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		cfg    OAuthServerConfig
		form   url.Values
		status int
	}{
		{"wrong secret", OAuthServerConfig{ClientID: "svc", ClientSecret: "secret"}, clientForm("svc", "nope"), http.StatusUnauthorized},
		{"wrong client", OAuthServerConfig{ClientID: "svc"}, clientForm("other", ""), http.StatusUnauthorized},
		{"unsupported grant", OAuthServerConfig{ClientID: "svc"}, url.Values{"grant_type": {"password"}, "client_id": {"svc"}}, http.StatusBadRequest},
		{"scope", OAuthServerConfig{ClientID: "svc", AcceptedScopes: []string{"read"}}, func() url.Values {
			f := clientForm("svc", "")
			f.Set("scope", "read write")
			return f
		}(), http.StatusBadRequest},
		{"invalid client simulation", OAuthServerConfig{ClientID: "svc", SimulateErrors: &OAuthErrorSimulation{InvalidClient: true}}, clientForm("svc", ""), http.StatusUnauthorized},
		{"server error simulation", OAuthServerConfig{ClientID: "svc", SimulateErrors: &OAuthErrorSimulation{TokenEndpointError: "down"}}, clientForm("svc", ""), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := startServer(t, tt.cfg)
			resp, _ := requestToken(t, srv, tt.form)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, 1, srv.TokenRequests())
		})
	}
}

func TestOAuthServer_Protect(t *testing.T) {
	srv := startServer(t, OAuthServerConfig{ClientID: "svc", UseTLS: true})
	api := srv.Protect(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `error="invalid_token"`)

	_, tok := requestToken(t, srv, clientForm("svc", ""))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	rec = httptest.NewRecorder()
	api.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.True(t, srv.RevokeToken(tok.AccessToken))
	assert.False(t, srv.RevokeToken(tok.AccessToken))
}

func TestExtractBearerToken(t *testing.T) {
	assert.Equal(t, "abc", ExtractBearerToken("Bearer abc"))
	assert.Equal(t, "abc", ExtractBearerToken("bearer abc"))
	assert.Empty(t, ExtractBearerToken("Basic abc"))
	assert.Empty(t, ExtractBearerToken("Bearer "))
}
