package mock

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/giantswarm/given/pkg/logging"
)

// OAuthServerConfig configures the mock OAuth server behavior.
type OAuthServerConfig struct {
	// ClientID is the expected client id. Defaults to "test-client".
	ClientID string

	// ClientSecret is the expected client secret. Empty accepts any secret.
	ClientSecret string

	// AcceptedScopes lists scopes the server will grant. Empty grants any.
	AcceptedScopes []string

	// TokenLifetime is how long tokens remain valid. Defaults to one hour.
	TokenLifetime time.Duration

	// GrantTypes is advertised in the metadata documents. Defaults to
	// client_credentials.
	GrantTypes []string

	// DisableRFC8414 serves only the OpenID Connect discovery document.
	DisableRFC8414 bool

	// SimulateErrors can be set to simulate various error conditions.
	SimulateErrors *OAuthErrorSimulation

	// Clock defaults to RealClock.
	Clock Clock

	// UseTLS serves over HTTPS with a self-signed certificate. Use Client to
	// obtain an HTTP client that trusts it.
	UseTLS bool
}

// OAuthErrorSimulation allows simulating error conditions.
type OAuthErrorSimulation struct {
	// TokenEndpointError returns this description as a server_error from /token.
	TokenEndpointError string

	// InvalidClient rejects every client authentication.
	InvalidClient bool

	// TokenEndpointDelay delays every /token response.
	TokenEndpointDelay time.Duration
}

// TokenResponse is the OAuth token response.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

type issuedToken struct {
	ClientID  string
	Scope     string
	ExpiresAt time.Time
}

// OAuthServer is a mock client credentials authorization server.
type OAuthServer struct {
	config OAuthServerConfig
	server *httptest.Server

	mu     sync.RWMutex
	tokens map[string]*issuedToken

	tokenRequests    atomic.Int32
	metadataRequests atomic.Int32
}

// NewOAuthServer creates a server. Call Start before use.
func NewOAuthServer(config OAuthServerConfig) *OAuthServer {
	if config.ClientID == "" {
		config.ClientID = "test-client"
	}
	if config.TokenLifetime == 0 {
		config.TokenLifetime = time.Hour
	}
	if len(config.GrantTypes) == 0 {
		config.GrantTypes = []string{"client_credentials"}
	}
	if config.Clock == nil {
		config.Clock = RealClock{}
	}
	return &OAuthServer{config: config, tokens: make(map[string]*issuedToken)}
}

// Start listens on a random loopback port.
func (s *OAuthServer) Start() {
	mux := http.NewServeMux()
	if !s.config.DisableRFC8414 {
		mux.HandleFunc("/.well-known/oauth-authorization-server", s.handleMetadata)
	}
	mux.HandleFunc("/.well-known/openid-configuration", s.handleMetadata)
	mux.HandleFunc("/token", s.handleToken)

	s.server = httptest.NewUnstartedServer(mux)
	if s.config.UseTLS {
		s.server.StartTLS()
	} else {
		s.server.Start()
	}
	logging.Debug("MockOAuth", "Mock OAuth server started (issuer: %s)", s.server.URL)
}

// Close stops the server.
func (s *OAuthServer) Close() {
	if s.server != nil {
		s.server.Close()
	}
}

// IssuerURL returns the issuer identifier, which is also the base URL.
func (s *OAuthServer) IssuerURL() string { return s.server.URL }

// TokenURL returns the token endpoint.
func (s *OAuthServer) TokenURL() string { return s.server.URL + "/token" }

// Client returns an HTTP client that trusts the server certificate.
func (s *OAuthServer) Client() *http.Client { return s.server.Client() }

// TokenRequests counts requests to the token endpoint, including rejected ones.
func (s *OAuthServer) TokenRequests() int { return int(s.tokenRequests.Load()) }

// MetadataRequests counts discovery document requests.
func (s *OAuthServer) MetadataRequests() int { return int(s.metadataRequests.Load()) }

// ValidateToken reports whether accessToken was issued by s and has not expired.
func (s *OAuthServer) ValidateToken(accessToken string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[accessToken]
	return ok && s.config.Clock.Now().Before(tok.ExpiresAt)
}

// RevokeToken removes accessToken and reports whether it existed.
func (s *OAuthServer) RevokeToken(accessToken string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tokens[accessToken]
	delete(s.tokens, accessToken)
	return ok
}

// Protect wraps next so that it only serves requests bearing a valid token.
func (s *OAuthServer) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ValidateToken(ExtractBearerToken(r.Header.Get("Authorization"))) {
			w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm=%q, error="invalid_token"`, s.IssuerURL()))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *OAuthServer) handleMetadata(w http.ResponseWriter, _ *http.Request) {
	s.metadataRequests.Add(1)
	issuer := s.IssuerURL()
	metadata := map[string]any{
		"issuer":                                issuer,
		"token_endpoint":                        issuer + "/token",
		"grant_types_supported":                 s.config.GrantTypes,
		"token_endpoint_auth_methods_supported": []string{"client_secret_basic", "client_secret_post"},
	}
	if len(s.config.AcceptedScopes) > 0 {
		metadata["scopes_supported"] = s.config.AcceptedScopes
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(metadata)
}

func (s *OAuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	s.tokenRequests.Add(1)
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		tokenError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if sim := s.config.SimulateErrors; sim != nil {
		if sim.TokenEndpointDelay > 0 {
			time.Sleep(sim.TokenEndpointDelay)
		}
		if sim.TokenEndpointError != "" {
			tokenError(w, http.StatusBadRequest, "server_error", sim.TokenEndpointError)
			return
		}
	}

	if grant := r.PostForm.Get("grant_type"); grant != "client_credentials" {
		tokenError(w, http.StatusBadRequest, "unsupported_grant_type", fmt.Sprintf("grant_type %s not supported", grant))
		return
	}

	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		clientID, clientSecret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	if !s.authenticate(clientID, clientSecret) {
		tokenError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}

	scope := r.PostForm.Get("scope")
	if !s.scopesAccepted(scope) {
		tokenError(w, http.StatusBadRequest, "invalid_scope", fmt.Sprintf("scope %q not accepted", scope))
		return
	}

	access := generateOpaqueToken()
	s.mu.Lock()
	s.tokens[access] = &issuedToken{
		ClientID:  clientID,
		Scope:     scope,
		ExpiresAt: s.config.Clock.Now().Add(s.config.TokenLifetime),
	}
	s.mu.Unlock()

	logging.Debug("MockOAuth", "Issued token for client=%s scope=%q", clientID, scope)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.config.TokenLifetime / time.Second),
		Scope:       scope,
	})
}

func (s *OAuthServer) authenticate(clientID, clientSecret string) bool {
	if s.config.SimulateErrors != nil && s.config.SimulateErrors.InvalidClient {
		return false
	}
	if clientID != s.config.ClientID {
		return false
	}
	return s.config.ClientSecret == "" || clientSecret == s.config.ClientSecret
}

func (s *OAuthServer) scopesAccepted(scope string) bool {
	if len(s.config.AcceptedScopes) == 0 {
		return true
	}
	for _, requested := range strings.Fields(scope) {
		found := false
		for _, accepted := range s.config.AcceptedScopes {
			if requested == accepted {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func tokenError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// generateOpaqueToken panics if crypto/rand fails.
func generateOpaqueToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Errorf("crypto/rand failed: %w", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// ExtractBearerToken returns the token of a "Bearer <token>" header value.
func ExtractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) > len(prefix) && strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return authHeader[len(prefix):]
	}
	return ""
}
