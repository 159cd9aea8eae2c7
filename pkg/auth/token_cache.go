package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/given/pkg/logging"
	"github.com/giantswarm/given/pkg/oauth"
)

// TokenExpiryMargin is subtracted from a token's expiry when deciding
// whether it can be reused. It covers clock skew and request latency.
const TokenExpiryMargin = 30 * time.Second

// TokenKey identifies a cached client credentials token.
type TokenKey struct {
	ClientID string
	TokenURL string
}

// TokenCache is a concurrency safe store of client credentials tokens.
// Expired entries are refreshed synchronously on the next Token call;
// concurrent refreshes of the same key share one token request.
type TokenCache struct {
	mu     sync.RWMutex
	tokens map[TokenKey]*oauth2.Token
	group  singleflight.Group

	margin time.Duration
	client *http.Client
	now    func() time.Time

	discoveryOnce sync.Once
	discovery     *oauth.Client
}

// TokenCacheOption configures a TokenCache.
type TokenCacheOption func(*TokenCache)

// WithHTTPClient sets the client used for token requests.
func WithHTTPClient(c *http.Client) TokenCacheOption {
	return func(tc *TokenCache) { tc.client = c }
}

// WithExpiryMargin overrides TokenExpiryMargin.
func WithExpiryMargin(d time.Duration) TokenCacheOption {
	return func(tc *TokenCache) { tc.margin = d }
}

// NewTokenCache creates an empty token cache.
func NewTokenCache(opts ...TokenCacheOption) *TokenCache {
	tc := &TokenCache{
		tokens: make(map[TokenKey]*oauth2.Token),
		margin: TokenExpiryMargin,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(tc)
	}
	return tc
}

var (
	defaultTokenCache     *TokenCache
	defaultTokenCacheOnce sync.Once
)

// DefaultTokenCache returns the process wide token cache.
func DefaultTokenCache() *TokenCache {
	defaultTokenCacheOnce.Do(func() {
		defaultTokenCache = NewTokenCache()
	})
	return defaultTokenCache
}

func (tc *TokenCache) expired(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return true
	}
	if tok.Expiry.IsZero() {
		return false
	}
	return tc.now().Add(tc.margin).After(tok.Expiry)
}

// Get returns the cached token for key, or nil if it is missing or within
// the expiry margin.
func (tc *TokenCache) Get(key TokenKey) *oauth2.Token {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	tok, ok := tc.tokens[key]
	if !ok || tc.expired(tok) {
		return nil
	}
	return tok
}

// Store saves tok under key.
func (tc *TokenCache) Store(key TokenKey, tok *oauth2.Token) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.tokens[key] = tok
	logging.Debug("Auth", "Stored token for client=%s token_url=%s (expires: %v)", key.ClientID, key.TokenURL, tok.Expiry)
}

// WithDiscovery sets the client used to discover token endpoints from issuers.
func WithDiscovery(c *oauth.Client) TokenCacheOption {
	return func(tc *TokenCache) { tc.discovery = c }
}

func (tc *TokenCache) discoverer() *oauth.Client {
	tc.discoveryOnce.Do(func() {
		if tc.discovery != nil {
			return
		}
		var opts []oauth.ClientOption
		if tc.client != nil {
			opts = append(opts, oauth.WithHTTPClient(tc.client))
		}
		tc.discovery = oauth.NewClient(opts...)
	})
	return tc.discovery
}

// tokenURL returns cfg.TokenURL or the endpoint advertised by cfg.Issuer.
func (tc *TokenCache) tokenURL(ctx context.Context, cfg *OAuth2) (string, error) {
	if cfg.TokenURL != "" {
		return cfg.TokenURL, nil
	}
	md, err := tc.discoverer().DiscoverMetadata(ctx, cfg.Issuer)
	if err != nil {
		return "", err
	}
	if !md.SupportsGrant(oauth.GrantClientCredentials) {
		return "", fmt.Errorf("issuer %s does not support the %s grant", cfg.Issuer, oauth.GrantClientCredentials)
	}
	return md.TokenEndpoint, nil
}

// Token returns a valid token for cfg, requesting a new one when the cached
// entry is missing or expired.
func (tc *TokenCache) Token(ctx context.Context, cfg *OAuth2) (*oauth2.Token, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tokenURL, err := tc.tokenURL(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cfg = cfg.clone()
	cfg.TokenURL = tokenURL
	key := cfg.Key()
	if tok := tc.Get(key); tok != nil {
		return tok, nil
	}

	v, err, _ := tc.group.Do(key.ClientID+"\x00"+key.TokenURL, func() (any, error) {
		// Another caller may have refreshed while we waited for the group.
		if tok := tc.Get(key); tok != nil {
			return tok, nil
		}
		tok, err := tc.fetch(ctx, cfg)
		if err != nil {
			return nil, err
		}
		tc.Store(key, tok)
		return tok, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

func (tc *TokenCache) fetch(ctx context.Context, cfg *OAuth2) (*oauth2.Token, error) {
	ccfg := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	if len(cfg.EndpointParams) > 0 {
		ccfg.EndpointParams = url.Values{}
		for k, v := range cfg.EndpointParams {
			ccfg.EndpointParams.Set(k, v)
		}
	}
	if tc.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, tc.client)
	}

	logging.Debug("Auth", "Requesting client credentials token for client=%s", cfg.ClientID)
	tok, err := ccfg.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain oauth2 token from %s: %w", cfg.TokenURL, err)
	}
	return tok, nil
}

// Invalidate drops the token for key.
func (tc *TokenCache) Invalidate(key TokenKey) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	delete(tc.tokens, key)
}

// Clear drops all tokens.
func (tc *TokenCache) Clear() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.tokens = make(map[TokenKey]*oauth2.Token)
}

// Len returns the number of cached tokens, including expired ones.
func (tc *TokenCache) Len() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return len(tc.tokens)
}
