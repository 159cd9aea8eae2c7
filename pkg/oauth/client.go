package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/given/pkg/logging"
)

const (
	// DefaultHTTPTimeout is the default timeout for metadata requests.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultMetadataCacheTTL is the default TTL for cached OAuth metadata.
	DefaultMetadataCacheTTL = 30 * time.Minute

	maxMetadataSize = 1 << 20
)

// metadataCacheEntry holds cached OAuth metadata with its timestamp.
type metadataCacheEntry struct {
	metadata  *Metadata
	fetchedAt time.Time
}

// Client discovers and caches authorization server metadata.
type Client struct {
	httpClient *http.Client

	metadataMu    sync.RWMutex
	metadataCache map[string]*metadataCacheEntry
	metadataTTL   time.Duration

	// metadataGroup deduplicates concurrent fetches per issuer.
	metadataGroup singleflight.Group

	now func() time.Time
}

// ClientOption configures the OAuth client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithMetadataCacheTTL sets the metadata cache TTL.
func WithMetadataCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.metadataTTL = ttl
	}
}

// NewClient creates a new OAuth client.
func NewClient(opts ...ClientOption) *Client {
	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = DefaultHTTPTimeout
	c := &Client{
		httpClient:    httpClient,
		metadataCache: make(map[string]*metadataCacheEntry),
		metadataTTL:   DefaultMetadataCacheTTL,
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// DiscoverMetadata fetches OAuth metadata from the issuer's well-known endpoint.
// It tries RFC 8414 (/.well-known/oauth-authorization-server) first,
// then falls back to OpenID Connect (/.well-known/openid-configuration).
func (c *Client) DiscoverMetadata(ctx context.Context, issuer string) (*Metadata, error) {
	issuer = NormalizeIssuer(issuer)
	if issuer == "" {
		return nil, errors.New("issuer is empty")
	}

	if md, ok := c.cached(issuer); ok {
		return md, nil
	}

	result, err, _ := c.metadataGroup.Do(issuer, func() (interface{}, error) {
		if md, ok := c.cached(issuer); ok {
			return md, nil
		}
		return c.doDiscoverMetadata(ctx, issuer)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Metadata), nil
}

func (c *Client) cached(issuer string) (*Metadata, bool) {
	c.metadataMu.RLock()
	defer c.metadataMu.RUnlock()
	entry, ok := c.metadataCache[issuer]
	if !ok || c.now().Sub(entry.fetchedAt) >= c.metadataTTL {
		return nil, false
	}
	return entry.metadata, true
}

// wellKnownPaths are tried in order: RFC 8414, then OpenID Connect Discovery.
var wellKnownPaths = []string{
	"/.well-known/oauth-authorization-server",
	"/.well-known/openid-configuration",
}

func (c *Client) doDiscoverMetadata(ctx context.Context, issuer string) (*Metadata, error) {
	var errs []error
	for _, path := range wellKnownPaths {
		md, err := c.fetchMetadata(ctx, issuer+path)
		if err != nil {
			logging.Debug("OAuth", "Metadata fetch from %s%s failed: %v", issuer, path, err)
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		if md.Issuer != "" && NormalizeIssuer(md.Issuer) != issuer {
			errs = append(errs, fmt.Errorf("%s: issuer %q does not match %q", path, md.Issuer, issuer))
			continue
		}
		c.cacheMetadata(issuer, md)
		return md, nil
	}
	return nil, fmt.Errorf("failed to discover OAuth metadata for %s: %w", issuer, errors.Join(errs...))
}

func (c *Client) fetchMetadata(ctx context.Context, metadataURL string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var md Metadata
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxMetadataSize)).Decode(&md); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if md.TokenEndpoint == "" {
		return nil, errors.New("metadata has no token_endpoint")
	}
	return &md, nil
}

// cacheMetadata stores metadata in the cache.
func (c *Client) cacheMetadata(issuer string, metadata *Metadata) {
	c.metadataMu.Lock()
	c.metadataCache[issuer] = &metadataCacheEntry{
		metadata:  metadata,
		fetchedAt: c.now(),
	}
	c.metadataMu.Unlock()

	logging.Debug("OAuth", "Cached OAuth metadata for %s (token_endpoint: %s)", issuer, metadata.TokenEndpoint)
}

// InvalidateMetadata drops the cached metadata of issuer.
func (c *Client) InvalidateMetadata(issuer string) {
	c.metadataMu.Lock()
	defer c.metadataMu.Unlock()
	delete(c.metadataCache, NormalizeIssuer(issuer))
}

// ClearMetadataCache drops all cached metadata.
func (c *Client) ClearMetadataCache() {
	c.metadataMu.Lock()
	defer c.metadataMu.Unlock()
	c.metadataCache = make(map[string]*metadataCacheEntry)
}
