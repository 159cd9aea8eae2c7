package httpstep

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/giantswarm/given/pkg/auth"
	"github.com/giantswarm/given/pkg/logging"
	"github.com/giantswarm/given/pkg/scenario"
	"github.com/giantswarm/given/pkg/settings"
)

// Target is what HTTP auth handlers mutate: the outgoing request and the
// client that will send it.
type Target struct {
	Request *http.Request
	Client  Doer
	Tokens  *auth.TokenCache
}

// Handler applies one HTTP auth scheme.
type Handler = auth.Handler[*auth.HTTPConfig, *Target]

var handlers = auth.NewRegistry[*auth.HTTPConfig, *Target]("http",
	basicHandler{},
	bearerHandler{},
	apiKeyHandler{},
	oauth2Handler{},
	customHeaderHandler{},
	certificateHandler{},
)

// RegisterHandler adds h to the HTTP auth registry. It takes precedence over
// built-in handlers of the same type.
func RegisterHandler(h Handler) {
	handlers.Register(h)
}

func applyAuth(ctx context.Context, sc *scenario.Context, st *settings.Settings, explicit *auth.HTTPConfig, target *Target) error {
	fromContext, _ := scenario.Property[*auth.HTTPConfig](sc, ContextAuthKey)
	cfg, tier, err := auth.Pick(explicit, fromContext, func() (*auth.HTTPConfig, error) {
		return st.HTTP.Auth, nil
	})
	if err != nil {
		return err
	}
	if cfg == nil {
		return nil
	}
	logging.Debug("HTTPStep", "Using %s authentication from %s", cfg.Type, tier)
	if _, err := handlers.Apply(ctx, cfg, target); err != nil {
		return fmt.Errorf("%s authentication: %w", cfg.Type, err)
	}
	return nil
}

type basicHandler struct{}

func (basicHandler) Type() auth.Type                 { return auth.TypeBasic }
func (basicHandler) Matches(c *auth.HTTPConfig) bool { return c.Basic != nil }

func (basicHandler) Apply(_ context.Context, c *auth.HTTPConfig, t *Target) error {
	if err := c.Basic.Validate(); err != nil {
		return err
	}
	t.Request.SetBasicAuth(c.Basic.Username, c.Basic.Password)
	return nil
}

type bearerHandler struct{}

func (bearerHandler) Type() auth.Type                 { return auth.TypeBearer }
func (bearerHandler) Matches(c *auth.HTTPConfig) bool { return c.Bearer != nil }

func (bearerHandler) Apply(_ context.Context, c *auth.HTTPConfig, t *Target) error {
	if err := c.Bearer.Validate(); err != nil {
		return err
	}
	t.Request.Header.Set("Authorization", "Bearer "+c.Bearer.Token)
	return nil
}

type apiKeyHandler struct{}

func (apiKeyHandler) Type() auth.Type                 { return auth.TypeAPIKey }
func (apiKeyHandler) Matches(c *auth.HTTPConfig) bool { return c.APIKey != nil }

func (apiKeyHandler) Apply(_ context.Context, c *auth.HTTPConfig, t *Target) error {
	key := c.APIKey
	if err := key.Validate(); err != nil {
		return err
	}
	if key.QueryParam != "" {
		q := t.Request.URL.Query()
		q.Set(key.QueryParam, key.Key)
		t.Request.URL.RawQuery = q.Encode()
		return nil
	}
	header := key.Header
	if header == "" {
		header = auth.DefaultAPIKeyHeader
	}
	t.Request.Header.Set(header, key.Key)
	return nil
}

type oauth2Handler struct{}

func (oauth2Handler) Type() auth.Type                 { return auth.TypeOAuth2 }
func (oauth2Handler) Matches(c *auth.HTTPConfig) bool { return c.OAuth2 != nil }

func (oauth2Handler) Apply(ctx context.Context, c *auth.HTTPConfig, t *Target) error {
	tok, err := t.Tokens.Token(ctx, c.OAuth2)
	if err != nil {
		return err
	}
	tok.SetAuthHeader(t.Request)
	return nil
}

type customHeaderHandler struct{}

func (customHeaderHandler) Type() auth.Type                 { return auth.TypeCustomHeader }
func (customHeaderHandler) Matches(c *auth.HTTPConfig) bool { return c.CustomHeader != nil }

func (customHeaderHandler) Apply(_ context.Context, c *auth.HTTPConfig, t *Target) error {
	if err := c.CustomHeader.Validate(); err != nil {
		return err
	}
	for k, v := range c.CustomHeader.Headers {
		t.Request.Header.Set(k, v)
	}
	return nil
}

type certificateHandler struct{}

func (certificateHandler) Type() auth.Type                 { return auth.TypeCertificate }
func (certificateHandler) Matches(c *auth.HTTPConfig) bool { return c.Certificate != nil }

// Apply replaces the target client with a copy whose transport presents the
// client certificate. The shared default client is not modified.
func (certificateHandler) Apply(_ context.Context, c *auth.HTTPConfig, t *Target) error {
	if err := c.Certificate.RequireClientCert(auth.TypeCertificate); err != nil {
		return err
	}
	tlsConfig, err := auth.LoadTLSConfig(c.Certificate)
	if err != nil {
		return err
	}

	client, ok := t.Client.(*http.Client)
	if !ok {
		return errors.New("certificate authentication requires an *http.Client")
	}

	var transport *http.Transport
	switch rt := client.Transport.(type) {
	case nil:
		transport = http.DefaultTransport.(*http.Transport).Clone()
	case *http.Transport:
		transport = rt.Clone()
	default:
		return fmt.Errorf("certificate authentication requires an *http.Transport, got %T", rt)
	}
	transport.TLSClientConfig = tlsConfig

	clone := *client
	clone.Transport = transport
	t.Client = &clone
	return nil
}
