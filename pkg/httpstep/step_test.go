package httpstep

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/given/internal/testing/mock"
	"github.com/giantswarm/given/pkg/auth"
	"github.com/giantswarm/given/pkg/result"
	"github.com/giantswarm/given/pkg/scenario"
	"github.com/giantswarm/given/pkg/settings"
)

type fatalRecorder struct {
	msgs []string
}

func (r *fatalRecorder) Helper() {}

func (r *fatalRecorder) Fatalf(format string, args ...any) {
	r.msgs = append(r.msgs, fmt.Sprintf(format, args...))
}

// baseDoer resolves relative request URLs against base, like a client with
// a built-in base address.
type baseDoer struct {
	base   *url.URL
	client *http.Client
}

func (d *baseDoer) Do(req *http.Request) (*http.Response, error) {
	req.URL = d.base.ResolveReference(req.URL)
	req.Host = ""
	return d.client.Do(req)
}

func newScenario(t *testing.T, st *settings.Settings, opts ...scenario.Option) *scenario.Scenario {
	t.Helper()
	return scenario.Given(append([]scenario.Option{
		scenario.WithTB(t),
		scenario.WithSettings(settings.Static(st)),
	}, opts...)...)
}

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"method":        r.Method,
			"path":          r.URL.Path,
			"query":         r.URL.RawQuery,
			"authorization": r.Header.Get("Authorization"),
			"apiKey":        r.Header.Get("X-API-Key"),
			"tenant":        r.Header.Get("X-Tenant"),
			"contentType":   r.Header.Get("Content-Type"),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func httpResult(t *testing.T, r result.Result) *result.HTTP {
	t.Helper()
	res, ok := r.(*result.HTTP)
	require.True(t, ok, "expected *result.HTTP, got %T: %v", r, r)
	return res
}

func field(t *testing.T, res *result.HTTP, name string) string {
	t.Helper()
	v, err := res.String("$." + name)
	require.NoError(t, err)
	return v
}

func TestStep_GetWithSettingsBearerToken(t *testing.T) {
	srv := echoServer(t)
	s := newScenario(t, &settings.Settings{HTTP: settings.HTTP{
		BaseURL: srv.URL + "/api",
		Headers: map[string]string{"X-Tenant": "acme"},
		Auth:    &auth.HTTPConfig{Type: auth.TypeBearer, Bearer: &auth.Bearer{Token: "from-settings"}},
	}})

	res := httpResult(t, Request(s).Resource("/orders").Then())

	assert.True(t, res.Success())
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "/api/orders", field(t, res, "path"))
	assert.Equal(t, "Bearer from-settings", field(t, res, "authorization"))
	assert.Equal(t, "acme", field(t, res, "tenant"))

	last, found := LastResponse(s.Context())
	require.True(t, found)
	assert.Same(t, res, last)
}

func TestStep_AuthPrecedence(t *testing.T) {
	srv := echoServer(t)
	st := &settings.Settings{HTTP: settings.HTTP{
		BaseURL: srv.URL,
		Auth:    &auth.HTTPConfig{Type: auth.TypeBearer, Bearer: &auth.Bearer{Token: "settings"}},
	}}

	t.Run("context beats settings", func(t *testing.T) {
		s := newScenario(t, st)
		SetContextAuth(s.Context(), &auth.HTTPConfig{Type: auth.TypeBearer, Bearer: &auth.Bearer{Token: "context"}})
		res := httpResult(t, Request(s).Resource("/").Then())
		assert.Equal(t, "Bearer context", field(t, res, "authorization"))
	})

	t.Run("explicit beats context", func(t *testing.T) {
		s := newScenario(t, st)
		SetContextAuth(s.Context(), &auth.HTTPConfig{Type: auth.TypeBearer, Bearer: &auth.Bearer{Token: "context"}})
		res := httpResult(t, Request(s).Resource("/").WithBearerToken("explicit").Then())
		assert.Equal(t, "Bearer explicit", field(t, res, "authorization"))
	})

	t.Run("explicit none disables settings auth", func(t *testing.T) {
		s := newScenario(t, st)
		res := httpResult(t, Request(s).Resource("/").WithAuth(&auth.HTTPConfig{Type: auth.TypeNone}).Then())
		assert.Empty(t, field(t, res, "authorization"))
	})

	t.Run("mismatched payload is skipped", func(t *testing.T) {
		s := newScenario(t, st)
		res := httpResult(t, Request(s).Resource("/").
			WithAuth(&auth.HTTPConfig{Type: auth.TypeBasic, Bearer: &auth.Bearer{Token: "x"}}).Then())
		assert.True(t, res.Success())
		assert.Empty(t, field(t, res, "authorization"))
	})
}

func TestStep_MissingAuthFieldFails(t *testing.T) {
	srv := echoServer(t)
	rec := &fatalRecorder{}
	s := newScenario(t, &settings.Settings{HTTP: settings.HTTP{BaseURL: srv.URL}}, scenario.WithTB(rec))

	r := Request(s).Resource("/").WithBasicAuth("user", "").Then()

	require.Len(t, rec.msgs, 1)
	assert.Contains(t, rec.msgs[0], "basic authentication requires password")
	failure, ok := r.(*result.Failure)
	require.True(t, ok)
	var missing *auth.MissingFieldError
	require.ErrorAs(t, failure, &missing)
	assert.Equal(t, "password", missing.Field)
	assert.Contains(t, failure.Errors()[0], "basic authentication requires password")
}

func TestStep_APIKeyAndCustomHeader(t *testing.T) {
	srv := echoServer(t)
	s := newScenario(t, &settings.Settings{HTTP: settings.HTTP{BaseURL: srv.URL}})

	res := httpResult(t, Request(s).Resource("/").
		WithAuth(&auth.HTTPConfig{Type: "apikey", APIKey: &auth.APIKey{Key: "k1"}}).Then())
	assert.Equal(t, "k1", field(t, res, "apiKey"))

	res = httpResult(t, Request(s.And()).Resource("/").
		WithAuth(&auth.HTTPConfig{Type: auth.TypeAPIKey, APIKey: &auth.APIKey{Key: "k2", QueryParam: "api_key"}}).Then())
	assert.Equal(t, "api_key=k2", field(t, res, "query"))

	res = httpResult(t, Request(s.And()).Resource("/").
		WithAuth(&auth.HTTPConfig{
			Type:         auth.TypeCustomHeader,
			CustomHeader: &auth.CustomHeader{Headers: map[string]string{"X-Tenant": "globex"}},
		}).Then())
	assert.Equal(t, "globex", field(t, res, "tenant"))
}

func TestStep_OAuth2ClientCredentials(t *testing.T) {
	var tokenCalls atomic.Int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"access_token":"minted","token_type":"Bearer","expires_in":3600}`)
	}))
	t.Cleanup(tokenSrv.Close)
	srv := echoServer(t)

	tokens := auth.NewTokenCache()
	cfg := &auth.HTTPConfig{Type: auth.TypeOAuth2, OAuth2: &auth.OAuth2{
		ClientID: "svc", ClientSecret: "secret", TokenURL: tokenSrv.URL,
	}}
	s := newScenario(t, &settings.Settings{HTTP: settings.HTTP{BaseURL: srv.URL}})

	for i := 0; i < 3; i++ {
		res := httpResult(t, Request(s).Resource("/").WithAuth(cfg).WithTokenCache(tokens).Then())
		assert.Equal(t, "Bearer minted", field(t, res, "authorization"))
	}
	assert.Equal(t, int32(1), tokenCalls.Load())
}

func TestStep_OAuth2IssuerAgainstProtectedAPI(t *testing.T) {
	authz := mock.NewOAuthServer(mock.OAuthServerConfig{ClientID: "svc", ClientSecret: "secret"})
	authz.Start()
	t.Cleanup(authz.Close)
	api := httptest.NewServer(authz.Protect(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"orders":[{"id":"o-1"}]}`)
	})))
	t.Cleanup(api.Close)

	s := newScenario(t, &settings.Settings{HTTP: settings.HTTP{
		BaseURL: api.URL,
		Auth: &auth.HTTPConfig{Type: auth.TypeOAuth2, OAuth2: &auth.OAuth2{
			ClientID: "svc", ClientSecret: "secret", Issuer: authz.IssuerURL(),
		}},
	}})
	tokens := auth.NewTokenCache()

	res := httpResult(t, Request(s).Resource("/orders").WithTokenCache(tokens).Then())
	require.True(t, res.Success(), res.Errors())
	id, err := res.String("$.orders[0].id")
	require.NoError(t, err)
	assert.Equal(t, "o-1", id)

	unauthorized := httpResult(t, Request(s).Resource("/orders").WithAuth(&auth.HTTPConfig{Type: auth.TypeNone}).Then())
	assert.Equal(t, http.StatusUnauthorized, unauthorized.StatusCode)
	assert.Equal(t, 1, authz.TokenRequests())
}

func TestStep_TemplatesAndJSONBody(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders/42/lines", r.URL.Path)
		assert.Equal(t, "acme", r.URL.Query().Get("tenant"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "corr-42", r.Header.Get("X-Correlation-Id"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)

	s := newScenario(t, &settings.Settings{HTTP: settings.HTTP{BaseURL: srv.URL}},
		scenario.WithProperties(map[string]any{"orderId": 42, "sku": "A-1", "tenant": "acme"}))

	res := httpResult(t, Request(s).
		Resource("/orders/{{ .orderId }}/lines").
		WithQuery("tenant", "{{ .tenant }}").
		WithHeader("X-Correlation-Id", "corr-{{ .orderId }}").
		WithJSON(map[string]any{"sku": "{{ .sku }}", "qty": 2}).
		Post().
		Then())

	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, map[string]any{"sku": "A-1", "qty": float64(2)}, got)
}

func TestStep_MissingTemplateVariableFails(t *testing.T) {
	srv := echoServer(t)
	s := newScenario(t, &settings.Settings{HTTP: settings.HTTP{BaseURL: srv.URL}})

	r := Request(s).Resource("/orders/{{ .orderId }}").Then()

	assert.False(t, r.Success())
	assert.Contains(t, r.Errors()[0], "missing template variables: orderId")
}

func TestStep_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	s := newScenario(t, &settings.Settings{HTTP: settings.HTTP{BaseURL: srv.URL}})

	res := httpResult(t, Request(s).Resource("/missing").Delete().Then())

	assert.False(t, res.Success())
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, []string{"unexpected status 404 Not Found"}, res.Errors())
}

func TestStep_TransportErrorIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	s := newScenario(t, &settings.Settings{HTTP: settings.HTTP{BaseURL: srv.URL}})

	r := Request(s).Resource("/").Then()

	failure, ok := r.(*result.Failure)
	require.True(t, ok)
	assert.NotEmpty(t, failure.ErrorType)
	assert.NotEmpty(t, failure.Errors())
}

func TestStep_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	s := newScenario(t, &settings.Settings{HTTP: settings.HTTP{BaseURL: srv.URL}})

	r := Request(s).Resource("/slow").WithTimeout(50 * time.Millisecond).Then()

	assert.False(t, r.Success())
	assert.ErrorIs(t, r.(*result.Failure), context.DeadlineExceeded)
}

func TestStep_RelativeURLWithoutBaseFails(t *testing.T) {
	rec := &fatalRecorder{}
	s := newScenario(t, nil, scenario.WithTB(rec))
	r := Request(s).Resource("/orders").Then()
	require.Len(t, rec.msgs, 1)
	assert.Equal(t, `relative url "/orders" requires a base url`, rec.msgs[0])
	assert.Contains(t, r.Errors()[0], `relative url "/orders" requires a base url`)
}

func TestStep_SuppliedClientBypassesSettings(t *testing.T) {
	srv := echoServer(t)
	base, err := url.Parse(srv.URL)
	require.NoError(t, err)
	s := newScenario(t, &settings.Settings{HTTP: settings.HTTP{
		BaseURL: "http://unreachable.invalid",
		Headers: map[string]string{"X-Tenant": "acme"},
	}})

	res := httpResult(t, Request(s).
		WithClient(&baseDoer{base: base, client: srv.Client()}).
		Resource("/items").
		Then())

	assert.True(t, res.Success())
	assert.Equal(t, "/items", field(t, res, "path"))
	assert.Empty(t, field(t, res, "tenant"))
}

func TestStep_PlaceholderWithoutResource(t *testing.T) {
	rec := &fatalRecorder{}
	s := newScenario(t, nil, scenario.WithTB(rec))

	r := Request(s).WithClient(http.DefaultClient).Then()

	require.Len(t, rec.msgs, 1)
	assert.Equal(t, "invalid scenario state: call Resource() first", rec.msgs[0])
	assert.False(t, r.Success())
	assert.Contains(t, r.Errors()[0], "call Resource() first")
}

func TestDSL_RequiresResource(t *testing.T) {
	rec := &fatalRecorder{}
	s := scenario.Given(scenario.WithTB(rec), scenario.WithSettings(settings.Static(nil)))

	Request(s).WithHeader("X-A", "b")

	require.Len(t, rec.msgs, 1)
	assert.Equal(t, "invalid scenario state: call Resource() first", rec.msgs[0])
}

func TestDSL_ExecutedStepIsNotReconfigured(t *testing.T) {
	srv := echoServer(t)
	rec := &fatalRecorder{}
	s := scenario.Given(scenario.WithTB(rec), scenario.WithSettings(settings.Static(&settings.Settings{
		HTTP: settings.HTTP{BaseURL: srv.URL},
	})))

	Request(s).Resource("/a").And()
	Request(s).WithHeader("X-A", "b")

	require.Len(t, rec.msgs, 1)
	assert.Contains(t, rec.msgs[0], "current step is GET /a")
}

func TestDSL_ChainExecutesOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(srv.Close)
	s := newScenario(t, &settings.Settings{HTTP: settings.HTTP{BaseURL: srv.URL}})

	Request(s).Resource("/").Save("ping")
	s.And()
	s.Then()

	assert.Equal(t, int32(1), calls.Load())
	saved, err := s.Context().Storage().Get("PING")
	require.NoError(t, err)
	assert.True(t, saved.IsExecuted())
}

func TestStep_WithCopiesConfig(t *testing.T) {
	orig := New("/a").With(func(c *Config) {
		c.Headers = http.Header{"X-A": []string{"1"}}
	})
	next := orig.With(func(c *Config) {
		c.Headers.Set("X-A", "2")
		c.Path = "/b"
	})

	assert.Equal(t, "1", orig.Config().Headers.Get("X-A"))
	assert.Equal(t, "/a", orig.Config().Path)
	assert.Equal(t, "2", next.Config().Headers.Get("X-A"))
	assert.Equal(t, "GET /b", next.Name())
	assert.NotSame(t, orig.Slot, next.Slot)
}

func TestCertificateHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://svc.local/", nil)

	err := certificateHandler{}.Apply(context.Background(),
		&auth.HTTPConfig{Type: auth.TypeCertificate, Certificate: &auth.TLS{CertPEM: "x"}},
		&Target{Request: req, Client: DefaultClient()})
	var missing *auth.MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "keyFile or keyPem", missing.Field)

	err = certificateHandler{}.Apply(context.Background(),
		&auth.HTTPConfig{Type: auth.TypeCertificate, Certificate: &auth.TLS{CertPEM: "x", KeyPEM: "y"}},
		&Target{Request: req, Client: &baseDoer{}})
	assert.Error(t, err)
}
