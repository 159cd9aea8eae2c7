package httpstep

import (
	"net/http"
	"net/url"
	"time"

	"github.com/giantswarm/given/pkg/auth"
	"github.com/giantswarm/given/pkg/result"
	"github.com/giantswarm/given/pkg/scenario"
)

const entryPoint = "Resource()"

// DSL is the fluent builder for HTTP steps. Every call replaces the current
// step of the scenario with an updated copy.
type DSL struct {
	s *scenario.Scenario
}

// Request starts an HTTP step chain on s.
func Request(s *scenario.Scenario) *DSL {
	return &DSL{s: s}
}

// pending returns the current step when it is an HTTP step that has not run yet.
func (d *DSL) pending() (*Step, bool) {
	step, ok := d.s.CurrentStep().(*Step)
	if !ok || step.IsExecuted() {
		return nil, false
	}
	return step, true
}

// Resource creates a GET step for path. A client attached earlier with
// WithClient is carried over.
func (d *DSL) Resource(path string) *DSL {
	if step, ok := d.pending(); ok && step.placeholder {
		d.s.SetCurrentStep(step.resource(path))
		return d
	}
	d.s.SetCurrentStep(New(path))
	return d
}

// WithClient sends the request through c instead of the default transport.
// It may be called before Resource.
func (d *DSL) WithClient(c Doer) *DSL {
	if step, ok := d.pending(); ok {
		d.s.SetCurrentStep(step.With(func(cfg *Config) { cfg.Client = c }))
		return d
	}
	d.s.SetCurrentStep(newPlaceholder(c))
	return d
}

func (d *DSL) update(fn func(*Config)) *DSL {
	step, ok := d.pending()
	if !ok || step.placeholder {
		d.s.Fail(d.stateError())
		return d
	}
	d.s.SetCurrentStep(step.With(fn))
	return d
}

func (d *DSL) stateError() error {
	if _, err := scenario.Current[*Step](d.s, entryPoint); err != nil {
		return err
	}
	return &scenario.InvalidStateError{Expected: entryPoint, Got: d.s.CurrentStep().Name()}
}

func (d *DSL) WithBaseURL(base string) *DSL {
	return d.update(func(c *Config) { c.BaseURL = base })
}

// WithHeader sets a request header, replacing earlier values.
func (d *DSL) WithHeader(name, value string) *DSL {
	return d.update(func(c *Config) {
		if c.Headers == nil {
			c.Headers = http.Header{}
		}
		c.Headers.Set(name, value)
	})
}

func (d *DSL) WithHeaders(headers map[string]string) *DSL {
	return d.update(func(c *Config) {
		if c.Headers == nil {
			c.Headers = http.Header{}
		}
		for k, v := range headers {
			c.Headers.Set(k, v)
		}
	})
}

// WithQuery adds a query parameter. Repeated names are kept.
func (d *DSL) WithQuery(name, value string) *DSL {
	return d.update(func(c *Config) {
		if c.Query == nil {
			c.Query = url.Values{}
		}
		c.Query.Add(name, value)
	})
}

// WithBody sets the request body. Strings and byte slices are sent as-is,
// other values as JSON.
func (d *DSL) WithBody(body any) *DSL {
	return d.update(func(c *Config) { c.Body = body })
}

// WithJSON sets body and the application/json content type.
func (d *DSL) WithJSON(body any) *DSL {
	return d.update(func(c *Config) {
		c.Body = body
		c.ContentType = "application/json"
	})
}

func (d *DSL) WithContentType(contentType string) *DSL {
	return d.update(func(c *Config) { c.ContentType = contentType })
}

func (d *DSL) WithTimeout(timeout time.Duration) *DSL {
	return d.update(func(c *Config) { c.Timeout = timeout })
}

// WithAuth overrides the context and settings auth for this step.
func (d *DSL) WithAuth(cfg *auth.HTTPConfig) *DSL {
	return d.update(func(c *Config) { c.Auth = cfg.Clone() })
}

func (d *DSL) WithBasicAuth(username, password string) *DSL {
	return d.WithAuth(&auth.HTTPConfig{
		Type:  auth.TypeBasic,
		Basic: &auth.Basic{Username: username, Password: password},
	})
}

func (d *DSL) WithBearerToken(token string) *DSL {
	return d.WithAuth(&auth.HTTPConfig{
		Type:   auth.TypeBearer,
		Bearer: &auth.Bearer{Token: token},
	})
}

// WithTokenCache uses tc for OAuth2 tokens instead of the shared cache.
func (d *DSL) WithTokenCache(tc *auth.TokenCache) *DSL {
	return d.update(func(c *Config) { c.Tokens = tc })
}

func (d *DSL) Method(method string) *DSL {
	return d.update(func(c *Config) { c.Method = method })
}

func (d *DSL) Get() *DSL    { return d.Method(http.MethodGet) }
func (d *DSL) Post() *DSL   { return d.Method(http.MethodPost) }
func (d *DSL) Put() *DSL    { return d.Method(http.MethodPut) }
func (d *DSL) Patch() *DSL  { return d.Method(http.MethodPatch) }
func (d *DSL) Delete() *DSL { return d.Method(http.MethodDelete) }
func (d *DSL) Head() *DSL   { return d.Method(http.MethodHead) }

// Step returns the current HTTP step without executing it.
func (d *DSL) Step() *Step {
	step, err := scenario.Current[*Step](d.s, entryPoint)
	if err != nil {
		d.s.Fail(err)
		return nil
	}
	return step
}

// Then executes the request and returns its result.
func (d *DSL) Then() result.Result {
	return d.s.Then()
}

// And executes the request and returns the scenario for the next step.
func (d *DSL) And() *scenario.Scenario {
	return d.s.And()
}

// Save executes the request and stores it under name.
func (d *DSL) Save(name string) *scenario.Scenario {
	return d.s.Save(name)
}
