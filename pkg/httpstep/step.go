package httpstep

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/giantswarm/given/internal/template"
	"github.com/giantswarm/given/pkg/auth"
	"github.com/giantswarm/given/pkg/logging"
	"github.com/giantswarm/given/pkg/result"
	"github.com/giantswarm/given/pkg/scenario"
	"github.com/giantswarm/given/pkg/settings"
)

// Context property keys.
const (
	// ContextAuthKey holds an *auth.HTTPConfig used when a step has no explicit auth.
	ContextAuthKey = "httpstep.auth"
	// LastResponseKey holds the *result.HTTP of the most recent request.
	LastResponseKey = "httpstep.lastResponse"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config is the immutable configuration of an HTTP step.
type Config struct {
	// BaseURL is joined with Path. Empty means the settings base URL, or a
	// relative request when a Client is supplied.
	BaseURL string
	// Path is the resource path, or an absolute URL. May contain {{ .key }} placeholders.
	Path        string
	Method      string
	Query       url.Values
	Headers     http.Header
	Body        any
	ContentType string
	// Timeout overrides the settings timeout. Zero means the settings value
	// for the default transport and no extra deadline for a supplied Client.
	Timeout time.Duration
	Auth    *auth.HTTPConfig
	// Client is used instead of the default pooled transport. Settings
	// headers and base URL are not applied to supplied clients.
	Client Doer
	// Tokens caches OAuth2 tokens; nil means auth.DefaultTokenCache().
	Tokens *auth.TokenCache
}

func (c Config) clone() Config {
	out := c
	if c.Query != nil {
		out.Query = make(url.Values, len(c.Query))
		for k, v := range c.Query {
			out.Query[k] = append([]string(nil), v...)
		}
	}
	out.Headers = c.Headers.Clone()
	out.Auth = c.Auth.Clone()
	return out
}

// Step is a single HTTP request.
type Step struct {
	*scenario.Slot
	cfg         Config
	placeholder bool
}

// New creates a GET step for path.
func New(path string) *Step {
	return &Step{
		Slot: scenario.NewSlot(),
		cfg:  Config{Path: path, Method: http.MethodGet},
	}
}

// newPlaceholder creates a step that only carries a client until Resource is called.
func newPlaceholder(client Doer) *Step {
	return &Step{
		Slot:        scenario.NewSlot(),
		cfg:         Config{Method: http.MethodGet, Client: client},
		placeholder: true,
	}
}

// Config returns a copy of the step configuration.
func (s *Step) Config() Config { return s.cfg.clone() }

// With returns a new unexecuted step whose configuration is a copy of s
// passed through fn. s itself is not changed.
func (s *Step) With(fn func(*Config)) *Step {
	cfg := s.cfg.clone()
	fn(&cfg)
	return &Step{
		Slot:        scenario.NewSlot(),
		cfg:         cfg,
		placeholder: s.placeholder,
	}
}

// resource returns a real step for path built from s, used to merge placeholders.
func (s *Step) resource(path string) *Step {
	next := s.With(func(c *Config) { c.Path = path })
	next.placeholder = false
	return next
}

func (s *Step) Name() string {
	if s.placeholder {
		return "HTTP (no resource)"
	}
	return s.cfg.Method + " " + s.cfg.Path
}

// Execute sends the request. Transport and serialisation errors are
// returned as *result.Failure; any response is a *result.HTTP.
func (s *Step) Execute(ctx context.Context, sc *scenario.Context) result.Result {
	return scenario.Run(s.Slot, func() result.Result {
		return s.execute(ctx, sc)
	})
}

var templates = template.New()

var (
	defaultClient     *http.Client
	defaultClientOnce sync.Once
)

// DefaultClient returns the pooled client used when a step has no Client.
func DefaultClient() *http.Client {
	defaultClientOnce.Do(func() {
		defaultClient = cleanhttp.DefaultPooledClient()
	})
	return defaultClient
}

func (s *Step) execute(ctx context.Context, sc *scenario.Context) result.Result {
	if s.placeholder {
		return result.Failed(&scenario.InvalidStateError{Expected: "Resource()"})
	}

	st, err := sc.LoadSettings()
	if err != nil {
		return result.Failed(err)
	}

	req, cancel, err := s.buildRequest(ctx, sc, st)
	if err != nil {
		return result.Failed(err)
	}
	defer cancel()

	target := &Target{Request: req, Client: s.cfg.Client, Tokens: s.cfg.Tokens}
	if target.Client == nil {
		target.Client = DefaultClient()
	}
	if target.Tokens == nil {
		target.Tokens = auth.DefaultTokenCache()
	}

	if err := applyAuth(ctx, sc, st, s.cfg.Auth, target); err != nil {
		return result.Failed(err)
	}

	logging.Debug("HTTPStep", "Sending %s %s", req.Method, req.URL.Redacted())
	start := time.Now()
	resp, err := target.Client.Do(target.Request)
	if err != nil {
		return result.Failed(fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return result.Failed(fmt.Errorf("failed to read response body: %w", err))
	}
	elapsed := time.Since(start)

	res := result.NewHTTP(req.Method, req.URL.String(), resp, body, elapsed)
	logging.Debug("HTTPStep", "%s %s returned %s in %s", req.Method, req.URL.Redacted(), res.Status, elapsed)
	sc.Set(LastResponseKey, res)
	return res
}

func (s *Step) buildRequest(ctx context.Context, sc *scenario.Context, st *settings.Settings) (*http.Request, context.CancelFunc, error) {
	data := sc.Properties()
	supplied := s.cfg.Client != nil

	path, err := templates.Render(s.cfg.Path, data)
	if err != nil {
		return nil, nil, fmt.Errorf("path: %w", err)
	}

	base := s.cfg.BaseURL
	if base == "" && !supplied {
		base = st.HTTP.BaseURL
	}
	base, err = templates.Render(base, data)
	if err != nil {
		return nil, nil, fmt.Errorf("base url: %w", err)
	}

	u, err := url.Parse(joinURL(base, path))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid url: %w", err)
	}
	if !supplied && !u.IsAbs() {
		return nil, nil, &scenario.ConfigError{Err: fmt.Errorf("relative url %q requires a base url", u.String())}
	}
	if len(s.cfg.Query) > 0 {
		q := u.Query()
		for k, vs := range s.cfg.Query {
			for _, v := range vs {
				rv, err := templates.Render(v, data)
				if err != nil {
					return nil, nil, fmt.Errorf("query %s: %w", k, err)
				}
				q.Add(k, rv)
			}
		}
		u.RawQuery = q.Encode()
	}

	body, contentType, err := encodeBody(s.cfg.Body, data)
	if err != nil {
		return nil, nil, err
	}
	if s.cfg.ContentType != "" {
		contentType = s.cfg.ContentType
	}

	timeout := s.cfg.Timeout
	if timeout == 0 && !supplied {
		timeout = st.HTTP.Timeout.D()
	}
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}

	method := s.cfg.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}

	if !supplied {
		for k, v := range st.HTTP.Headers {
			req.Header.Set(k, v)
		}
	}
	for k, vs := range s.cfg.Headers {
		req.Header.Del(k)
		for _, v := range vs {
			rv, err := templates.Render(v, data)
			if err != nil {
				cancel()
				return nil, nil, fmt.Errorf("header %s: %w", k, err)
			}
			req.Header.Add(k, rv)
		}
	}
	if body != nil && contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	return req, cancel, nil
}

func joinURL(base, path string) string {
	if base == "" || strings.Contains(path, "://") {
		return path
	}
	if path == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// encodeBody serialises body: strings and byte slices are sent as-is after
// template resolution, everything else as JSON.
func encodeBody(body any, data map[string]interface{}) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case string:
		rendered, err := templates.Render(b, data)
		if err != nil {
			return nil, "", fmt.Errorf("body: %w", err)
		}
		return strings.NewReader(rendered), "text/plain; charset=utf-8", nil
	case []byte:
		return bytes.NewReader(b), "application/octet-stream", nil
	case map[string]interface{}, []interface{}:
		resolved, err := templates.Replace(b, data)
		if err != nil {
			return nil, "", fmt.Errorf("body: %w", err)
		}
		return marshalJSON(resolved)
	default:
		return marshalJSON(b)
	}
}

func marshalJSON(v any) (io.Reader, string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode request body: %w", err)
	}
	return bytes.NewReader(raw), "application/json", nil
}

// SetContextAuth stores cfg as the auth used by HTTP steps of this scenario
// that carry no explicit auth.
func SetContextAuth(sc *scenario.Context, cfg *auth.HTTPConfig) {
	sc.Set(ContextAuthKey, cfg)
}

// LastResponse returns the most recent HTTP result of the scenario.
func LastResponse(sc *scenario.Context) (*result.HTTP, bool) {
	return scenario.Property[*result.HTTP](sc, LastResponseKey)
}
