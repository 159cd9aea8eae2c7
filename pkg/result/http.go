package result

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/giantswarm/given/pkg/jsonpath"
)

// HTTP is the result of a completed HTTP exchange. Any response counts as a
// completed exchange; Success is reserved for 2xx status codes.
type HTTP struct {
	// Method and URL of the request actually sent.
	Method string
	URL    string
	// StatusCode is the numeric response status.
	StatusCode int
	// Status is the full status line text, e.g. "404 Not Found".
	Status  string
	Headers http.Header
	Body    []byte
	// Elapsed is the wall-clock time between sending and reading the body.
	Elapsed time.Duration
}

// NewHTTP builds an HTTP result from a response whose body has already been read.
func NewHTTP(method, url string, resp *http.Response, body []byte, elapsed time.Duration) *HTTP {
	r := &HTTP{
		Method:  method,
		URL:     url,
		Body:    body,
		Elapsed: elapsed,
		Headers: http.Header{},
	}
	if resp != nil {
		r.StatusCode = resp.StatusCode
		r.Status = resp.Status
		if r.Status == "" {
			r.Status = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		}
		r.Headers = resp.Header.Clone()
	}
	return r
}

func (*HTTP) sealed() {}

func (r *HTTP) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *HTTP) Errors() []string {
	if r.Success() {
		return nil
	}
	return []string{"unexpected status " + r.Status}
}

// Data returns the response body.
func (r *HTTP) Data() any { return r.Body }

func (r *HTTP) Properties() map[string]string {
	props := map[string]string{
		PropStatusCode: itoa(r.StatusCode),
		PropElapsed:    r.Elapsed.String(),
	}
	setIf(props, PropStatus, r.Status)
	keys := make([]string, 0, len(r.Headers))
	for k := range r.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		props[PropHeaderPrefix+k] = r.Headers.Get(k)
	}
	return props
}

// Text returns the body as a string.
func (r *HTTP) Text() string { return string(r.Body) }

// Header returns the first value of the named response header.
func (r *HTTP) Header(name string) string { return r.Headers.Get(name) }

// JSON returns the raw JSON at path.
func (r *HTTP) JSON(path string) ([]byte, error) {
	v, _, err := jsonpath.Get(r.Body, path)
	return v, err
}

// String returns the value at path as a string.
func (r *HTTP) String(path string) (string, error) { return jsonpath.String(r.Body, path) }

// Int returns the integer at path.
func (r *HTTP) Int(path string) (int64, error) { return jsonpath.Int(r.Body, path) }

// Bool returns the boolean at path.
func (r *HTTP) Bool(path string) (bool, error) { return jsonpath.Bool(r.Body, path) }

// Decode unmarshals the body into v.
func (r *HTTP) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}
