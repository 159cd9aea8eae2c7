package settings

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/giantswarm/given/pkg/auth"
	pkgstrings "github.com/giantswarm/given/pkg/strings"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestDefaults(t *testing.T) {
	s := Defaults()
	assert.Equal(t, DefaultHTTPTimeout, s.HTTP.Timeout.D())
	assert.Equal(t, DefaultConsumeTimeout, s.Kafka.ConsumeTimeout.D())
	assert.Equal(t, "given", s.Kafka.GroupID)
	assert.Equal(t, "given", s.Kafka.ClientID)
	assert.True(t, s.Kafka.AutoCreate())
	assert.Equal(t, 1, s.Kafka.Partitions)
	assert.Equal(t, "info", s.Logging.Level)
}

func TestParseYAML(t *testing.T) {
	doc := `
http:
  baseUrl: http://api.local
  timeout: 5
  headers:
    X-Tenant: acme
  auth:
    type: bearer
    bearer:
      token: ${ENV:API_TOKEN}
kafka:
  bootstrapServers: [localhost:9092]
  consumeTimeout: 1m30s
  autoCreateTopics: false
  auth:
    type: saslScram512
    sasl:
      username: svc
      password: ${ENV:KAFKA_PASSWORD}
      useTls: true
`
	s, err := Parse([]byte(doc), ".yaml", env(map[string]string{"API_TOKEN": "t0k3n", "KAFKA_PASSWORD": "pw"}))
	require.NoError(t, err)

	assert.Equal(t, "http://api.local", s.HTTP.BaseURL)
	assert.Equal(t, 5*time.Second, s.HTTP.Timeout.D())
	assert.Equal(t, "acme", s.HTTP.Headers["X-Tenant"])
	require.NotNil(t, s.HTTP.Auth)
	assert.Equal(t, auth.TypeBearer, s.HTTP.Auth.Type)
	assert.Equal(t, "t0k3n", s.HTTP.Auth.Bearer.Token)

	assert.Equal(t, []string{"localhost:9092"}, s.Kafka.BootstrapServers)
	assert.Equal(t, 90*time.Second, s.Kafka.ConsumeTimeout.D())
	assert.False(t, s.Kafka.AutoCreate())
	assert.Equal(t, "pw", s.Kafka.Auth.SASL.Password)
	assert.True(t, s.Kafka.Auth.SASL.UseTLS)
	assert.Equal(t, "given", s.Kafka.GroupID)
}

func TestParseTolerantJSON(t *testing.T) {
	doc := `{
	// line comment
	"http": {
		"baseUrl": "http://api.local/v1", /* inline */
		"timeout": "2s",
		"headers": {"X-Url": "http://not-a-comment//really",},
	},
	"kafka": {
		"bootstrapServers": ["a:9092", "b:9092",],
		"groupId": "${ENV:GROUP}",
	},
}`
	s, err := Parse([]byte(doc), ".json", env(map[string]string{"GROUP": "orders"}))
	require.NoError(t, err)

	assert.Equal(t, "http://api.local/v1", s.HTTP.BaseURL)
	assert.Equal(t, 2*time.Second, s.HTTP.Timeout.D())
	assert.Equal(t, "http://not-a-comment//really", s.HTTP.Headers["X-Url"])
	assert.Equal(t, []string{"a:9092", "b:9092"}, s.Kafka.BootstrapServers)
	assert.Equal(t, "orders", s.Kafka.GroupID)
}

func TestSanitizeJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trailing comma object", `{"a":1,}`, `{"a":1}`},
		{"trailing comma array", "[1, 2 ,\n]", "[1, 2 \n]"},
		{"block comment", `{"a"/* x */:1}`, `{"a":1}`},
		{"escaped quote", `{"a":"x\"//y"}`, `{"a":"x\"//y"}`},
		{"comma in string kept", `{"a":",}"}`, `{"a":",}"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(SanitizeJSON([]byte(tt.in))))
		})
	}
}

func TestExpandEnvUnset(t *testing.T) {
	out := ExpandEnv([]byte("a=${ENV:MISSING};b=${ENV:SET}"), env(map[string]string{"SET": "1"}))
	assert.Equal(t, "a=;b=1", string(out))
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse([]byte("http: [unclosed"), ".yaml", nil)
	assert.Error(t, err)

	_, err = Parse([]byte(`{"http": {"timeout": "soon"}}`), ".json", nil)
	assert.Error(t, err)
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0755))

	assert.Empty(t, Discover(nested, env(nil)))

	writeFile(t, filepath.Join(root, "a", "given.settings.json"), "{}")
	assert.Equal(t, filepath.Join(root, "a", "given.settings.json"), Discover(nested, env(nil)))

	writeFile(t, filepath.Join(root, "a", "b", "given.settings.yaml"), "")
	assert.Equal(t, filepath.Join(root, "a", "b", "given.settings.yaml"), Discover(nested, env(nil)))

	explicit := filepath.Join(root, "custom.yaml")
	assert.Equal(t, explicit, Discover(nested, env(map[string]string{EnvVar: explicit})))
	assert.Equal(t, filepath.Join(nested, "rel.yaml"), Discover(nested, env(map[string]string{EnvVar: "rel.yaml"})))
}

func TestDiscoverStopsAfterThreeParents(t *testing.T) {
	root := t.TempDir()
	deep := filepath.Join(root, "1", "2", "3", "4")
	require.NoError(t, os.MkdirAll(deep, 0755))
	writeFile(t, filepath.Join(root, "given.settings.yaml"), "")

	assert.Empty(t, Discover(deep, env(nil)))
	assert.NotEmpty(t, Discover(filepath.Join(root, "1", "2", "3"), env(nil)))
}

func TestCacheLoadAndInvalidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "given.settings.yaml")
	writeFile(t, path, "http:\n  baseUrl: http://one\n")

	c := NewCache(WithDir(dir), WithEnv(env(nil)))

	s, err := c.Load()
	require.NoError(t, err)
	assert.Equal(t, "http://one", s.HTTP.BaseURL)
	assert.Equal(t, path, s.Path)

	// Callers get copies.
	s.HTTP.BaseURL = "mutated"

	writeFile(t, path, "http:\n  baseUrl: http://two\n")
	s, err = c.Load()
	require.NoError(t, err)
	assert.Equal(t, "http://one", s.HTTP.BaseURL, "cached until invalidated")

	c.Invalidate(path)
	s, err = c.Load()
	require.NoError(t, err)
	assert.Equal(t, "http://two", s.HTTP.BaseURL)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestCacheFollowsEnvVar(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.yaml")
	second := filepath.Join(dir, "second.json")
	writeFile(t, first, "kafka:\n  groupId: first\n")
	writeFile(t, second, `{"kafka": {"groupId": "second"}}`)

	vars := map[string]string{EnvVar: first}
	c := NewCache(WithDir(dir), WithEnv(env(vars)))

	s, err := c.Load()
	require.NoError(t, err)
	assert.Equal(t, "first", s.Kafka.GroupID)

	vars[EnvVar] = second
	s, err = c.Load()
	require.NoError(t, err)
	assert.Equal(t, "second", s.Kafka.GroupID)
	assert.Equal(t, 2, c.Len())
}

func TestCacheMissingFileYieldsDefaults(t *testing.T) {
	c := NewCache(WithDir(t.TempDir()), WithEnv(env(nil)))
	s, err := c.Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults(), s)

	c = NewCache(WithPath(filepath.Join(t.TempDir(), "nope.yaml")))
	s, err = c.Load()
	require.NoError(t, err)
	assert.Equal(t, "given", s.Kafka.GroupID)
}

func TestCacheParseError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "given.settings.yaml")
	writeFile(t, path, "kafka: [")

	_, err := NewCache(WithDir(dir), WithEnv(env(nil))).Load()
	var settingsErr *Error
	require.True(t, errors.As(err, &settingsErr))
	assert.Equal(t, "parse", settingsErr.Op)
	assert.Equal(t, path, settingsErr.Path)
}

func TestCacheWatchInvalidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "given.settings.yaml")
	writeFile(t, path, "http:\n  baseUrl: http://one\n")

	c := NewCache(WithPath(path))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := c.Load()
	require.NoError(t, err)
	require.NoError(t, c.Watch(ctx))
	require.Equal(t, 1, c.Len())

	writeFile(t, path, "http:\n  baseUrl: http://two\n")

	require.Eventually(t, func() bool { return c.Len() == 0 }, 5*time.Second, 50*time.Millisecond)

	s, err := c.Load()
	require.NoError(t, err)
	assert.Equal(t, "http://two", s.HTTP.BaseURL)
}

func TestStatic(t *testing.T) {
	src := Static(&Settings{HTTP: HTTP{BaseURL: "http://static"}})
	s, err := src.Load()
	require.NoError(t, err)
	assert.Equal(t, "http://static", s.HTTP.BaseURL)
	assert.Equal(t, DefaultHTTPTimeout, s.HTTP.Timeout.D())

	s.HTTP.BaseURL = "changed"
	again, _ := src.Load()
	assert.Equal(t, "http://static", again.HTTP.BaseURL)
}

func TestRedacted(t *testing.T) {
	s := Defaults()
	s.HTTP.Headers = map[string]string{"X-Api-Token": "abc", "X-Tenant": "acme"}
	s.HTTP.Auth = &auth.HTTPConfig{
		Type:   auth.TypeOAuth2,
		OAuth2: &auth.OAuth2{ClientID: "svc", ClientSecret: "s3cret", TokenURL: "http://idp"},
	}
	s.Kafka.Auth = &auth.KafkaConfig{
		Type:      auth.TypeMutualTLS,
		SASL:      &auth.SASL{Username: "u", Password: "p"},
		MutualTLS: &auth.TLS{CertPEM: "cert", KeyPEM: "key"},
	}

	r := s.Redacted()
	assert.Equal(t, "svc", r.HTTP.Auth.OAuth2.ClientID)
	assert.Equal(t, pkgstrings.Masked, r.HTTP.Auth.OAuth2.ClientSecret)
	assert.Equal(t, pkgstrings.Masked, r.HTTP.Headers["X-Api-Token"])
	assert.Equal(t, "acme", r.HTTP.Headers["X-Tenant"])
	assert.Equal(t, pkgstrings.Masked, r.Kafka.Auth.SASL.Password)
	assert.Equal(t, "cert", r.Kafka.Auth.MutualTLS.CertPEM)
	assert.Equal(t, pkgstrings.Masked, r.Kafka.Auth.MutualTLS.KeyPEM)

	// The original is untouched.
	assert.Equal(t, "s3cret", s.HTTP.Auth.OAuth2.ClientSecret)
	assert.Equal(t, "key", s.Kafka.Auth.MutualTLS.KeyPEM)
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("1.5")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d.D())

	d, err = ParseDuration("250ms")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d.D())

	_, err = ParseDuration("later")
	assert.Error(t, err)
}

func TestDurationDecoding(t *testing.T) {
	tests := []struct {
		name string
		data string
		ext  string
		want time.Duration
	}{
		{"yaml seconds", "http:\n  timeout: 5\n", ".yaml", 5 * time.Second},
		{"yaml fractional seconds", "http:\n  timeout: 0.5\n", ".yaml", 500 * time.Millisecond},
		{"yaml go duration", "http:\n  timeout: 1m30s\n", ".yml", 90 * time.Second},
		{"json number", `{"http": {"timeout": 7}}`, ".json", 7 * time.Second},
		{"json string", `{"http": {"timeout": "250ms"}}`, ".json", 250 * time.Millisecond},
		{"json numeric string", `{"http": {"timeout": "2"}}`, ".json", 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse([]byte(tt.data), tt.ext, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.HTTP.Timeout.D())
		})
	}

	_, err := Parse([]byte("http:\n  timeout: [1]\n"), ".yaml", nil)
	assert.ErrorContains(t, err, "duration must be a scalar")
}

func TestDurationEncoding(t *testing.T) {
	s := Defaults()
	out, err := yaml.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(out), "timeout: 30s")

	js, err := json.Marshal(s.Kafka)
	require.NoError(t, err)
	assert.Contains(t, string(js), `"consumeTimeout":"30s"`)
}
