package settings

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/given/pkg/auth"
	pkgstrings "github.com/giantswarm/given/pkg/strings"
)

// Defaults applied to fields left empty in the settings file.
const (
	DefaultHTTPTimeout    = 30 * time.Second
	DefaultConsumeTimeout = 30 * time.Second
	DefaultGroupID        = "given"
	DefaultClientID       = "given"
	DefaultPartitions     = 1
	DefaultLogLevel       = "info"
)

// Settings is the resolved settings document.
type Settings struct {
	HTTP    HTTP    `yaml:"http" json:"http"`
	Kafka   Kafka   `yaml:"kafka" json:"kafka"`
	Logging Logging `yaml:"logging" json:"logging"`

	// Path is the file the settings were read from, empty for defaults.
	Path string `yaml:"-" json:"-"`
}

// HTTP holds defaults for HTTP steps.
type HTTP struct {
	BaseURL string            `yaml:"baseUrl,omitempty" json:"baseUrl,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Auth    *auth.HTTPConfig  `yaml:"auth,omitempty" json:"auth,omitempty"`
}

// Kafka holds defaults for broker steps.
type Kafka struct {
	BootstrapServers []string          `yaml:"bootstrapServers,omitempty" json:"bootstrapServers,omitempty"`
	GroupID          string            `yaml:"groupId,omitempty" json:"groupId,omitempty"`
	ClientID         string            `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	ConsumeTimeout   Duration          `yaml:"consumeTimeout,omitempty" json:"consumeTimeout,omitempty"`
	AutoCreateTopics *bool             `yaml:"autoCreateTopics,omitempty" json:"autoCreateTopics,omitempty"`
	Partitions       int               `yaml:"partitions,omitempty" json:"partitions,omitempty"`
	Auth             *auth.KafkaConfig `yaml:"auth,omitempty" json:"auth,omitempty"`
}

// AutoCreate reports whether produce steps create missing topics.
func (k Kafka) AutoCreate() bool {
	return k.AutoCreateTopics == nil || *k.AutoCreateTopics
}

// Logging configures the CLI logger.
type Logging struct {
	Level string `yaml:"level,omitempty" json:"level,omitempty"`
}

// Defaults returns settings with every default applied.
func Defaults() *Settings {
	s := &Settings{}
	s.ApplyDefaults()
	return s
}

// ApplyDefaults fills empty fields with their defaults.
func (s *Settings) ApplyDefaults() {
	if s.HTTP.Timeout <= 0 {
		s.HTTP.Timeout = Duration(DefaultHTTPTimeout)
	}
	if s.Kafka.ConsumeTimeout <= 0 {
		s.Kafka.ConsumeTimeout = Duration(DefaultConsumeTimeout)
	}
	if s.Kafka.GroupID == "" {
		s.Kafka.GroupID = DefaultGroupID
	}
	if s.Kafka.ClientID == "" {
		s.Kafka.ClientID = DefaultClientID
	}
	if s.Kafka.AutoCreateTopics == nil {
		v := true
		s.Kafka.AutoCreateTopics = &v
	}
	if s.Kafka.Partitions <= 0 {
		s.Kafka.Partitions = DefaultPartitions
	}
	if s.Logging.Level == "" {
		s.Logging.Level = DefaultLogLevel
	}
}

// Clone returns a deep copy so callers can't modify cached settings.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}
	out := *s
	if s.HTTP.Headers != nil {
		out.HTTP.Headers = make(map[string]string, len(s.HTTP.Headers))
		for k, v := range s.HTTP.Headers {
			out.HTTP.Headers[k] = v
		}
	}
	out.HTTP.Auth = s.HTTP.Auth.Clone()
	out.Kafka.BootstrapServers = append([]string(nil), s.Kafka.BootstrapServers...)
	if s.Kafka.AutoCreateTopics != nil {
		v := *s.Kafka.AutoCreateTopics
		out.Kafka.AutoCreateTopics = &v
	}
	out.Kafka.Auth = s.Kafka.Auth.Clone()
	return &out
}

// Redacted returns a copy with passwords, tokens, secrets and private keys masked.
func (s *Settings) Redacted() *Settings {
	out := s.Clone()
	if a := out.HTTP.Auth; a != nil {
		if a.Basic != nil {
			a.Basic.Password = pkgstrings.Mask(a.Basic.Password)
		}
		if a.Bearer != nil {
			a.Bearer.Token = pkgstrings.Mask(a.Bearer.Token)
		}
		if a.APIKey != nil {
			a.APIKey.Key = pkgstrings.Mask(a.APIKey.Key)
		}
		if a.OAuth2 != nil {
			a.OAuth2.ClientSecret = pkgstrings.Mask(a.OAuth2.ClientSecret)
		}
		if a.CustomHeader != nil {
			for k, v := range a.CustomHeader.Headers {
				a.CustomHeader.Headers[k] = pkgstrings.Mask(v)
			}
		}
		redactTLS(a.Certificate)
	}
	if a := out.Kafka.Auth; a != nil {
		if a.SASL != nil {
			a.SASL.Password = pkgstrings.Mask(a.SASL.Password)
			redactTLS(a.SASL.TLS)
		}
		redactTLS(a.SSL)
		redactTLS(a.MutualTLS)
	}
	for k, v := range out.HTTP.Headers {
		if pkgstrings.LooksSecret(k) {
			out.HTTP.Headers[k] = pkgstrings.Mask(v)
		}
	}
	return out
}

func redactTLS(t *auth.TLS) {
	if t == nil {
		return
	}
	t.KeyPEM = pkgstrings.Mask(t.KeyPEM)
	t.KeyPassword = pkgstrings.Mask(t.KeyPassword)
}

// Duration is a time.Duration that decodes from Go duration strings
// ("1m30s") or from plain numbers of seconds (5, 1.5, "1.5").
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// ParseDuration parses s as seconds when it is a number, otherwise as a Go
// duration string.
func ParseDuration(s string) (Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return Duration(secs * float64(time.Second)), nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: use seconds or a Go duration such as 30s", s)
	}
	return Duration(v), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	v, err := ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = v
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*d = Duration(v * float64(time.Second))
		return nil
	case string:
		parsed, err := ParseDuration(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
}

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }
