package auth

import (
	"fmt"
	"strings"
)

// Type is the discriminator of an authentication config.
type Type string

const (
	TypeNone Type = "none"

	// HTTP schemes.
	TypeBasic        Type = "basic"
	TypeBearer       Type = "bearer"
	TypeAPIKey       Type = "apiKey"
	TypeOAuth2       Type = "oauth2"
	TypeCustomHeader Type = "customHeader"
	TypeCertificate  Type = "certificate"

	// Broker schemes.
	TypeSASLPlain    Type = "saslPlain"
	TypeSASLScram256 Type = "saslScram256"
	TypeSASLScram512 Type = "saslScram512"
	TypeSSL          Type = "ssl"
	TypeMutualTLS    Type = "mutualTls"
)

// Is compares discriminators case-insensitively so "apikey" in a
// settings file matches TypeAPIKey.
func (t Type) Is(other Type) bool {
	return strings.EqualFold(string(t), string(other))
}

// IsNone reports whether t disables authentication. An empty type counts as none.
func (t Type) IsNone() bool {
	return t == "" || t.Is(TypeNone)
}

// MissingFieldError is returned when a scheme's required field is empty.
type MissingFieldError struct {
	Scheme Type
	Field  string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s authentication requires %s", e.Scheme, e.Field)
}

func missing(scheme Type, field string) error {
	return &MissingFieldError{Scheme: scheme, Field: field}
}

// HTTPConfig is the tagged union of HTTP authentication schemes. Type
// selects the scheme; only the matching payload is read.
type HTTPConfig struct {
	Type         Type          `yaml:"type" json:"type"`
	Basic        *Basic        `yaml:"basic,omitempty" json:"basic,omitempty"`
	Bearer       *Bearer       `yaml:"bearer,omitempty" json:"bearer,omitempty"`
	APIKey       *APIKey       `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
	OAuth2       *OAuth2       `yaml:"oauth2,omitempty" json:"oauth2,omitempty"`
	CustomHeader *CustomHeader `yaml:"customHeader,omitempty" json:"customHeader,omitempty"`
	Certificate  *TLS          `yaml:"certificate,omitempty" json:"certificate,omitempty"`
}

// AuthType returns the discriminator, or TypeNone for a nil config.
func (c *HTTPConfig) AuthType() Type {
	if c == nil {
		return TypeNone
	}
	return c.Type
}

// Clone returns a deep copy.
func (c *HTTPConfig) Clone() *HTTPConfig {
	if c == nil {
		return nil
	}
	out := *c
	if c.Basic != nil {
		v := *c.Basic
		out.Basic = &v
	}
	if c.Bearer != nil {
		v := *c.Bearer
		out.Bearer = &v
	}
	if c.APIKey != nil {
		v := *c.APIKey
		out.APIKey = &v
	}
	if c.OAuth2 != nil {
		out.OAuth2 = c.OAuth2.clone()
	}
	if c.CustomHeader != nil {
		v := CustomHeader{Headers: copyMap(c.CustomHeader.Headers)}
		out.CustomHeader = &v
	}
	out.Certificate = c.Certificate.Clone()
	return &out
}

// Basic is username/password authentication.
type Basic struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

func (b *Basic) Validate() error {
	if b.Username == "" {
		return missing(TypeBasic, "username")
	}
	if b.Password == "" {
		return missing(TypeBasic, "password")
	}
	return nil
}

// Bearer sends a static token in the Authorization header.
type Bearer struct {
	Token string `yaml:"token" json:"token"`
}

func (b *Bearer) Validate() error {
	if b.Token == "" {
		return missing(TypeBearer, "token")
	}
	return nil
}

// DefaultAPIKeyHeader is the header used when APIKey names neither a header nor a query parameter.
const DefaultAPIKeyHeader = "X-API-Key"

// APIKey sends a key in a header or, when QueryParam is set, in the query string.
type APIKey struct {
	Key        string `yaml:"key" json:"key"`
	Header     string `yaml:"header,omitempty" json:"header,omitempty"`
	QueryParam string `yaml:"queryParam,omitempty" json:"queryParam,omitempty"`
}

func (a *APIKey) Validate() error {
	if a.Key == "" {
		return missing(TypeAPIKey, "key")
	}
	return nil
}

// OAuth2 is the client credentials grant. Without TokenURL the token
// endpoint is discovered from Issuer's authorization server metadata.
type OAuth2 struct {
	ClientID       string            `yaml:"clientId" json:"clientId"`
	ClientSecret   string            `yaml:"clientSecret" json:"clientSecret"`
	TokenURL       string            `yaml:"tokenUrl,omitempty" json:"tokenUrl,omitempty"`
	Issuer         string            `yaml:"issuer,omitempty" json:"issuer,omitempty"`
	Scopes         []string          `yaml:"scopes,omitempty" json:"scopes,omitempty"`
	EndpointParams map[string]string `yaml:"endpointParams,omitempty" json:"endpointParams,omitempty"`
}

func (o *OAuth2) Validate() error {
	if o.ClientID == "" {
		return missing(TypeOAuth2, "clientId")
	}
	if o.ClientSecret == "" {
		return missing(TypeOAuth2, "clientSecret")
	}
	if o.TokenURL == "" && o.Issuer == "" {
		return missing(TypeOAuth2, "tokenUrl or issuer")
	}
	return nil
}

// Key returns the token cache key of o.
func (o *OAuth2) Key() TokenKey {
	return TokenKey{ClientID: o.ClientID, TokenURL: o.TokenURL}
}

func (o *OAuth2) clone() *OAuth2 {
	v := *o
	v.Scopes = append([]string(nil), o.Scopes...)
	v.EndpointParams = copyMap(o.EndpointParams)
	return &v
}

// CustomHeader sets arbitrary headers.
type CustomHeader struct {
	Headers map[string]string `yaml:"headers" json:"headers"`
}

func (c *CustomHeader) Validate() error {
	if len(c.Headers) == 0 {
		return missing(TypeCustomHeader, "headers")
	}
	for name := range c.Headers {
		if strings.TrimSpace(name) == "" {
			return missing(TypeCustomHeader, "header name")
		}
	}
	return nil
}

// KafkaConfig is the tagged union of broker authentication schemes.
type KafkaConfig struct {
	Type      Type  `yaml:"type" json:"type"`
	SASL      *SASL `yaml:"sasl,omitempty" json:"sasl,omitempty"`
	SSL       *TLS  `yaml:"ssl,omitempty" json:"ssl,omitempty"`
	MutualTLS *TLS  `yaml:"mutualTls,omitempty" json:"mutualTls,omitempty"`
}

func (c *KafkaConfig) AuthType() Type {
	if c == nil {
		return TypeNone
	}
	return c.Type
}

func (c *KafkaConfig) Clone() *KafkaConfig {
	if c == nil {
		return nil
	}
	out := *c
	if c.SASL != nil {
		v := *c.SASL
		v.TLS = c.SASL.TLS.Clone()
		out.SASL = &v
	}
	out.SSL = c.SSL.Clone()
	out.MutualTLS = c.MutualTLS.Clone()
	return &out
}

// SASL holds credentials for the PLAIN and SCRAM mechanisms. UseTLS
// enables TLS on the connection (SASL_SSL), configured by TLS when set.
type SASL struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	UseTLS   bool   `yaml:"useTls,omitempty" json:"useTls,omitempty"`
	TLS      *TLS   `yaml:"tls,omitempty" json:"tls,omitempty"`
}

// Validate checks the credentials for mechanism scheme.
func (s *SASL) Validate(scheme Type) error {
	if s.Username == "" {
		return missing(scheme, "username")
	}
	if s.Password == "" {
		return missing(scheme, "password")
	}
	return nil
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
