package auth

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLS describes TLS material either as file paths or inline PEM. Inline PEM
// takes precedence over files.
type TLS struct {
	CAFile             string `yaml:"caFile,omitempty" json:"caFile,omitempty"`
	CertFile           string `yaml:"certFile,omitempty" json:"certFile,omitempty"`
	KeyFile            string `yaml:"keyFile,omitempty" json:"keyFile,omitempty"`
	CAPEM              string `yaml:"caPem,omitempty" json:"caPem,omitempty"`
	CertPEM            string `yaml:"certPem,omitempty" json:"certPem,omitempty"`
	KeyPEM             string `yaml:"keyPem,omitempty" json:"keyPem,omitempty"`
	KeyPassword        string `yaml:"keyPassword,omitempty" json:"keyPassword,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify,omitempty" json:"insecureSkipVerify,omitempty"`
	ServerName         string `yaml:"serverName,omitempty" json:"serverName,omitempty"`
}

func (t *TLS) Clone() *TLS {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// HasClientCert reports whether a client certificate and key are configured.
func (t *TLS) HasClientCert() bool {
	if t == nil {
		return false
	}
	return (t.CertPEM != "" || t.CertFile != "") && (t.KeyPEM != "" || t.KeyFile != "")
}

// RequireClientCert returns a MissingFieldError for scheme when no client
// certificate or key is configured.
func (t *TLS) RequireClientCert(scheme Type) error {
	if t == nil {
		return missing(scheme, "certificate")
	}
	if t.CertPEM == "" && t.CertFile == "" {
		return missing(scheme, "certFile or certPem")
	}
	if t.KeyPEM == "" && t.KeyFile == "" {
		return missing(scheme, "keyFile or keyPem")
	}
	return nil
}

// LoadTLSConfig builds a *tls.Config from t. A nil t yields a config using
// the system roots.
func LoadTLSConfig(t *TLS) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if t == nil {
		return cfg, nil
	}
	cfg.InsecureSkipVerify = t.InsecureSkipVerify
	cfg.ServerName = t.ServerName

	caPEM, err := readPEM(t.CAPEM, t.CAFile, "CA certificate")
	if err != nil {
		return nil, err
	}
	if len(caPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		cfg.RootCAs = pool
	}

	if t.HasClientCert() {
		certPEM, err := readPEM(t.CertPEM, t.CertFile, "client certificate")
		if err != nil {
			return nil, err
		}
		keyPEM, err := readPEM(t.KeyPEM, t.KeyFile, "private key")
		if err != nil {
			return nil, err
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to parse client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

func readPEM(inline, path, what string) ([]byte, error) {
	if inline != "" {
		return []byte(inline), nil
	}
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", what, err)
	}
	return data, nil
}
