package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// selfSigned returns a PEM encoded certificate and key.
func selfSigned(t *testing.T) (string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "given-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return string(certPEM), string(keyPEM)
}

func TestLoadTLSConfig_Nil(t *testing.T) {
	cfg, err := LoadTLSConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Nil(t, cfg.RootCAs)
}

func TestLoadTLSConfig_InlinePEM(t *testing.T) {
	certPEM, keyPEM := selfSigned(t)

	cfg, err := LoadTLSConfig(&TLS{
		CAPEM:      certPEM,
		CertPEM:    certPEM,
		KeyPEM:     keyPEM,
		ServerName: "broker.local",
	})
	require.NoError(t, err)
	assert.NotNil(t, cfg.RootCAs)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, "broker.local", cfg.ServerName)
}

func TestLoadTLSConfig_Files(t *testing.T) {
	certPEM, keyPEM := selfSigned(t)
	dir := t.TempDir()
	certFile := filepath.Join(dir, "tls.crt")
	keyFile := filepath.Join(dir, "tls.key")
	require.NoError(t, os.WriteFile(certFile, []byte(certPEM), 0600))
	require.NoError(t, os.WriteFile(keyFile, []byte(keyPEM), 0600))

	cfg, err := LoadTLSConfig(&TLS{CAFile: certFile, CertFile: certFile, KeyFile: keyFile})
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
}

func TestLoadTLSConfig_Errors(t *testing.T) {
	_, err := LoadTLSConfig(&TLS{CAPEM: "not a certificate"})
	assert.ErrorContains(t, err, "failed to parse CA certificate")

	_, err = LoadTLSConfig(&TLS{CAFile: filepath.Join(t.TempDir(), "missing.pem")})
	assert.ErrorContains(t, err, "failed to read CA certificate")

	certPEM, _ := selfSigned(t)
	_, otherKey := selfSigned(t)
	_, err = LoadTLSConfig(&TLS{CertPEM: certPEM, KeyPEM: otherKey})
	assert.ErrorContains(t, err, "failed to parse client certificate")
}
