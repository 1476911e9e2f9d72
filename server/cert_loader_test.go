package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSelfSigned(t *testing.T, dir, cn string) (string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{cn},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certPath, keyPath
}

func commonName(t *testing.T, cert *tls.Certificate) string {
	t.Helper()
	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	return parsed.Subject.CommonName
}

func TestCertLoader_ReloadsChangedFiles(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSigned(t, dir, "first.example")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	loader, err := NewCertLoader(certPath, keyPath, logger)
	require.NoError(t, err)

	cert, err := loader.GetCertificate(nil)
	require.NoError(t, err)
	assert.Equal(t, "first.example", commonName(t, cert))

	writeSelfSigned(t, dir, "second.example")
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(certPath, future, future))

	cert, err = loader.GetCertificate(nil)
	require.NoError(t, err)
	assert.Equal(t, "first.example", commonName(t, cert), "checks are rate limited")

	loader.mu.Lock()
	loader.lastCheck = time.Time{}
	loader.mu.Unlock()

	cert, err = loader.GetCertificate(nil)
	require.NoError(t, err)
	assert.Equal(t, "second.example", commonName(t, cert))
}

func TestCertLoader_KeepsOldCertOnError(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSigned(t, dir, "stable.example")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	loader, err := NewCertLoader(certPath, keyPath, logger)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(certPath, []byte("garbage"), 0o600))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(certPath, future, future))

	cert, err := loader.GetCertificate(nil)
	require.NoError(t, err)
	assert.Equal(t, "stable.example", commonName(t, cert))
}

func TestNewCertLoader_MissingFiles(t *testing.T) {
	_, err := NewCertLoader("/nonexistent/cert.pem", "/nonexistent/key.pem", slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load key pair")
}
