package certs

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, cert tls.Certificate) *x509.Certificate {
	t.Helper()
	require.Len(t, cert.Certificate, 1)
	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	return parsed
}

func TestFileManager_CreatesCertificate(t *testing.T) {
	m := NewFileManager(filepath.Join(t.TempDir(), "certs"))

	cert, err := m.GetOrCreateCertificate()
	require.NoError(t, err)
	parsed := parse(t, cert)

	assert.Equal(t, []string{"Tally API"}, parsed.Subject.Organization)
	assert.NoError(t, parsed.VerifyHostname("localhost"))
	assert.NoError(t, parsed.VerifyHostname("127.0.0.1"))
	assert.Equal(t, []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}, parsed.ExtKeyUsage)
	assert.True(t, parsed.NotAfter.After(time.Now().Add(364*24*time.Hour)))

	var loopback6 bool
	for _, ip := range parsed.IPAddresses {
		if ip.Equal(net.IPv6loopback) {
			loopback6 = true
		}
	}
	assert.True(t, loopback6)

	info, err := os.Stat(filepath.Join(filepath.Dir(m.CertFile()), "localhost.key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileManager_ReusesValidCertificate(t *testing.T) {
	m := NewFileManager(t.TempDir())

	first, err := m.GetOrCreateCertificate()
	require.NoError(t, err)
	second, err := m.GetOrCreateCertificate()
	require.NoError(t, err)

	assert.Equal(t, parse(t, first).SerialNumber, parse(t, second).SerialNumber)
}

func TestFileManager_Regenerates(t *testing.T) {
	t.Run("unreadable files", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "localhost.crt"), []byte("garbage"), 0600))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "localhost.key"), []byte("garbage"), 0600))

		cert, err := NewFileManager(dir).GetOrCreateCertificate()
		require.NoError(t, err)
		assert.NoError(t, parse(t, cert).VerifyHostname("localhost"))
	})

	t.Run("close to expiry", func(t *testing.T) {
		dir := t.TempDir()
		old := NewFileManager(dir)
		old.now = func() time.Time { return time.Now().Add(-Validity + RenewBefore/2) }
		first, err := old.GetOrCreateCertificate()
		require.NoError(t, err)

		second, err := NewFileManager(dir).GetOrCreateCertificate()
		require.NoError(t, err)
		assert.NotEqual(t, parse(t, first).SerialNumber, parse(t, second).SerialNumber)
		assert.True(t, parse(t, second).NotAfter.After(time.Now().Add(RenewBefore)))
	})
}

func TestFileManager_Errors(t *testing.T) {
	parent := t.TempDir()
	blocked := filepath.Join(parent, "certs")
	require.NoError(t, os.WriteFile(blocked, []byte("not a directory"), 0600))

	_, err := NewFileManager(blocked).GetOrCreateCertificate()
	require.Error(t, err)
}

func TestFileManager_TLSConfig(t *testing.T) {
	cfg, err := NewFileManager(t.TempDir()).TLSConfig()
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
}
