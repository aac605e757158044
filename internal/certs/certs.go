// Package certs keeps the self-signed localhost certificate the API server
// uses when TLS is enabled.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	// Validity is how long a generated certificate lasts.
	Validity = 365 * 24 * time.Hour
	// RenewBefore is how close to expiry a certificate is replaced.
	RenewBefore = 30 * 24 * time.Hour

	organization = "Tally API"
)

// FileManager stores the certificate and key as PEM files in one directory.
type FileManager struct {
	now      func() time.Time
	certDir  string
	certFile string
	keyFile  string
}

// NewFileManager creates a FileManager for certDir.
func NewFileManager(certDir string) *FileManager {
	return &FileManager{
		now:      time.Now,
		certDir:  certDir,
		certFile: filepath.Join(certDir, "localhost.crt"),
		keyFile:  filepath.Join(certDir, "localhost.key"),
	}
}

// CertFile returns the certificate path, for clients that want to trust it.
func (m *FileManager) CertFile() string {
	return m.certFile
}

// GetOrCreateCertificate loads the stored certificate, replacing it when it
// is missing, unreadable, not for localhost or about to expire.
func (m *FileManager) GetOrCreateCertificate() (tls.Certificate, error) {
	exists, err := m.CertificateExists()
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to check certificate: %w", err)
	}
	if exists {
		cert, err := tls.LoadX509KeyPair(m.certFile, m.keyFile)
		if err == nil {
			if err = m.verify(cert); err == nil {
				return cert, nil
			}
		}
		if rmErr := m.remove(); rmErr != nil {
			return tls.Certificate{}, rmErr
		}
	}
	return m.generate()
}

// TLSConfig returns a server TLS configuration carrying the certificate.
func (m *FileManager) TLSConfig() (*tls.Config, error) {
	cert, err := m.GetOrCreateCertificate()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// CertificateExists reports whether both the certificate and key files exist.
func (m *FileManager) CertificateExists() (bool, error) {
	for _, path := range []string{m.certFile, m.keyFile} {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return false, nil
			}
			return false, err
		}
	}
	return true, nil
}

func (m *FileManager) generate() (tls.Certificate, error) {
	if err := os.MkdirAll(m.certDir, 0700); err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate directory: %w", err)
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate private key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := m.now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{organization}, CommonName: "localhost"},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(Validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:              []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to encode private key: %w", err)
	}

	if err := writePEM(m.certFile, "CERTIFICATE", der); err != nil {
		return tls.Certificate{}, err
	}
	if err := writePEM(m.keyFile, "EC PRIVATE KEY", keyDER); err != nil {
		return tls.Certificate{}, err
	}
	return tls.LoadX509KeyPair(m.certFile, m.keyFile)
}

func writePEM(path, blockType string, der []byte) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (m *FileManager) verify(cert tls.Certificate) error {
	if len(cert.Certificate) == 0 {
		return errors.New("no certificate in key pair")
	}
	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}

	now := m.now()
	if now.Before(parsed.NotBefore) {
		return errors.New("certificate not yet valid")
	}
	if now.Add(RenewBefore).After(parsed.NotAfter) {
		return errors.New("certificate expires soon")
	}
	return parsed.VerifyHostname("localhost")
}

func (m *FileManager) remove() error {
	for _, path := range []string{m.certFile, m.keyFile} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}
