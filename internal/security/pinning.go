package security

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrPinMismatch is returned when no certificate in the server chain matches a pin
var ErrPinMismatch = errors.New("certificate pin verification failed")

// PinningConfig holds certificate pinning configuration for the license server connection
type PinningConfig struct {
	// Pins are hex SHA-256 hashes of a Subject Public Key Info in the server chain.
	Pins             []string
	RootCAs          *x509.CertPool
	ConnTimeout      time.Duration
	HandshakeTimeout time.Duration
}

// CertificatePinner pins the license server certificate chain.
// With no pins configured, ordinary TLS verification applies.
type CertificatePinner struct {
	mu   sync.RWMutex
	pins map[string]struct{}
}

// NewCertificatePinner creates a pinner with the configured pins
func NewCertificatePinner(config *PinningConfig) *CertificatePinner {
	if config == nil {
		config = DefaultPinningConfig()
	}
	cp := &CertificatePinner{pins: make(map[string]struct{})}
	for _, pin := range config.Pins {
		_ = cp.AddPin(pin)
	}
	return cp
}

// DefaultPinningConfig returns default certificate pinning configuration
func DefaultPinningConfig() *PinningConfig {
	return &PinningConfig{
		ConnTimeout:      10 * time.Second,
		HandshakeTimeout: 5 * time.Second,
	}
}

// CreateSecureHTTPClient creates an HTTP client enforcing TLS 1.2+ and the pins
func (cp *CertificatePinner) CreateSecureHTTPClient(config *PinningConfig) *http.Client {
	if config == nil {
		config = DefaultPinningConfig()
	}

	tlsConfig := &tls.Config{
		MinVersion:       tls.VersionTLS12,
		RootCAs:          config.RootCAs,
		VerifyConnection: cp.verifyConnection,
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: config.HandshakeTimeout,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   config.ConnTimeout,
	}
}

// verifyConnection runs after standard chain verification
func (cp *CertificatePinner) verifyConnection(cs tls.ConnectionState) error {
	cp.mu.RLock()
	defer cp.mu.RUnlock()

	if len(cp.pins) == 0 {
		return nil
	}

	certs := cs.PeerCertificates
	if len(cs.VerifiedChains) > 0 {
		certs = cs.VerifiedChains[0]
	}
	for _, cert := range certs {
		if _, ok := cp.pins[SPKIHash(cert)]; ok {
			return nil
		}
	}
	return fmt.Errorf("%w for %s", ErrPinMismatch, cs.ServerName)
}

// AddPin adds a hex SPKI hash
func (cp *CertificatePinner) AddPin(certHash string) error {
	certHash = strings.ToLower(strings.TrimSpace(certHash))
	if len(certHash) != 64 {
		return fmt.Errorf("invalid certificate hash length: %d", len(certHash))
	}
	if _, err := hex.DecodeString(certHash); err != nil {
		return fmt.Errorf("invalid certificate hash: %w", err)
	}

	cp.mu.Lock()
	cp.pins[certHash] = struct{}{}
	cp.mu.Unlock()
	return nil
}

// RemovePin removes a pin
func (cp *CertificatePinner) RemovePin(certHash string) {
	cp.mu.Lock()
	delete(cp.pins, strings.ToLower(strings.TrimSpace(certHash)))
	cp.mu.Unlock()
}

// PinCount returns the number of configured pins
func (cp *CertificatePinner) PinCount() int {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return len(cp.pins)
}

// SPKIHash calculates the hex SHA-256 hash of a certificate's Subject Public Key Info
func SPKIHash(cert *x509.Certificate) string {
	hash := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return hex.EncodeToString(hash[:])
}
