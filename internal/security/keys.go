package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// Derivation labels. Each consumer of the provisioned secret gets its own key.
const (
	LabelValidationToken = "licensegate/validation-token/v1"
	LabelCacheSnapshot   = "licensegate/cache-snapshot/v1"
)

// DerivedKeySize is the length of every HKDF output (HMAC-SHA256 block friendly)
const DerivedKeySize = 32

// ErrEmptySecret is returned when no secret was provisioned
var ErrEmptySecret = errors.New("signing secret is empty")

// DeriveKey derives a purpose-bound key from the provisioned secret using HKDF-SHA256.
// The same secret and label always give the same key.
func DeriveKey(secret []byte, label string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	r := hkdf.New(sha256.New, secret, nil, []byte(label))

	key := make([]byte, DerivedKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return key, nil
}

// ClearKey overwrites key material
func ClearKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}

// GenerateSnapshotKey creates a fresh Ed25519 key pair for cache snapshot signing
func GenerateSnapshotKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return pub, priv, nil
}

// EncodePrivateKeyPEM encodes an Ed25519 private key as PKCS#8 PEM
func EncodePrivateKeyPEM(priv ed25519.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// EncodePublicKeyPEM encodes an Ed25519 public key as PKIX PEM
func EncodePublicKeyPEM(pub ed25519.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// LoadPrivateKey reads a PEM encoded Ed25519 private key
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key %s: %w", path, err)
	}
	key, err := jwt.ParseEdPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", path, err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s does not hold an ed25519 private key", path)
	}
	return priv, nil
}

// LoadPublicKey reads a PEM encoded Ed25519 public key
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key %s: %w", path, err)
	}
	key, err := jwt.ParseEdPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parse public key %s: %w", path, err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%s does not hold an ed25519 public key", path)
	}
	return pub, nil
}

// WriteKeyPair stores a key pair as priv (0600) and pub (0644) PEM files
func WriteKeyPair(privPath, pubPath string, pub ed25519.PublicKey, priv ed25519.PrivateKey) error {
	privPEM, err := EncodePrivateKeyPEM(priv)
	if err != nil {
		return err
	}
	pubPEM, err := EncodePublicKeyPEM(pub)
	if err != nil {
		return err
	}
	for _, dir := range []string{filepath.Dir(privPath), filepath.Dir(pubPath)} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create key directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	return nil
}

// PublicOf returns the public half of a signer
func PublicOf(priv ed25519.PrivateKey) ed25519.PublicKey {
	return priv.Public().(ed25519.PublicKey)
}
