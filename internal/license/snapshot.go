package license

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "licensegate/internal/errors"
)

// snapshotVersion is bumped whenever the signed claim set changes
const snapshotVersion = 1

// Snapshot is the device-side copy of the last server verdict. Every field
// is covered by the cache signature.
type Snapshot struct {
	LicenseKey        string    `json:"licenseKey"`
	BusinessType      string    `json:"businessType"`
	EnabledModules    []string  `json:"enabledModules"`
	ExpiryDate        time.Time `json:"expiryDate"`
	DeviceFingerprint string    `json:"deviceFingerprint"`
	LastValidatedAt   time.Time `json:"lastValidatedAt"`
	ValidationToken   string    `json:"validationToken"`
}

// SnapshotSigner produces the cache signature for a snapshot
type SnapshotSigner interface {
	Sign(snap Snapshot) (string, error)
}

// SnapshotVerifier checks a cache signature. Any failure wraps errors.ErrTamperedCache.
type SnapshotVerifier interface {
	Verify(snap Snapshot, signature string) error
}

type snapshotClaims struct {
	jwt.RegisteredClaims
	LicenseKey   string   `json:"lk"`
	BusinessType string   `json:"bt"`
	Modules      []string `json:"mods"`
	ExpiryMS     int64    `json:"exp_ms"`
	Fingerprint  string   `json:"fp"`
	ValidatedMS  int64    `json:"vat_ms"`
	Token        string   `json:"tok"`
	Version      int      `json:"v"`
}

func claimsOf(snap Snapshot) *snapshotClaims {
	modules := snap.EnabledModules
	if modules == nil {
		modules = []string{}
	}
	return &snapshotClaims{
		LicenseKey:   snap.LicenseKey,
		BusinessType: snap.BusinessType,
		Modules:      modules,
		ExpiryMS:     snap.ExpiryDate.UnixMilli(),
		Fingerprint:  snap.DeviceFingerprint,
		ValidatedMS:  snap.LastValidatedAt.UnixMilli(),
		Token:        snap.ValidationToken,
		Version:      snapshotVersion,
	}
}

// matches compares every signed claim to the stored snapshot. Times must
// carry no precision below a millisecond.
func (c *snapshotClaims) matches(snap Snapshot) bool {
	modules := snap.EnabledModules
	if modules == nil {
		modules = []string{}
	}
	return c.Version == snapshotVersion &&
		c.LicenseKey == snap.LicenseKey &&
		c.BusinessType == snap.BusinessType &&
		slices.Equal(c.Modules, modules) &&
		snap.ExpiryDate.Equal(time.UnixMilli(c.ExpiryMS)) &&
		c.Fingerprint == snap.DeviceFingerprint &&
		snap.LastValidatedAt.Equal(time.UnixMilli(c.ValidatedMS)) &&
		c.Token == snap.ValidationToken
}

// JWSSnapshotSigner signs snapshots as compact JWS
type JWSSnapshotSigner struct {
	method jwt.SigningMethod
	key    any
	keyID  string
}

// NewEdDSASnapshotSigner signs with an Ed25519 private key; devices verify
// with the public half only.
func NewEdDSASnapshotSigner(priv ed25519.PrivateKey) (*JWSSnapshotSigner, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("snapshot signer: invalid ed25519 private key")
	}
	pub, _ := priv.Public().(ed25519.PublicKey)
	return &JWSSnapshotSigner{method: jwt.SigningMethodEdDSA, key: priv, keyID: KeyID(pub)}, nil
}

// NewHMACSnapshotSigner signs with a shared secret (HS256). key should come
// from security.DeriveKey with the cache snapshot label.
func NewHMACSnapshotSigner(key []byte) (*JWSSnapshotSigner, error) {
	if len(key) == 0 {
		return nil, errors.New("snapshot signer: empty hmac key")
	}
	return &JWSSnapshotSigner{method: jwt.SigningMethodHS256, key: slices.Clone(key)}, nil
}

// Sign implements SnapshotSigner
func (s *JWSSnapshotSigner) Sign(snap Snapshot) (string, error) {
	token := jwt.NewWithClaims(s.method, claimsOf(snap))
	if s.keyID != "" {
		token.Header["kid"] = s.keyID
	}
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign snapshot: %w", err)
	}
	return signed, nil
}

// WithKeyID overrides the kid header, e.g. to name a rotated key
func (s *JWSSnapshotSigner) WithKeyID(kid string) *JWSSnapshotSigner {
	if kid != "" {
		s.keyID = kid
	}
	return s
}

// KeyID returns the kid header value, "" when none is set
func (s *JWSSnapshotSigner) KeyID() string { return s.keyID }

// Algorithm returns the JWS alg header value
func (s *JWSSnapshotSigner) Algorithm() string { return s.method.Alg() }

// JWSSnapshotVerifier checks compact JWS cache signatures
type JWSSnapshotVerifier struct {
	method jwt.SigningMethod
	key    any
}

// NewEdDSASnapshotVerifier verifies with the server's Ed25519 public key
func NewEdDSASnapshotVerifier(pub ed25519.PublicKey) (*JWSSnapshotVerifier, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, errors.New("snapshot verifier: invalid ed25519 public key")
	}
	return &JWSSnapshotVerifier{method: jwt.SigningMethodEdDSA, key: pub}, nil
}

// NewHMACSnapshotVerifier verifies HS256 signatures with a shared secret
func NewHMACSnapshotVerifier(key []byte) (*JWSSnapshotVerifier, error) {
	if len(key) == 0 {
		return nil, errors.New("snapshot verifier: empty hmac key")
	}
	return &JWSSnapshotVerifier{method: jwt.SigningMethodHS256, key: slices.Clone(key)}, nil
}

// Verify implements SnapshotVerifier. The signature must be valid for the
// configured algorithm and every claim must equal the stored field.
func (v *JWSSnapshotVerifier) Verify(snap Snapshot, signature string) error {
	if signature == "" {
		return fmt.Errorf("%w: missing signature", apperrors.ErrTamperedCache)
	}
	claims := &snapshotClaims{}
	token, err := jwt.ParseWithClaims(signature, claims,
		func(*jwt.Token) (any, error) { return v.key, nil },
		jwt.WithValidMethods([]string{v.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrTamperedCache, err)
	}
	if !token.Valid {
		return fmt.Errorf("%w: invalid signature", apperrors.ErrTamperedCache)
	}
	if !claims.matches(snap) {
		return fmt.Errorf("%w: snapshot fields differ from signed claims", apperrors.ErrTamperedCache)
	}
	return nil
}

// KeyID fingerprints a public key for the JWS kid header
func KeyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:8])
}
