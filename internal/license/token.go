package license

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"licensegate/pkg/contracts/domain"
)

// TokenSigner produces day-scoped validation tokens: hex HMAC-SHA256 over
// KEY|fingerprint|YYYY-MM-DD. It holds no state besides the key and clock.
type TokenSigner struct {
	key   []byte
	clock Clock
}

// NewTokenSigner creates a signer. key should come from security.DeriveKey.
func NewTokenSigner(key []byte, clock Clock) *TokenSigner {
	if clock == nil {
		clock = SystemClock{}
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &TokenSigner{key: k, clock: clock}
}

// Sign computes the token for a license key, fingerprint and UTC day
func (s *TokenSigner) Sign(licenseKey, fingerprint, day string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(strings.Join([]string{
		domain.NormalizeLicenseKey(licenseKey),
		fingerprint,
		day,
	}, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignToday signs for the clock's current day
func (s *TokenSigner) SignToday(licenseKey, fingerprint string) string {
	return s.Sign(licenseKey, fingerprint, DayOf(s.clock.Now()))
}

// Verify recomputes the token and compares in constant time
func (s *TokenSigner) Verify(token, licenseKey, fingerprint, day string) bool {
	expected := s.Sign(licenseKey, fingerprint, day)
	return hmac.Equal([]byte(strings.ToLower(token)), []byte(expected))
}

// VerifyToday verifies against the clock's current day
func (s *TokenSigner) VerifyToday(token, licenseKey, fingerprint string) bool {
	return s.Verify(token, licenseKey, fingerprint, DayOf(s.clock.Now()))
}
