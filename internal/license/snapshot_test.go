package license

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "licensegate/internal/errors"
	"licensegate/internal/shared/testutil"
)

func testSnapshot() Snapshot {
	lic := testutil.NewLicense()
	return SnapshotOf(lic, "fp-1", strings.Repeat("ab", 32), testutil.FixtureNow.Add(time.Hour))
}

func newEdDSAPair(t *testing.T) (*JWSSnapshotSigner, *JWSSnapshotVerifier) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := NewEdDSASnapshotSigner(priv)
	require.NoError(t, err)
	verifier, err := NewEdDSASnapshotVerifier(pub)
	require.NoError(t, err)
	return signer, verifier
}

func TestSnapshot_SignVerify(t *testing.T) {
	edSigner, edVerifier := newEdDSAPair(t)
	hmacKey := []byte("cache-key-cache-key-cache-key-!!")
	hsSigner, err := NewHMACSnapshotSigner(hmacKey)
	require.NoError(t, err)
	hsVerifier, err := NewHMACSnapshotVerifier(hmacKey)
	require.NoError(t, err)

	tests := []struct {
		name     string
		signer   SnapshotSigner
		verifier SnapshotVerifier
		alg      string
	}{
		{"eddsa", edSigner, edVerifier, "EdDSA"},
		{"hs256", hsSigner, hsVerifier, "HS256"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := testSnapshot()
			sig, err := tt.signer.Sign(snap)
			require.NoError(t, err)
			assert.Equal(t, tt.alg, tt.signer.(*JWSSnapshotSigner).Algorithm())
			assert.NoError(t, tt.verifier.Verify(snap, sig))
		})
	}
}

func TestSnapshot_Tamper(t *testing.T) {
	signer, verifier := newEdDSAPair(t)
	snap := testSnapshot()
	sig, err := signer.Sign(snap)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(s *Snapshot)
	}{
		{"expiry pushed out", func(s *Snapshot) { s.ExpiryDate = s.ExpiryDate.AddDate(1, 0, 0) }},
		{"expiry moved by a millisecond", func(s *Snapshot) { s.ExpiryDate = s.ExpiryDate.Add(time.Millisecond) }},
		{"validated later", func(s *Snapshot) { s.LastValidatedAt = s.LastValidatedAt.Add(72 * time.Hour) }},
		{"module added", func(s *Snapshot) { s.EnabledModules = append(s.EnabledModules, "payroll") }},
		{"business type", func(s *Snapshot) { s.BusinessType = "grocery" }},
		{"license key", func(s *Snapshot) { s.LicenseKey = "APP-PHAR-DSK-0A1B2D-2026" }},
		{"fingerprint", func(s *Snapshot) { s.DeviceFingerprint = "fp-2" }},
		{"token", func(s *Snapshot) { s.ValidationToken = strings.Repeat("cd", 32) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed := testSnapshot()
			changed.EnabledModules = append([]string(nil), changed.EnabledModules...)
			tt.mutate(&changed)
			err := verifier.Verify(changed, sig)
			assert.ErrorIs(t, err, apperrors.ErrTamperedCache)
		})
	}

	t.Run("signature byte flipped", func(t *testing.T) {
		b := []byte(sig)
		i := strings.LastIndexByte(sig, '.') + 5
		if b[i] == 'A' {
			b[i] = 'B'
		} else {
			b[i] = 'A'
		}
		assert.ErrorIs(t, verifier.Verify(snap, string(b)), apperrors.ErrTamperedCache)
	})

	t.Run("other key", func(t *testing.T) {
		_, otherVerifier := newEdDSAPair(t)
		assert.ErrorIs(t, otherVerifier.Verify(snap, sig), apperrors.ErrTamperedCache)
	})

	t.Run("empty signature", func(t *testing.T) {
		assert.ErrorIs(t, verifier.Verify(snap, ""), apperrors.ErrTamperedCache)
	})
}

func TestSnapshot_AlgorithmPinned(t *testing.T) {
	key := []byte("cache-key-cache-key-cache-key-!!")
	hsSigner, err := NewHMACSnapshotSigner(key)
	require.NoError(t, err)
	_, edVerifier := newEdDSAPair(t)

	snap := testSnapshot()
	sig, err := hsSigner.Sign(snap)
	require.NoError(t, err)

	assert.ErrorIs(t, edVerifier.Verify(snap, sig), apperrors.ErrTamperedCache)
}

func TestSnapshot_NilModulesMatchEmpty(t *testing.T) {
	signer, verifier := newEdDSAPair(t)
	snap := testSnapshot()
	snap.EnabledModules = nil
	sig, err := signer.Sign(snap)
	require.NoError(t, err)

	snap.EnabledModules = []string{}
	assert.NoError(t, verifier.Verify(snap, sig))
}

func TestNewSnapshotKeys_Invalid(t *testing.T) {
	_, err := NewEdDSASnapshotSigner(ed25519.PrivateKey{1, 2, 3})
	assert.Error(t, err)
	_, err = NewEdDSASnapshotVerifier(ed25519.PublicKey{1, 2, 3})
	assert.Error(t, err)
	_, err = NewHMACSnapshotSigner(nil)
	assert.Error(t, err)
	_, err = NewHMACSnapshotVerifier(nil)
	assert.Error(t, err)
}

func TestSnapshot_KeyIDHeader(t *testing.T) {
	signer, verifier := newEdDSAPair(t)
	assert.Len(t, signer.KeyID(), 16)

	signer.WithKeyID("2026-q1").WithKeyID("")
	assert.Equal(t, "2026-q1", signer.KeyID())

	snap := testSnapshot()
	sig, err := signer.Sign(snap)
	require.NoError(t, err)

	token, _, err := jwt.NewParser().ParseUnverified(sig, &snapshotClaims{})
	require.NoError(t, err)
	assert.Equal(t, "2026-q1", token.Header["kid"])
	assert.NoError(t, verifier.Verify(snap, sig))
}
