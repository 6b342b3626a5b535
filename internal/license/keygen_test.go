package license

import (
	"bytes"
	"errors"
	"regexp"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensegate/internal/shared/testutil"
)

func TestGenerateKey(t *testing.T) {
	tests := []struct {
		name         string
		businessType string
		want         string
	}{
		{"four letter tag", "pharmacy", "APP-PHAR-DSK-0A1B2C-2026"},
		{"short type falls back", "gas", "APP-GEN-DSK-0A1B2C-2026"},
		{"punctuation is skipped", "p.u-m p", "APP-PUMP-DSK-0A1B2C-2026"},
		{"digits count", "24x7 store", "APP-24X7-DSK-0A1B2C-2026"},
		{"non ascii is skipped", "épicerie", "APP-PICE-DSK-0A1B2C-2026"},
		{"empty", "", "APP-GEN-DSK-0A1B2C-2026"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rnd := bytes.NewReader([]byte{0x0a, 0x1b, 0x2c})
			key, err := GenerateKey("app", "dsk", tt.businessType, testutil.FixtureNow, rnd)
			require.NoError(t, err)
			assert.Equal(t, tt.want, key)
		})
	}
}

func TestGenerateKey_Format(t *testing.T) {
	pattern := regexp.MustCompile(`^APP-[A-Z0-9]{3,4}-DSK-[0-9A-F]{6}-\d{4}$`)
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		key, err := GenerateKey("APP", "DSK", "pharmacy", testutil.FixtureNow, nil)
		require.NoError(t, err)
		assert.Regexp(t, pattern, key)
		seen[key] = struct{}{}
	}
	assert.Greater(t, len(seen), 1)
}

func TestGenerateKey_RandomnessFailure(t *testing.T) {
	_, err := GenerateKey("APP", "DSK", "pharmacy", testutil.FixtureNow, iotest.ErrReader(errors.New("entropy exhausted")))
	assert.ErrorContains(t, err, "entropy exhausted")
}

func TestMaskLicenseKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"APP-PHAR-DSK-0A1B2C-2026", "APP-PHAR-****-2026"},
		{"app-phar-dsk-0a1b2c-2026", "APP-PHAR-****-2026"},
		{"SHORTKEY", "****"},
		{"NODASHESATALL1234", "NODA****1234"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskLicenseKey(tt.in))
		})
	}
}

func TestMaskFingerprint(t *testing.T) {
	assert.Equal(t, "empty", MaskFingerprint(""))
	assert.Equal(t, "abc", MaskFingerprint("abc"))
	assert.Equal(t, "0123abcd...", MaskFingerprint("0123abcdef9876"))
}
