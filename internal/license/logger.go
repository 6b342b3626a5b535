package license

import (
	"strings"

	"licensegate/pkg/contracts/domain"
)

// MaskLicenseKey hides the random segment of a license key for logging.
// APP-PHAR-DSK-0A1B2C-2026 becomes APP-PHAR-****-2026.
func MaskLicenseKey(key string) string {
	key = domain.NormalizeLicenseKey(key)
	if key == "" {
		return ""
	}
	parts := strings.Split(key, "-")
	if len(parts) < 3 {
		if len(key) <= 8 {
			return "****"
		}
		return key[:4] + "****" + key[len(key)-4:]
	}
	return parts[0] + "-" + parts[1] + "-****-" + parts[len(parts)-1]
}

// MaskFingerprint keeps the first eight characters of a fingerprint
func MaskFingerprint(fingerprint string) string {
	if fingerprint == "" {
		return "empty"
	}
	if len(fingerprint) > 8 {
		return fingerprint[:8] + "..."
	}
	return fingerprint
}
