package license

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// GenerateKey builds PREFIX-BIZ4-PLATFORM-RAND6HEX-YEAR, e.g. APP-PHAR-DSK-0A1B2C-2026.
// BIZ4 is the first four letters or digits of businessType, or GEN when there are fewer.
func GenerateKey(prefix, platformTag, businessType string, now time.Time, rnd io.Reader) (string, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	buf := make([]byte, 3)
	if _, err := io.ReadFull(rnd, buf); err != nil {
		return "", fmt.Errorf("read key randomness: %w", err)
	}

	return strings.Join([]string{
		strings.ToUpper(prefix),
		businessTag(businessType),
		strings.ToUpper(platformTag),
		strings.ToUpper(hex.EncodeToString(buf)),
		strconv.Itoa(now.UTC().Year()),
	}, "-"), nil
}

func businessTag(businessType string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(businessType) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			if b.Len() == 4 {
				return b.String()
			}
		}
	}
	return "GEN"
}
