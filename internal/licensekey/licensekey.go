// Package licensekey generates and format-checks license keys of the
// shape PREFIX-XXXX-XXXX-XXXX-XXXX. Format validation is a cheap
// pre-check before a database lookup, never a substitute for one.
package licensekey

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	alphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	segmentCount  = 4
	segmentLength = 4
	minSegmentLen = 4
)

// Generate produces a license key with the given prefix using a
// cryptographically secure random source.
func Generate(prefix string) (string, error) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		return "", fmt.Errorf("license key prefix must not be empty")
	}

	buf := make([]byte, segmentCount*segmentLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	parts := make([]string, 0, segmentCount+1)
	parts = append(parts, prefix)
	for i := 0; i < segmentCount; i++ {
		var sb strings.Builder
		for j := 0; j < segmentLength; j++ {
			sb.WriteByte(alphabet[int(buf[i*segmentLength+j])%len(alphabet)])
		}
		parts = append(parts, sb.String())
	}

	return strings.Join(parts, "-"), nil
}

// ValidateFormat reports whether key has the expected surface shape:
// five dash-separated segments, the configured prefix, and uppercase
// alphanumeric segments of at least four characters.
func ValidateFormat(key, prefix string) bool {
	if key == "" {
		return false
	}

	parts := strings.Split(key, "-")
	if len(parts) != segmentCount+1 {
		return false
	}
	if parts[0] != strings.ToUpper(strings.TrimSpace(prefix)) {
		return false
	}

	for _, part := range parts[1:] {
		if len(part) < minSegmentLen {
			return false
		}
		for i := 0; i < len(part); i++ {
			c := part[i]
			if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
				return false
			}
		}
	}

	return true
}
