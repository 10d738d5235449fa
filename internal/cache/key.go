package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/Lllllllleong/documentpreview/internal/models"
)

// KeyLength is the number of hex characters in a CacheKey.
const KeyLength = 16

// Fingerprint returns the hex SHA-256 of content.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// DeriveKey returns the cache key for content converted as ext. The same bytes
// always map to the same key; any change to the bytes yields a new key, so a
// re-uploaded document never hits a stale preview.
func DeriveKey(content []byte, ext string) models.CacheKey {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimPrefix(ext, "."))))
	h.Write([]byte{0})
	h.Write(content)
	return models.CacheKey(hex.EncodeToString(h.Sum(nil))[:KeyLength])
}

// ValidKey reports whether s has the shape of a derived key. Serve requests
// are checked with it before any storage lookup.
func ValidKey(s string) bool {
	if len(s) != KeyLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
