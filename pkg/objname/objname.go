// Package objname maps arbitrary cache keys to backend-legal object names.
package objname

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// MaxLength is the longest object name the backend accepts. Azure blob names
// are capped at 1024 characters.
const MaxLength = 1024

// digestLen is the number of hex characters appended when a name is truncated.
const digestLen = 8

var illegalChars = regexp.MustCompile(`[\\?#]|\s+`)

// Sanitize converts a cache key into a deterministic, backend-legal object
// name. Backslashes, question marks, hashes, and runs of whitespace become
// underscores. Names longer than MaxLength are truncated and suffixed with an
// 8-hex-character digest of the original key, so distinct long keys keep
// distinct names.
func Sanitize(key string) string {
	return sanitize(key, MaxLength)
}

func sanitize(key string, maxLen int) string {
	name := illegalChars.ReplaceAllString(key, "_")
	if len(name) <= maxLen {
		return name
	}

	// Digest the original key, not the sanitized or truncated form, so the
	// suffix survives any future change to the character replacement rules.
	sum := sha256.Sum256([]byte(key))
	digest := hex.EncodeToString(sum[:])[:digestLen]

	keep := maxLen - digestLen - 1 // room for "_" + digest
	return name[:keep] + "_" + digest
}

// IsClean reports whether a key already is its own sanitized form.
func IsClean(key string) bool {
	return len(key) <= MaxLength && !strings.ContainsAny(key, "\\?# \t\n\r")
}
