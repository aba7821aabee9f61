package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// ShortHashLen is the number of hex characters kept by ShortHash.
// Cache filenames and token-scope markers use this truncated form.
const ShortHashLen = 16

// SHA256Hex returns the SHA-256 hash of s as a lowercase hex string.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ShortHash returns the first ShortHashLen hex characters of the SHA-256
// hash of s. Used to derive compact, stable identifiers from session tokens
// without embedding the token itself in filenames or cache entries.
func ShortHash(s string) string {
	return SHA256Hex(s)[:ShortHashLen]
}
