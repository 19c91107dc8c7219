package utils

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

func HashString(s string) string {
	hasher := sha256.New()
	hasher.Write([]byte(s))
	return hex.EncodeToString(hasher.Sum(nil))
}

// HashURL is the canonical cache key of a source URL: the lowercase hex MD5
// digest of the URL with surrounding whitespace removed. Cache reads and
// writes must both go through this function.
func HashURL(url string) string {
	sum := md5.Sum([]byte(strings.TrimSpace(url)))
	return hex.EncodeToString(sum[:])
}

// GenerateToken returns a hex encoded token built from n random bytes.
func GenerateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
