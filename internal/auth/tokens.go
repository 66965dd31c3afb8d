package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// Token prefixes make leaked tokens easy to recognise and to tell apart
const (
	AccessTokenPrefix  = "lba_"
	RefreshTokenPrefix = "lbr_"
	ResetTokenPrefix   = "lbp_"

	tokenBodyLength = 40
)

// GenerateToken creates a random token with the given prefix.
// Returns both the raw token (to give to the client) and its hash (to store).
func GenerateToken(prefix string) (string, string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	raw := prefix + base64.RawURLEncoding.EncodeToString(bytes)[:tokenBodyLength]
	return raw, HashToken(raw), nil
}

// HashToken returns the hex sha256 of a raw token
func HashToken(raw string) string {
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", hash)
}

// hasTokenShape rejects obviously malformed tokens before touching the database
func hasTokenShape(raw, prefix string) bool {
	return strings.HasPrefix(raw, prefix) && len(raw) == len(prefix)+tokenBodyLength
}
