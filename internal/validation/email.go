package validation

import (
	"regexp"
	"strings"
)

// MaxEmailLength is the longest address accepted (RFC 5321 path limit)
const MaxEmailLength = 254

// emailRegex requires local-part @ domain with at least one dot
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)

// IsValidEmail checks if an email address is valid
func IsValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	if len(email) == 0 || len(email) > MaxEmailLength {
		return false
	}
	if !emailRegex.MatchString(email) {
		return false
	}

	local, _, _ := strings.Cut(email, "@")
	return !strings.Contains(local, "..")
}

// NormalizeEmail trims surrounding whitespace and lowercases the address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// LocalPart returns the part of the address before '@'
func LocalPart(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}
