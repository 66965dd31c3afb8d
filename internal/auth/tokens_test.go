package auth

import (
	"strings"
	"testing"
)

func TestGenerateToken(t *testing.T) {
	for _, prefix := range []string{AccessTokenPrefix, RefreshTokenPrefix, ResetTokenPrefix} {
		t.Run(prefix, func(t *testing.T) {
			raw, hash, err := GenerateToken(prefix)
			if err != nil {
				t.Fatalf("GenerateToken failed: %v", err)
			}
			if !strings.HasPrefix(raw, prefix) {
				t.Errorf("token %q missing prefix %q", raw, prefix)
			}
			if len(raw) != len(prefix)+tokenBodyLength {
				t.Errorf("token length = %d, want %d", len(raw), len(prefix)+tokenBodyLength)
			}
			if hash != HashToken(raw) {
				t.Error("returned hash does not match HashToken(raw)")
			}
			if len(hash) != 64 {
				t.Errorf("hash length = %d, want 64", len(hash))
			}
			if !hasTokenShape(raw, prefix) {
				t.Error("generated token should have a valid shape")
			}
		})
	}

	t.Run("tokens are unique", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			raw, _, err := GenerateToken(AccessTokenPrefix)
			if err != nil {
				t.Fatalf("GenerateToken failed: %v", err)
			}
			if seen[raw] {
				t.Fatalf("duplicate token generated: %s", raw)
			}
			seen[raw] = true
		}
	})
}

func TestHasTokenShape(t *testing.T) {
	body := strings.Repeat("a", tokenBodyLength)
	tests := []struct {
		name   string
		raw    string
		prefix string
		want   bool
	}{
		{"valid access", AccessTokenPrefix + body, AccessTokenPrefix, true},
		{"refresh used as access", RefreshTokenPrefix + body, AccessTokenPrefix, false},
		{"too short", AccessTokenPrefix + "abc", AccessTokenPrefix, false},
		{"empty", "", AccessTokenPrefix, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hasTokenShape(tt.raw, tt.prefix); got != tt.want {
				t.Errorf("hasTokenShape(%q, %q) = %v, want %v", tt.raw, tt.prefix, got, tt.want)
			}
		})
	}
}
