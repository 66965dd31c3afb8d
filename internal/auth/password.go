package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the cost factor for bcrypt hashing
// 12 is a good balance of security and performance (~250ms on modern hardware)
const BcryptCost = 12

var hashCost = BcryptCost

// HashPassword creates a bcrypt hash of the password
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// CheckPassword compares a password against a bcrypt hash in constant time
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// SetHashCostForTest lowers the bcrypt cost and returns a restore function
func SetHashCostForTest(cost int) func() {
	prev := hashCost
	hashCost = cost
	return func() { hashCost = prev }
}
