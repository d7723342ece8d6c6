package security

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// dummyHash is a bcrypt hash of "test". It is compared against when no stored hash exists
// so unknown identities cost the same as known ones.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// HashSecret hashes a client secret or user password with bcrypt at the default cost.
func HashSecret(secret string) (string, error) {
	return HashSecretWithCost(secret, bcrypt.DefaultCost)
}

// HashSecretWithCost hashes a secret with an explicit bcrypt cost.
// A cost of zero selects bcrypt.DefaultCost.
func HashSecretWithCost(secret string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

// CompareSecret reports whether secret matches hash.
// An empty hash never matches, but still costs one bcrypt comparison.
func CompareSecret(hash, secret string) bool {
	hashToCompare := hash
	if hashToCompare == "" {
		hashToCompare = dummyHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(secret))
	return err == nil && hash != ""
}
