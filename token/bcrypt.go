package token

import (
	"golang.org/x/crypto/bcrypt"
)

// PasswordVerifier checks presented secrets against stored hashes and hashes
// new secrets for storage.
type PasswordVerifier interface {
	Verify(hash, secret string) error
	Hash(secret string) (string, error)
}

// BcryptVerifier implements PasswordVerifier with bcrypt.
type BcryptVerifier struct {
	Cost int
}

// NewBcryptVerifier returns a verifier at the default bcrypt cost.
func NewBcryptVerifier() *BcryptVerifier {
	return &BcryptVerifier{Cost: bcrypt.DefaultCost}
}

// Verify compares a stored hash with a presented secret.
func (v *BcryptVerifier) Verify(hash, secret string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
}

// Hash derives a storage hash from a secret.
func (v *BcryptVerifier) Hash(secret string) (string, error) {
	cost := v.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	out, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
