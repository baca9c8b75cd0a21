package security

import (
	"golang.org/x/crypto/bcrypt"
)

// PasswordEncoder verifies and produces stored password hashes. The login flow depends only
// on this interface so the hashing algorithm stays a deployment choice.
type PasswordEncoder interface {
	Encode(password []byte) (string, error)
	Matches(encoded string, password []byte) bool
}

// Hasher is the bcrypt PasswordEncoder. Callers must not log or persist plaintext passwords.
type Hasher struct {
	Cost int
}

// NewHasher returns a Hasher with the given bcrypt cost, clamped to bcrypt's valid range.
// A non-positive cost uses bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

// Encode returns the bcrypt hash of password.
func (h *Hasher) Encode(password []byte) (string, error) {
	b, err := bcrypt.GenerateFromPassword(password, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Matches reports whether password hashes to encoded. Malformed hashes never match.
func (h *Hasher) Matches(encoded string, password []byte) bool {
	if encoded == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(encoded), password) == nil
}
