package security

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MinSecretLength is the minimum length in bytes of the configured signing secret.
const MinSecretLength = 32

// signingKeyInfo binds derived keys to their purpose so the same secret cannot
// produce an interchangeable key for another use.
const signingKeyInfo = "edge-guard access token signing v1"

// ErrSecretTooShort is returned when the signing secret is shorter than MinSecretLength.
var ErrSecretTooShort = errors.New("signing secret must be at least 32 bytes")

// DeriveSigningKey derives the HS256 signing key from the configured secret using HKDF-SHA256.
// Returns ErrSecretTooShort when the secret is shorter than MinSecretLength.
func DeriveSigningKey(secret string) ([]byte, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(signingKeyInfo))
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}
