// Package secrets mints and verifies relay API keys. Keys are random,
// prefixed so they are recognizable in logs and config reviews, and only
// ever stored as bcrypt hashes.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/bcrypt"

	dErrors "relaypool/pkg/domain-errors"
)

// KeyPrefix marks every generated relay key. Grepping a leaked config or
// log for this prefix finds stray plaintext keys.
const KeyPrefix = "rp_"

// Generate creates a cryptographically secure relay API key.
// The result is KeyPrefix plus 32 random bytes, base64 encoded.
func Generate() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not generate key")
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash creates a bcrypt hash of the provided key. Only the hash goes into
// server configuration; the plaintext key belongs to the client.
func Hash(key string) (string, error) {
	if key == "" {
		return "", dErrors.New(dErrors.CodeValidation, "key cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", dErrors.New(dErrors.CodeValidation, "key is too long")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not hash key")
	}
	return string(hashed), nil
}

// Verify checks if a presented key matches a bcrypt hash.
func Verify(key, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return dErrors.New(dErrors.CodeUnauthorized, "invalid key")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not verify key")
	}
	return nil
}
