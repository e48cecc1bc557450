package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// Cost is the bcrypt cost factor used for new hashes.
	Cost = 12

	// MinLength is the minimum accepted password length.
	MinLength = 8
	// MaxLength caps input length; bcrypt only reads the first 72 bytes anyway.
	MaxLength = 72
)

var (
	// ErrTooShort is returned when the password is below MinLength.
	ErrTooShort = errors.New("password too short")

	// ErrTooLong is returned when the password exceeds MaxLength.
	ErrTooLong = errors.New("password too long")
)

// Hash returns a salted bcrypt hash of plain.
func Hash(plain string) (string, error) {
	if len(plain) < MinLength {
		return "", ErrTooShort
	}
	if len(plain) > MaxLength {
		return "", ErrTooLong
	}

	h, err := bcrypt.GenerateFromPassword([]byte(plain), Cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(h), nil
}

// Verify reports whether plain matches the stored hash.
// The comparison is bcrypt's own constant-time-safe primitive. A structurally
// invalid hash is reported as an error, not a mismatch.
func Verify(plain, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("bcrypt compare: %w", err)
}

// DummyCompare burns one bcrypt verification against a fixed hash.
// Login uses it when the account does not exist so that unknown-email and
// wrong-password failures take comparable time.
func DummyCompare(plain string) {
	_, _ = Verify(plain, dummyHash)
}

// A valid bcrypt hash of an unguessable throwaway value, cost 12.
const dummyHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"
