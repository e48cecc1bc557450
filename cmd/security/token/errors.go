package token

import "errors"

var (
	// ErrTokenExpired is returned when a structurally valid, correctly signed
	// token is past its expiry. Callers may use this to trigger a refresh.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenMalformed is returned for every other verification failure:
	// bad structure, bad signature, wrong algorithm, wrong namespace, or
	// missing claims. Callers must treat this as a hard reject.
	ErrTokenMalformed = errors.New("token malformed")

	// ErrConfig is returned for invalid token configuration.
	ErrConfig = errors.New("invalid token config")
)
