package session

import "errors"

var (
	// ErrEmailTaken reports a register attempt against an email that already
	// has an account, including the case where a concurrent register wins the
	// insert race.
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidCredentials covers every login failure mode. Unknown email and
	// wrong password are deliberately indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidRefreshToken covers expired, malformed, wrong-namespace and
	// orphaned (user deleted) refresh tokens.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrInvalidAccessToken covers expired, malformed and wrong-namespace
	// access tokens presented on authenticated requests.
	ErrInvalidAccessToken = errors.New("invalid access token")

	// ErrInvalidInput reports structurally invalid register input.
	ErrInvalidInput = errors.New("invalid input")
)
