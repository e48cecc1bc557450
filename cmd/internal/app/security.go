package app

import (
	"crypto/subtle"
	"errors"
	"fmt"
)

const minTokenSecretBytes = 32

// ValidateSecurityConfig enforces the token policy at startup.
//
// Fail-fast is intentional: a server that silently runs without signing
// secrets would mint unverifiable tokens. Both namespaces must be keyed
// independently so an access token can never pass refresh verification.
func ValidateSecurityConfig(cfg Config) error {
	if cfg.AccessTokenSecret == "" {
		return errors.New("security policy: BANDROOM_ACCESS_TOKEN_SECRET is missing")
	}
	if cfg.RefreshTokenSecret == "" {
		return errors.New("security policy: BANDROOM_REFRESH_TOKEN_SECRET is missing")
	}
	if len(cfg.AccessTokenSecret) < minTokenSecretBytes {
		return fmt.Errorf("security policy: BANDROOM_ACCESS_TOKEN_SECRET is too short (min %d bytes)", minTokenSecretBytes)
	}
	if len(cfg.RefreshTokenSecret) < minTokenSecretBytes {
		return fmt.Errorf("security policy: BANDROOM_REFRESH_TOKEN_SECRET is too short (min %d bytes)", minTokenSecretBytes)
	}
	if subtle.ConstantTimeCompare([]byte(cfg.AccessTokenSecret), []byte(cfg.RefreshTokenSecret)) == 1 {
		return errors.New("security policy: access and refresh token secrets must differ")
	}
	return nil
}
