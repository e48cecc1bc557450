package token

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	minSecretBytes = 32

	// DefaultAccessTTL is the default lifetime of access tokens.
	DefaultAccessTTL = 1 * time.Hour
	// DefaultRefreshTTL is the default lifetime of refresh tokens.
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Config defines the signing configuration for both token namespaces.
type Config struct {
	// Issuer is the value set in the "iss" claim of every token.
	Issuer string

	// AccessSecret and RefreshSecret are the HMAC signing keys. They must be
	// set, at least 32 bytes, and distinct from each other.
	AccessSecret  string
	RefreshSecret string

	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Claims is the verified identity carried by a token.
type Claims struct {
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type wireClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// Manager signs and verifies tokens for both namespaces.
// It is stateless: output is a pure function of secret, claims, and clock.
type Manager struct {
	issuer string

	accessSecret  []byte
	refreshSecret []byte

	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewManager validates cfg and constructs a Manager.
//
// Misconfiguration (missing, short, or equal secrets) is returned as ErrConfig
// so callers can fail fast at startup.
func NewManager(cfg Config) (*Manager, error) {
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, fmt.Errorf("%w: missing issuer", ErrConfig)
	}
	if len(cfg.AccessSecret) < minSecretBytes {
		return nil, fmt.Errorf("%w: access secret shorter than %d bytes", ErrConfig, minSecretBytes)
	}
	if len(cfg.RefreshSecret) < minSecretBytes {
		return nil, fmt.Errorf("%w: refresh secret shorter than %d bytes", ErrConfig, minSecretBytes)
	}
	if subtle.ConstantTimeCompare([]byte(cfg.AccessSecret), []byte(cfg.RefreshSecret)) == 1 {
		return nil, fmt.Errorf("%w: access and refresh secrets must differ", ErrConfig)
	}

	accessTTL := cfg.AccessTTL
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	refreshTTL := cfg.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}

	return &Manager{
		issuer:        issuer,
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.refreshTTL }

// IssueAccess signs a new access token for userID at time now.
func (m *Manager) IssueAccess(userID string, now time.Time) (string, error) {
	return m.issue(userID, now, m.accessSecret, m.accessTTL)
}

// IssueRefresh signs a new refresh token for userID at time now.
func (m *Manager) IssueRefresh(userID string, now time.Time) (string, error) {
	return m.issue(userID, now, m.refreshSecret, m.refreshTTL)
}

func (m *Manager) issue(userID string, now time.Time, secret []byte, ttl time.Duration) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("%w: empty user id", ErrTokenMalformed)
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	claims := &wireClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyAccess verifies raw against the access namespace at time now.
func (m *Manager) VerifyAccess(raw string, now time.Time) (Claims, error) {
	return m.verify(raw, now, m.accessSecret)
}

// VerifyRefresh verifies raw against the refresh namespace at time now.
func (m *Manager) VerifyRefresh(raw string, now time.Time) (Claims, error) {
	return m.verify(raw, now, m.refreshSecret)
}

func (m *Manager) verify(raw string, now time.Time, secret []byte) (Claims, error) {
	raw = strings.TrimSpace(raw)
	// Bound inputs to avoid pathological parse work.
	if raw == "" || len(raw) > 4096 {
		return Claims{}, ErrTokenMalformed
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	parsed, err := jwt.ParseWithClaims(raw, &wireClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return secret, nil
		},
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		// Expired-but-otherwise-valid is the only failure callers may recover
		// from. Everything else collapses to malformed, including a token
		// signed with the other namespace's secret.
		if errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrTokenMalformed
	}

	claims, ok := parsed.Claims.(*wireClaims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrTokenMalformed
	}
	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		return Claims{}, ErrTokenMalformed
	}

	out := Claims{UserID: userID}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
