// Package session implements the stateless authentication lifecycle:
// register, login, refresh and access-token authentication.
//
// There is no server-side session state. A token is valid iff its signature,
// namespace and expiry check out; refresh deliberately reissues only the
// access token and never rotates the refresh token, so a refresh token stays
// usable for its full lifetime.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"bandroom/cmd/identity"
	"bandroom/cmd/security/password"
	"bandroom/cmd/security/token"
)

// PublicUser is the client-facing user shape. It never carries the hash.
type PublicUser struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	ProfileImage *string   `json:"profileImage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// TokenPair is the credential set returned by register and login.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// AuthResult is the outcome of a successful register or login.
type AuthResult struct {
	User   PublicUser
	Tokens TokenPair
}

// RegisterInput is the validated register request.
type RegisterInput struct {
	Email        string
	Password     string
	FirstName    string
	LastName     string
	ProfileImage *string
}

// Service is the session controller. It owns credential checks and token
// issuance; persistence and crypto live below it.
type Service struct {
	store  identity.Store
	tokens *token.Manager
	logger *slog.Logger

	now func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the service clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service.
func NewService(store identity.Store, tokens *token.Manager, logger *slog.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("session: nil store")
	}
	if tokens == nil {
		return nil, fmt.Errorf("session: nil token manager")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		store:  store,
		tokens: tokens,
		logger: logger.With(slog.String("component", "session")),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Register creates an account and signs it in.
//
// A duplicate email fails with ErrEmailTaken whether it is caught up front or
// by the store's unique constraint after a concurrent register won the race.
func (s *Service) Register(ctx context.Context, in RegisterInput) (AuthResult, error) {
	email := identity.NormalizeEmail(in.Email)
	if err := validateEmail(email); err != nil {
		return AuthResult{}, err
	}
	if strings.TrimSpace(in.FirstName) == "" || strings.TrimSpace(in.LastName) == "" {
		return AuthResult{}, fmt.Errorf("%w: first and last name are required", ErrInvalidInput)
	}

	hash, err := password.Hash(in.Password)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) || errors.Is(err, password.ErrTooLong) {
			return AuthResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return AuthResult{}, fmt.Errorf("session: hash password: %w", err)
	}

	now := s.now()
	user, err := s.store.CreateUser(ctx, identity.CreateUserInput{
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		ProfileImage: in.ProfileImage,
		Now:          now,
	})
	if err != nil {
		if identity.IsConflict(err) {
			return AuthResult{}, ErrEmailTaken
		}
		if identity.IsInvalidInput(err) {
			return AuthResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return AuthResult{}, fmt.Errorf("session: create user: %w", err)
	}

	pair, err := s.issuePair(user.ID, now)
	if err != nil {
		return AuthResult{}, err
	}

	s.logger.InfoContext(ctx, "user registered", slog.String("user_id", user.ID))
	return AuthResult{User: toPublic(user), Tokens: pair}, nil
}

// Login verifies credentials and signs the user in.
//
// Every failure mode returns ErrInvalidCredentials. When the account does not
// exist a dummy bcrypt comparison still runs, so unknown-email and
// wrong-password attempts take comparable time.
func (s *Service) Login(ctx context.Context, email, plain string) (AuthResult, error) {
	ua, err := s.store.GetUserAuthByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			password.DummyCompare(plain)
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, fmt.Errorf("session: lookup user: %w", err)
	}

	ok, err := password.Verify(plain, ua.PasswordHash)
	if err != nil {
		return AuthResult{}, fmt.Errorf("session: verify password: %w", err)
	}
	if !ok {
		return AuthResult{}, ErrInvalidCredentials
	}

	now := s.now()
	pair, err := s.issuePair(ua.User.ID, now)
	if err != nil {
		return AuthResult{}, err
	}

	s.logger.InfoContext(ctx, "user logged in", slog.String("user_id", ua.User.ID))
	return AuthResult{User: toPublic(ua.User), Tokens: pair}, nil
}

// Refresh validates a refresh token and issues a fresh access token.
//
// The refresh token itself is not rotated. A refresh token whose user no
// longer exists is treated the same as a bad token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	now := s.now()

	claims, err := s.tokens.VerifyRefresh(refreshToken, now)
	if err != nil {
		return "", ErrInvalidRefreshToken
	}

	if _, err := s.store.GetUserByID(ctx, claims.UserID); err != nil {
		if identity.IsNotFound(err) {
			return "", ErrInvalidRefreshToken
		}
		return "", fmt.Errorf("session: lookup user: %w", err)
	}

	access, err := s.tokens.IssueAccess(claims.UserID, now)
	if err != nil {
		return "", fmt.Errorf("session: issue access token: %w", err)
	}
	return access, nil
}

// Authenticate resolves a bearer access token to its user.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (PublicUser, error) {
	claims, err := s.tokens.VerifyAccess(accessToken, s.now())
	if err != nil {
		return PublicUser{}, ErrInvalidAccessToken
	}

	user, err := s.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			return PublicUser{}, ErrInvalidAccessToken
		}
		return PublicUser{}, fmt.Errorf("session: lookup user: %w", err)
	}
	return toPublic(user), nil
}

// VerifyAccessUserID validates an access token and returns the user id only.
// The realtime gateway uses this on connect without touching the store.
func (s *Service) VerifyAccessUserID(accessToken string) (string, error) {
	claims, err := s.tokens.VerifyAccess(accessToken, s.now())
	if err != nil {
		return "", ErrInvalidAccessToken
	}
	return claims.UserID, nil
}

func (s *Service) issuePair(userID string, now time.Time) (TokenPair, error) {
	access, err := s.tokens.IssueAccess(userID, now)
	if err != nil {
		return TokenPair{}, fmt.Errorf("session: issue access token: %w", err)
	}
	refresh, err := s.tokens.IssueRefresh(userID, now)
	if err != nil {
		return TokenPair{}, fmt.Errorf("session: issue refresh token: %w", err)
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if len(email) > 254 {
		return fmt.Errorf("%w: email too long", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	return nil
}

func toPublic(u identity.User) PublicUser {
	return PublicUser{
		ID:           u.ID,
		Email:        u.Email,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		ProfileImage: u.ProfileImage,
		CreatedAt:    u.CreatedAt,
	}
}
