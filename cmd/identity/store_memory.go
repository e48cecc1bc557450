package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"bandroom/cmd/identity/ids"
)

// MemoryStore is an in-process Store used when no database is configured
// (dev mode) and by unit tests. It enforces the same email uniqueness and
// error contract as the Postgres store.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]UserAuth
	byEmail map[string]string // normalized email -> user id
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]UserAuth),
		byEmail: make(map[string]string),
	}
}

// CreateUser inserts a new user, failing with ConflictError on duplicate email.
func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	email := NormalizeEmail(in.Email)
	if email == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "email is required"}
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "password hash is required"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	userID, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[email]; exists {
		return User{}, ConflictError{Op: op, Field: "email"}
	}

	u := User{
		ID:           userID,
		Email:        email,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		ProfileImage: in.ProfileImage,
		CreatedAt:    now,
	}
	s.byID[userID] = UserAuth{User: u, PasswordHash: in.PasswordHash}
	s.byEmail[email] = userID

	return u, nil
}

// GetUserByID fetches one user by id.
func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ua, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return ua.User, nil
}

// GetUserAuthByEmail fetches a user with its password hash by email.
func (s *MemoryStore) GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error) {
	const op = "identity.GetUserAuthByEmail"

	if err := ctx.Err(); err != nil {
		return UserAuth{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return UserAuth{}, NotFoundError{Op: op, Resource: "user"}
	}
	return s.byID[id], nil
}

// DeleteUser removes a user (test helper for orphaned-token scenarios).
func (s *MemoryStore) DeleteUser(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ua, ok := s.byID[id]; ok {
		delete(s.byEmail, ua.User.Email)
		delete(s.byID, id)
	}
}
