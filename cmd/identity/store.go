package identity

import (
	"context"
	"time"
)

// User is Bandroom's canonical security principal.
// It carries no credential material and is safe to serialize.
type User struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	ProfileImage *string

	CreatedAt time.Time
}

// UserAuth couples a user with its stored password hash for login checks.
// It must not cross the session controller boundary.
type UserAuth struct {
	User         User
	PasswordHash string
}

// CreateUserInput describes a registration insert.
// PasswordHash must already be hashed; this package never sees plaintext.
type CreateUserInput struct {
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	ProfileImage *string
	Now          time.Time
}

// Store is the identity persistence boundary.
//
// Email uniqueness is enforced by the store itself: a duplicate insert must
// fail with a ConflictError even when the caller's pre-check raced.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error)
}
