package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"bandroom/cmd/identity/ids"
)

// PostgresStore implements identity persistence over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must not close it.
// Schema/table identifiers are safely quoted to avoid SQL injection via
// identifiers. Unique-violation errors are mapped to ConflictError so that a
// register race still surfaces as a duplicate email, not an internal failure.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the identity store (default "bandroom").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "bandroom",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

// CreateUser inserts a new user row.
// A duplicate email fails with ConflictError{Field: "email"} via the unique
// constraint on email, regardless of any caller-side pre-check.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
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

	users := pgIdent(s.schema, "users")

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+users+` (
		     id, email, password_hash, first_name, last_name, profile_image, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		userID,
		email,
		in.PasswordHash,
		strings.TrimSpace(in.FirstName),
		strings.TrimSpace(in.LastName),
		in.ProfileImage,
		now,
	)
	if err != nil {
		if pgIsUniqueViolation(err) {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	return User{
		ID:           userID,
		Email:        email,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		ProfileImage: in.ProfileImage,
		CreatedAt:    now,
	}, nil
}

// GetUserByID fetches one user by primary key.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty id"}
	}

	users := pgIdent(s.schema, "users")

	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, first_name, last_name, profile_image, created_at
		   FROM `+users+` WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.ProfileImage, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GetUserAuthByEmail fetches a user with its password hash by normalized email.
func (s *PostgresStore) GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error) {
	const op = "identity.GetUserAuthByEmail"

	email = NormalizeEmail(email)
	if email == "" {
		return UserAuth{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty email"}
	}

	users := pgIdent(s.schema, "users")

	var ua UserAuth
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, first_name, last_name, profile_image, created_at
		   FROM `+users+` WHERE email = $1`,
		email,
	).Scan(
		&ua.User.ID,
		&ua.User.Email,
		&ua.PasswordHash,
		&ua.User.FirstName,
		&ua.User.LastName,
		&ua.User.ProfileImage,
		&ua.User.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserAuth{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return UserAuth{}, fmt.Errorf("%s: %w", op, err)
	}
	return ua, nil
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return fmt.Sprintf("%q.%q", schema, name)
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" // unique_violation
}
