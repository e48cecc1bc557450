package identity

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is the sentinel kind for missing rows.
	ErrNotFound = errors.New("not found")

	// ErrConflict is the sentinel kind for uniqueness violations.
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput is the sentinel kind for structurally invalid input.
	ErrInvalidInput = errors.New("invalid input")
)

// OpError is a typed operation error with a stable Op + Kind contract for
// callers and tests. Msg may include human-readable context; never secrets.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// ConflictError reports a uniqueness violation for a specific logical field.
// Field is a stable logical name: currently always "email".
type ConflictError struct {
	Op    string
	Field string
}

func (e ConflictError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrConflict)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrConflict, e.Field)
}

func (e ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports a missing row for a specific resource.
type NotFoundError struct {
	Op       string
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrNotFound)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrNotFound, e.Resource)
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

// IsConflict reports whether err represents ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidInput reports whether err represents ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }
