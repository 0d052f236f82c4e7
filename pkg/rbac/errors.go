package rbac

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned for unknown role, resource, permission, subject or tenant references
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned for duplicates and for deleting a role that is still referenced
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput is returned for malformed effects and missing keys or codes
	ErrInvalidInput = errors.New("invalid input")

	// ErrForbidden is returned by explicit guards such as RequireAdmin.
	// CheckPermission reports no access as a Deny decision, never as an error.
	ErrForbidden = errors.New("forbidden")
)

// NoItem marks an Error that is not tied to a batch item
const NoItem = -1

// Error carries the kind, the operation and the offending batch item of a failure
type Error struct {
	Kind   error  // one of the sentinel errors above
	Op     string // e.g. "apply_role_permission_batch"
	Item   int    // zero-based batch index, or NoItem
	Key    string // "resourceKey/permissionCode" or another identifier
	Detail string
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Item != NoItem {
		msg += fmt.Sprintf(" (item %d)", e.Item)
	}
	if e.Key != "" {
		msg += " [" + e.Key + "]"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap lets errors.Is match the sentinel kind
func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, op, key, detail string) *Error {
	return &Error{Kind: kind, Op: op, Item: NoItem, Key: key, Detail: detail}
}

func itemError(kind error, op string, item int, key, detail string) *Error {
	return &Error{Kind: kind, Op: op, Item: item, Key: key, Detail: detail}
}

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err is a conflict error
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsInvalidInput reports whether err is an invalid-input error
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// Postgres SQLSTATE codes mapped to error kinds
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// translatePQ maps driver errors onto the sentinel kinds and wraps everything else
func translatePQ(err error, op, key string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return newError(ErrNotFound, op, key, "")
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return newError(ErrConflict, op, key, "already exists")
		case pqForeignKeyViolation:
			return newError(ErrConflict, op, key, "still referenced")
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
