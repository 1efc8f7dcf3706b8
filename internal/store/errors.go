package store

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// Kind categorizes store failures.
type Kind string

const (
	// KindConstraint means the input was rejected; nothing was written.
	KindConstraint Kind = "CONSTRAINT"

	// KindIO means the storage engine or the underlying file failed.
	KindIO Kind = "IO"
)

// Error is the only error type returned across the store boundary.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrEmptyTitle is wrapped by constraint errors for blank titles.
var ErrEmptyTitle = errors.New("title must not be empty")

// IsConstraint reports whether err is a constraint failure.
// Uses errors.As to handle wrapped errors.
func IsConstraint(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == KindConstraint
	}
	return false
}

// IsIO reports whether err is an I/O failure.
func IsIO(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == KindIO
	}
	return false
}

// classify maps a driver error onto the store taxonomy.
func classify(op string, err error) *Error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return &Error{Kind: KindConstraint, Op: op, Err: err}
	}
	return &Error{Kind: KindIO, Op: op, Err: err}
}
