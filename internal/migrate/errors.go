package migrate

import (
	"errors"
	"fmt"
)

// MigrationError identifies the step that could not be applied or verified.
// Callers must treat it as fatal: the schema is in an unknown state for the
// current build.
type MigrationError struct {
	Seq  int
	Name string
	Err  error
}

func (e *MigrationError) Error() string {
	if e.Seq == 0 {
		return fmt.Sprintf("migration: %v", e.Err)
	}
	return fmt.Sprintf("migration %04d_%s: %v", e.Seq, e.Name, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// ErrChecksumMismatch is wrapped when an applied step's content has changed.
var ErrChecksumMismatch = errors.New("checksum mismatch for applied step")

// IsMigrationError reports whether err wraps a *MigrationError.
func IsMigrationError(err error) bool {
	var me *MigrationError
	return errors.As(err, &me)
}
