package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by single-entity lookups that match no row.
// List queries return an empty result instead.
var ErrNotFound = errors.New("not found")

// IntegrityError reports a storage constraint violation (unique key, foreign key, ...).
type IntegrityError struct {
	Op         string
	Constraint string
	Err        error
}

func (e *IntegrityError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("%s: integrity violation (%s): %v", e.Op, e.Constraint, e.Err)
	}
	return fmt.Sprintf("%s: integrity violation: %v", e.Op, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// IsIntegrity reports whether err carries an IntegrityError.
func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
