// Package apperr holds the error kinds shared by all domains.
// Domain sentinels wrap one of these so callers can classify with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrPersistence     = errors.New("persistence failure")
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Persistence marks a store failure, keeping the cause in the chain.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// Kind returns the kind sentinel err belongs to, or nil if it is unclassified.
func Kind(err error) error {
	for _, kind := range []error{ErrValidation, ErrUnauthenticated, ErrForbidden, ErrNotFound, ErrPersistence} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
