package storage

import (
	"errors"
	"fmt"

	"github.com/findmyvet/vetbook/libs/db"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateCode     = errors.New("confirmation code already in use")
	ErrLockTimeout       = errors.New("row lock not acquired in time")
	ErrInvalidTransition = errors.New("status transition not allowed")
	ErrSlotExhausted     = errors.New("slot has no remaining capacity")
)

// classify maps driver errors to the package sentinels; anything else is
// wrapped with op for context.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsNotFound(err):
		return ErrNotFound
	case db.IsLockTimeout(err):
		return fmt.Errorf("%s: %w", op, ErrLockTimeout)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
