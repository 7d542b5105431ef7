package jobs

import (
	"errors"
	"fmt"

	"github.com/kiranshivaraju/clipforge/internal/store"
)

var (
	ErrNotConfigured = errors.New("service not configured")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrValidation    = errors.New("validation failed")
	ErrUpstream      = errors.New("upstream failure")
)

// Stable error codes, as returned by Kind.
const (
	CodeNotConfigured = "NOT_CONFIGURED"
	CodeNotFound      = "NOT_FOUND"
	CodeConflict      = "CONFLICT"
	CodeValidation    = "VALIDATION_ERROR"
	CodeUpstream      = "UPSTREAM_FAILURE"
	CodeInternal      = "INTERNAL_ERROR"
)

// Kind classifies err into one of the stable error codes.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNotConfigured):
		return CodeNotConfigured
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrUpstream):
		return CodeUpstream
	default:
		return CodeInternal
	}
}

// storeErr maps store sentinels onto the job taxonomy.
func storeErr(err error, op string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: job does not exist", ErrNotFound)
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func notFound(jobID fmt.Stringer) error {
	return fmt.Errorf("%w: job %s", ErrNotFound, jobID)
}
