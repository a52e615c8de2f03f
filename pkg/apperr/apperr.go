// Package apperr defines the error-kind taxonomy shared by every package in
// the search engine (see spec §7 Error Handling Design). Callers classify an
// error with ClassifyOf(err); packages wrap sentinel values with fmt.Errorf("%w").
package apperr

import (
	"context"
	"errors"
)

// Sentinel errors, one per kind. Wrap these with fmt.Errorf("...: %w", Err...)
// to attach context without losing errors.Is/ClassifyOf classification.
var (
	ErrNotFound    = errors.New("apperr: not found")
	ErrInvalidInput = errors.New("apperr: invalid input")
	ErrConflict    = errors.New("apperr: conflict")
	ErrDependency  = errors.New("apperr: dependency failure")
	ErrCorruption  = errors.New("apperr: corruption")
	ErrCancelled   = errors.New("apperr: cancelled")
)

// Kind identifies one of the six error categories from spec §7.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalidInput
	KindConflict
	KindDependency
	KindCorruption
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindInvalidInput:
		return "InvalidInput"
	case KindConflict:
		return "Conflict"
	case KindDependency:
		return "Dependency"
	case KindCorruption:
		return "Corruption"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// ClassifyOf returns the Kind an error was constructed with, by matching
// against the package sentinels via errors.Is. Unrecognized errors (including
// context.Canceled, mapped to KindCancelled) are classified on a best-effort
// basis.
func ClassifyOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrDependency):
		return KindDependency
	case errors.Is(err, ErrCorruption):
		return KindCorruption
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindUnknown
	}
}
