package task

import "errors"

// Error kinds shared by the store, the reminder loop and the command surface.
// Callers wrap them with fmt.Errorf("...: %w", ...) and classify with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrDispatchFailure  = errors.New("dispatch failed")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Error codes reported in command results.
const (
	CodeOK               = "ok"
	CodeNotFound         = "not_found"
	CodeValidation       = "validation"
	CodeDispatchFailure  = "dispatch_failure"
	CodeStoreUnavailable = "store_unavailable"
	CodeInternal         = "internal"
)

// CodeOf maps an error onto its result code.
func CodeOf(err error) string {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrDispatchFailure):
		return CodeDispatchFailure
	case errors.Is(err, ErrStoreUnavailable):
		return CodeStoreUnavailable
	default:
		return CodeInternal
	}
}
