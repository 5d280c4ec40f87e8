package domain

import "errors"

var (
	// ErrStoreUnavailable marks a transient backend failure (connection refused,
	// structural conflict). Callers degrade to default data instead of failing.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrCorruptRecord indicates a stored session could not be decoded.
	ErrCorruptRecord = errors.New("corrupt session record")
	// ErrQuizOutOfRange is returned when a quiz index does not exist in the catalog.
	ErrQuizOutOfRange = errors.New("quiz index out of range")
	// ErrInvalidCatalog indicates malformed quiz content.
	ErrInvalidCatalog = errors.New("invalid quiz catalog")
	// ErrHandlingFailed is the single generic failure surfaced to the event boundary.
	ErrHandlingFailed = errors.New("event handling failed")
)

// IsTransient reports whether err belongs to the silently degraded category.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrCorruptRecord)
}

// IsContentError reports whether err was caused by bad quiz content or selection.
func IsContentError(err error) bool {
	return errors.Is(err, ErrQuizOutOfRange) || errors.Is(err, ErrInvalidCatalog)
}
