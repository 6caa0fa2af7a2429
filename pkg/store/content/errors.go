package content

import "errors"

// Standard content store errors.
//
// Implementations wrap these with context using fmt.Errorf("...: %w", ...);
// callers match them with errors.Is.
var (
	// ErrContentNotFound indicates the requested key doesn't exist
	ErrContentNotFound = errors.New("content not found")

	// ErrInvalidKey indicates the key is malformed (e.g. empty)
	ErrInvalidKey = errors.New("invalid content key")

	// ErrStorageFull indicates the store reached its capacity
	ErrStorageFull = errors.New("storage full")

	// ErrUnavailable indicates the backend cannot be reached
	ErrUnavailable = errors.New("storage unavailable")
)
