package models

import "errors"

// Error taxonomy shared by the conversion engine, cache stores and services.
// Components wrap these with fmt.Errorf("%w: ...") and callers classify with
// errors.Is.
var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrConversionTimeout = errors.New("document conversion timed out")
	ErrConversionProcess = errors.New("document conversion process failed")
	ErrSourceFetch       = errors.New("failed to fetch source document")
	ErrSourceTooLarge    = errors.New("source document exceeds size limit")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrCacheWrite        = errors.New("failed to write cache entry")
	ErrNotFound          = errors.New("preview not found")
	ErrInvalidKey        = errors.New("invalid preview key")
	ErrLockNotAcquired   = errors.New("failed to acquire conversion lock")
)
