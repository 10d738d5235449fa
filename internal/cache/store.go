// Package cache stores converted PDF previews keyed by content-derived keys.
package cache

import (
	"context"
	"time"

	"github.com/Lllllllleong/documentpreview/internal/models"
)

// Store is a PDF preview cache. Implementations must be safe for concurrent use
// and must never expose a partially written entry.
type Store interface {
	// Exists reports whether a committed entry exists for key.
	Exists(ctx context.Context, key models.CacheKey) (bool, error)

	// Stat returns the entry without its PDF bytes, or an error wrapping
	// models.ErrNotFound.
	Stat(ctx context.Context, key models.CacheKey) (*models.CacheEntry, error)

	// Get returns the entry with its PDF bytes, or an error wrapping
	// models.ErrNotFound.
	Get(ctx context.Context, key models.CacheKey) (*models.CacheEntry, error)

	// Put commits pdf under key atomically. Errors wrap models.ErrCacheWrite.
	Put(ctx context.Context, key models.CacheKey, pdf []byte) (*models.CacheEntry, error)

	// Delete removes the entry. Deleting a missing key is not an error.
	Delete(ctx context.Context, key models.CacheKey) error

	// List calls fn for every committed entry (without PDF bytes). Iteration
	// stops at the first error returned by fn.
	List(ctx context.Context, fn func(models.CacheEntry) error) error
}

// TempCleaner is implemented by stores that can leave abandoned partial writes
// behind after a crash.
type TempCleaner interface {
	// CleanTemp removes partial writes last modified before cutoff and
	// returns how many were removed.
	CleanTemp(ctx context.Context, cutoff time.Time) (int, error)
}
