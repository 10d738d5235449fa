package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Lllllllleong/documentpreview/internal/cache"
	"github.com/Lllllllleong/documentpreview/internal/models"
	"golang.org/x/sync/errgroup"
)

// DefaultSweepWorkers bounds parallel deletes during a sweep.
const DefaultSweepWorkers = 8

// Forgetter drops bookkeeping for a deleted cache entry.
type Forgetter interface {
	Forget(ctx context.Context, key models.CacheKey) error
}

// ActivityChecker reports keys with a conversion in flight.
// *Coordinator implements it.
type ActivityChecker interface {
	InProgress(key models.CacheKey) bool
}

// Sweeper deletes cache entries older than a retention threshold.
type Sweeper struct {
	store     cache.Store
	activity  ActivityChecker
	forgetter Forgetter
	workers   int
	now       func() time.Time
}

// SweeperOption customizes a Sweeper.
type SweeperOption func(*Sweeper)

// WithActivity skips keys that activity reports as in progress.
func WithActivity(a ActivityChecker) SweeperOption {
	return func(s *Sweeper) { s.activity = a }
}

// WithForgetter removes ledger records of deleted entries.
func WithForgetter(f Forgetter) SweeperOption {
	return func(s *Sweeper) { s.forgetter = f }
}

// WithWorkers sets the number of parallel deletes.
func WithWorkers(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithClock replaces time.Now (used by tests).
func WithClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

// NewSweeper creates a sweeper over store.
func NewSweeper(store cache.Store, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{store: store, workers: DefaultSweepWorkers, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep deletes every entry created before now-retention. Failures on single
// entries are collected in the result and do not stop the sweep; only a
// failure to enumerate the cache is returned as an error. Running it twice
// in a row deletes nothing the second time.
func (s *Sweeper) Sweep(ctx context.Context, retention time.Duration) (*models.SweepResult, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}
	cutoff := s.now().Add(-retention)
	logCtx := slog.With("retention", retention.String(), "cutoff", cutoff.UTC().Format(time.RFC3339))
	logCtx.Info("Starting preview cache sweep.")

	result := &models.SweepResult{}
	var mu sync.Mutex
	addErr := func(err error) {
		mu.Lock()
		result.Errors = append(result.Errors, err.Error())
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	listErr := s.store.List(ctx, func(entry models.CacheEntry) error {
		mu.Lock()
		result.Scanned++
		mu.Unlock()

		if !entry.CreatedAt.Before(cutoff) {
			return nil
		}
		if s.activity != nil && s.activity.InProgress(entry.Key) {
			mu.Lock()
			result.Skipped++
			mu.Unlock()
			logCtx.Info("Skipping entry with a conversion in progress.", "cacheKey", entry.Key)
			return nil
		}

		key := entry.Key
		g.Go(func() error {
			if err := s.store.Delete(gctx, key); err != nil {
				logCtx.Error("Failed to delete expired preview.", "cacheKey", key, "error", err)
				addErr(fmt.Errorf("delete %s: %w", key, err))
				return nil
			}
			mu.Lock()
			result.Deleted++
			mu.Unlock()

			if s.forgetter != nil {
				if err := s.forgetter.Forget(gctx, key); err != nil {
					logCtx.Warn("Failed to remove conversion record.", "cacheKey", key, "error", err)
					addErr(fmt.Errorf("forget %s: %w", key, err))
				}
			}
			return nil
		})
		return nil
	})
	// Workers never return errors, so Wait only drains them.
	_ = g.Wait()
	if listErr != nil {
		logCtx.Error("Failed to enumerate preview cache.", "error", listErr)
		return result, fmt.Errorf("failed to list cache entries: %w", listErr)
	}

	if cleaner, ok := s.store.(cache.TempCleaner); ok {
		removed, err := cleaner.CleanTemp(ctx, cutoff)
		result.TempsRemoved = removed
		if err != nil {
			logCtx.Warn("Failed to clean abandoned temp files.", "error", err)
			addErr(fmt.Errorf("clean temp files: %w", err))
		}
	}

	logCtx.Info("Preview cache sweep complete.",
		"scanned", result.Scanned,
		"deleted", result.Deleted,
		"skipped", result.Skipped,
		"tempsRemoved", result.TempsRemoved,
		"errors", len(result.Errors))
	return result, nil
}
