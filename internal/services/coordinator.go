package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lllllllleong/documentpreview/internal/cache"
	"github.com/Lllllllleong/documentpreview/internal/converter"
	"github.com/Lllllllleong/documentpreview/internal/lock"
	"github.com/Lllllllleong/documentpreview/internal/models"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Converter renders an office document to PDF. *converter.Engine implements it.
type Converter interface {
	Convert(ctx context.Context, src []byte, hint string) (*converter.Result, error)
}

// Recorder persists the status of a conversion attempt.
type Recorder interface {
	Record(ctx context.Context, rec models.ConversionRecord) error
}

// CoordinatorStats are running counters since the coordinator was created.
type CoordinatorStats struct {
	Hits        int64 // served straight from the cache
	Misses      int64
	Conversions int64 // successful engine runs
	Failures    int64
	Joined      int64 // requests that attached to an in-flight conversion
}

// Coordinator decides per request whether to serve from cache or convert.
// Concurrent requests for one key share a single conversion, and at most
// maxConcurrent conversions run at once in this process.
type Coordinator struct {
	store    cache.Store
	engine   Converter
	locker   lock.Locker
	recorder Recorder
	slots    *semaphore.Weighted
	flights  singleflight.Group
	now      func() time.Time

	mu         sync.Mutex
	inProgress map[models.CacheKey]struct{}

	hits, misses, conversions, failures, joined atomic.Int64
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLocker sets the cross-instance lock. The default only excludes
// conversions within this process.
func WithLocker(l lock.Locker) CoordinatorOption {
	return func(c *Coordinator) { c.locker = l }
}

// WithRecorder records every conversion attempt, e.g. in Firestore.
func WithRecorder(r Recorder) CoordinatorOption {
	return func(c *Coordinator) { c.recorder = r }
}

// NewCoordinator creates a coordinator. maxConcurrent < 1 is treated as 1.
func NewCoordinator(store cache.Store, engine Converter, maxConcurrent int, opts ...CoordinatorOption) *Coordinator {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	c := &Coordinator{
		store:      store,
		engine:     engine,
		locker:     lock.NopLocker{},
		slots:      semaphore.NewWeighted(int64(maxConcurrent)),
		now:        time.Now,
		inProgress: make(map[models.CacheKey]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// KeyFor returns the cache key for doc, or an error wrapping
// models.ErrUnsupportedFormat.
func KeyFor(doc models.SourceDocument) (models.CacheKey, string, error) {
	ext := converter.ResolveExtension(doc.Name, doc.Content)
	if !converter.Supported(ext) {
		return "", ext, fmt.Errorf("%w: %q", models.ErrUnsupportedFormat, ext)
	}
	return cache.DeriveKey(doc.Content, ext), ext, nil
}

// RequestConversion returns a reference to the PDF preview of doc, converting
// it when no committed entry exists.
//
// A conversion that has started runs to completion even if ctx is cancelled:
// the caller gets ctx.Err() and the result is still cached for the next
// request. Failures are never cached.
func (c *Coordinator) RequestConversion(ctx context.Context, doc models.SourceDocument) (models.ArtifactRef, error) {
	logCtx := slog.With("entityId", doc.EntityID, "sourceName", doc.Name)

	key, ext, err := KeyFor(doc)
	if err != nil {
		logCtx.Warn("Rejected unsupported document.", "extension", ext)
		return models.ArtifactRef{}, err
	}
	logCtx = logCtx.With("cacheKey", key)

	entry, err := c.store.Stat(ctx, key)
	if err == nil {
		c.hits.Add(1)
		logCtx.Info("Serving preview from cache.")
		return refFrom(entry, true), nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		logCtx.Error("Failed to check cache.", "error", err)
		return models.ArtifactRef{}, err
	}
	c.misses.Add(1)

	if c.InProgress(key) {
		c.joined.Add(1)
		logCtx.Info("Joining in-flight conversion.")
	}

	// The flight must not inherit the caller's cancellation: other callers
	// may be waiting on it.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(string(key), func() (any, error) {
		return c.convert(flightCtx, logCtx, key, ext, doc)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return models.ArtifactRef{}, res.Err
		}
		return res.Val.(models.ArtifactRef), nil
	case <-ctx.Done():
		logCtx.Warn("Caller gave up waiting, conversion continues.", "error", ctx.Err())
		return models.ArtifactRef{}, ctx.Err()
	}
}

func (c *Coordinator) convert(ctx context.Context, logCtx *slog.Logger, key models.CacheKey, ext string, doc models.SourceDocument) (models.ArtifactRef, error) {
	c.markInProgress(key)
	defer c.clearInProgress(key)

	if err := c.slots.Acquire(ctx, 1); err != nil {
		return models.ArtifactRef{}, err
	}
	defer c.slots.Release(1)

	unlock, err := c.locker.Lock(ctx, string(key))
	if err != nil {
		logCtx.Error("Failed to acquire conversion lock.", "error", err)
		if !errors.Is(err, models.ErrLockNotAcquired) {
			err = fmt.Errorf("%w: %v", models.ErrLockNotAcquired, err)
		}
		return models.ArtifactRef{}, err
	}
	defer func() {
		if err := unlock(ctx); err != nil {
			logCtx.Warn("Failed to release conversion lock.", "error", err)
		}
	}()

	// Another instance may have committed the entry while we waited.
	entry, err := c.store.Stat(ctx, key)
	if err == nil {
		logCtx.Info("Preview was committed while waiting for the lock.")
		return refFrom(entry, true), nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return models.ArtifactRef{}, err
	}

	record := models.ConversionRecord{
		CacheKey:   string(key),
		EntityID:   doc.EntityID,
		SourceName: doc.Name,
		Status:     models.StatusConverting,
	}
	c.record(ctx, logCtx, record)

	logCtx.Info("Starting conversion.", "extension", ext, "sizeBytes", len(doc.Content))
	result, err := c.engine.Convert(ctx, doc.Content, ext)
	if err != nil {
		return models.ArtifactRef{}, c.fail(ctx, logCtx, record, "Conversion failed.", err)
	}

	entry, err = c.store.Put(ctx, key, result.PDF)
	if err != nil {
		return models.ArtifactRef{}, c.fail(ctx, logCtx, record, "Failed to store converted document.", err)
	}
	c.conversions.Add(1)

	record.Status = models.StatusCached
	record.PageCount = result.Pages
	record.Location = entry.Location
	c.record(ctx, logCtx, record)

	logCtx.Info("Conversion complete.", "pages", result.Pages, "durationMs", result.Duration.Milliseconds(), "location", entry.Location)
	return refFrom(entry, false), nil
}

func (c *Coordinator) fail(ctx context.Context, logCtx *slog.Logger, record models.ConversionRecord, msg string, err error) error {
	c.failures.Add(1)
	logCtx.Error(msg, "error", err)
	record.Status = models.StatusFailed
	record.ErrorDetails = err.Error()
	c.record(ctx, logCtx, record)
	return err
}

// record logs ledger failures and never returns them.
func (c *Coordinator) record(ctx context.Context, logCtx *slog.Logger, rec models.ConversionRecord) {
	if c.recorder == nil {
		return
	}
	rec.UpdatedAt = c.now().UTC()
	if err := c.recorder.Record(ctx, rec); err != nil {
		logCtx.Error("CRITICAL: Failed to record conversion status.", "status", rec.Status, "error", err)
	}
}

// InProgress reports whether a conversion for key is running in this process.
func (c *Coordinator) InProgress(key models.CacheKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inProgress[key]
	return ok
}

func (c *Coordinator) markInProgress(key models.CacheKey) {
	c.mu.Lock()
	c.inProgress[key] = struct{}{}
	c.mu.Unlock()
}

func (c *Coordinator) clearInProgress(key models.CacheKey) {
	c.mu.Lock()
	delete(c.inProgress, key)
	c.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (c *Coordinator) Stats() CoordinatorStats {
	return CoordinatorStats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Conversions: c.conversions.Load(),
		Failures:    c.failures.Load(),
		Joined:      c.joined.Load(),
	}
}

func refFrom(entry *models.CacheEntry, cached bool) models.ArtifactRef {
	return models.ArtifactRef{
		Key:       entry.Key,
		Location:  entry.Location,
		CreatedAt: entry.CreatedAt,
		Cached:    cached,
	}
}
