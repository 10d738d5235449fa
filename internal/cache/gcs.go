package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/documentpreview/internal/gcp"
	"github.com/Lllllllleong/documentpreview/internal/models"
	"google.golang.org/api/iterator"
)

const (
	pdfContentType = "application/pdf"
	maxPutRetries  = 4
)

// GCSStore keeps previews as objects named <prefix><key>.pdf. Objects are
// written with a DoesNotExist precondition: GCS finalizes an object atomically
// on Close, and two instances racing on one key both end up with the first
// committed object.
type GCSStore struct {
	bucket     *storage.BucketHandle
	bucketName string
	prefix     string
	backoff    time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

var _ Store = (*GCSStore)(nil)

// NewGCSStore creates a store over bucket. prefix may be empty.
func NewGCSStore(client *storage.Client, bucket, prefix string) *GCSStore {
	return &GCSStore{
		bucket:     client.Bucket(bucket),
		bucketName: bucket,
		prefix:     prefix,
		backoff:    time.Second,
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *GCSStore) objectName(key models.CacheKey) string {
	return s.prefix + string(key) + pdfSuffix
}

func (s *GCSStore) uri(name string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucketName, name)
}

func (s *GCSStore) Exists(ctx context.Context, key models.CacheKey) (bool, error) {
	if !ValidKey(string(key)) {
		return false, nil
	}
	_, err := s.bucket.Object(s.objectName(key)).Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to stat %s: %w", s.objectName(key), err)
	}
}

func (s *GCSStore) Stat(ctx context.Context, key models.CacheKey) (*models.CacheEntry, error) {
	if !ValidKey(string(key)) {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, key)
	}
	name := s.objectName(key)
	attrs, err := s.bucket.Object(name).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	return &models.CacheEntry{Key: key, Location: s.uri(name), Size: attrs.Size, CreatedAt: attrs.Created}, nil
}

func (s *GCSStore) Get(ctx context.Context, key models.CacheKey) (*models.CacheEntry, error) {
	if !ValidKey(string(key)) {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, key)
	}
	name := s.objectName(key)
	obj := s.bucket.Object(name)
	attrs, err := obj.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", name, err)
	}

	// Pin the generation so a concurrent delete cannot hand us another object.
	reader, err := obj.Generation(attrs.Generation).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer reader.Close()

	pdf, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return &models.CacheEntry{
		Key:       key,
		Location:  s.uri(name),
		Size:      int64(len(pdf)),
		CreatedAt: attrs.Created,
		PDF:       pdf,
	}, nil
}

func (s *GCSStore) Put(ctx context.Context, key models.CacheKey, pdf []byte) (*models.CacheEntry, error) {
	if !ValidKey(string(key)) {
		return nil, fmt.Errorf("%w: invalid key %q", models.ErrCacheWrite, key)
	}
	name := s.objectName(key)

	backoff := s.backoff
	var lastErr error
	for i := 0; i < maxPutRetries; i++ {
		created, err := gcp.SaveToGCSAtomically(ctx, s.bucket, name, pdf, pdfContentType)
		if err == nil {
			if !created {
				// Another instance committed the same key first.
				return s.Get(ctx, key)
			}
			return &models.CacheEntry{
				Key:       key,
				Location:  s.uri(name),
				Size:      int64(len(pdf)),
				CreatedAt: time.Now(),
				PDF:       pdf,
			}, nil
		}

		lastErr = err
		if i == maxPutRetries-1 {
			break
		}
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", name,
			"attempt", i+1,
			"maxRetries", maxPutRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		if err := s.sleep(ctx, backoff); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrCacheWrite, err)
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("%w: upload for %s failed after all retries: %v", models.ErrCacheWrite, name, lastErr)
}

func (s *GCSStore) Delete(ctx context.Context, key models.CacheKey) error {
	if !ValidKey(string(key)) {
		return nil
	}
	err := s.bucket.Object(s.objectName(key)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete %s: %w", s.objectName(key), err)
	}
	return nil
}

func (s *GCSStore) List(ctx context.Context, fn func(models.CacheEntry) error) error {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: s.prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list objects in %s: %w", s.bucketName, err)
		}
		rest := strings.TrimPrefix(attrs.Name, s.prefix)
		if !strings.HasSuffix(rest, pdfSuffix) {
			continue
		}
		key := strings.TrimSuffix(rest, pdfSuffix)
		if !ValidKey(key) {
			continue
		}
		if err := fn(models.CacheEntry{
			Key:       models.CacheKey(key),
			Location:  s.uri(attrs.Name),
			Size:      attrs.Size,
			CreatedAt: attrs.Created,
		}); err != nil {
			return err
		}
	}
}
