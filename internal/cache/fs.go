package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Lllllllleong/documentpreview/internal/models"
)

const (
	pdfSuffix  = ".pdf"
	tempPrefix = ".tmp-"
)

// FSStore keeps previews as <dir>/<key>.pdf. Writes go to a hidden temp file
// in the same directory and are renamed into place, so readers only ever see
// complete files. The file modification time is the entry's creation time.
type FSStore struct {
	dir string
}

var (
	_ Store       = (*FSStore)(nil)
	_ TempCleaner = (*FSStore)(nil)
)

// NewFSStore creates the cache directory if needed.
func NewFSStore(dir string) (*FSStore, error) {
	if dir == "" {
		return nil, errors.New("cache directory must be set")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create cache dir %s: %w", dir, err)
	}
	return &FSStore{dir: dir}, nil
}

// Dir returns the cache directory.
func (s *FSStore) Dir() string { return s.dir }

func (s *FSStore) path(key models.CacheKey) string {
	return filepath.Join(s.dir, string(key)+pdfSuffix)
}

func (s *FSStore) Exists(ctx context.Context, key models.CacheKey) (bool, error) {
	if !ValidKey(string(key)) {
		return false, nil
	}
	_, err := os.Stat(s.path(key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (s *FSStore) Stat(ctx context.Context, key models.CacheKey) (*models.CacheEntry, error) {
	if !ValidKey(string(key)) {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, key)
	}
	path := s.path(key)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat cache entry %s: %w", key, err)
	}
	return &models.CacheEntry{Key: key, Location: path, Size: info.Size(), CreatedAt: info.ModTime()}, nil
}

func (s *FSStore) Get(ctx context.Context, key models.CacheKey) (*models.CacheEntry, error) {
	if !ValidKey(string(key)) {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, key)
	}
	path := s.path(key)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open cache entry %s: %w", key, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat cache entry %s: %w", key, err)
	}
	pdf, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}
	return &models.CacheEntry{
		Key:       key,
		Location:  path,
		Size:      int64(len(pdf)),
		CreatedAt: info.ModTime(),
		PDF:       pdf,
	}, nil
}

func (s *FSStore) Put(ctx context.Context, key models.CacheKey, pdf []byte) (*models.CacheEntry, error) {
	if !ValidKey(string(key)) {
		return nil, fmt.Errorf("%w: invalid key %q", models.ErrCacheWrite, key)
	}

	tmp, err := os.CreateTemp(s.dir, tempPrefix+string(key)+"-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrCacheWrite, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(pdf); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("%w: %v", models.ErrCacheWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("%w: %v", models.ErrCacheWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrCacheWrite, err)
	}
	// #nosec G302 -- previews are served back to readers of the source file
	if err := os.Chmod(tmpPath, 0o640); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrCacheWrite, err)
	}

	path := s.path(key)
	if err := os.Rename(tmpPath, path); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrCacheWrite, err)
	}
	committed = true

	info, err := os.Stat(path)
	createdAt := time.Now()
	if err == nil {
		createdAt = info.ModTime()
	}
	return &models.CacheEntry{
		Key:       key,
		Location:  path,
		Size:      int64(len(pdf)),
		CreatedAt: createdAt,
		PDF:       pdf,
	}, nil
}

func (s *FSStore) Delete(ctx context.Context, key models.CacheKey) error {
	if !ValidKey(string(key)) {
		return nil
	}
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete cache entry %s: %w", key, err)
	}
	return nil
}

func (s *FSStore) List(ctx context.Context, fn func(models.CacheEntry) error) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to list cache dir %s: %w", s.dir, err)
	}
	for _, de := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, pdfSuffix) {
			continue
		}
		key := strings.TrimSuffix(name, pdfSuffix)
		if !ValidKey(key) {
			continue
		}
		info, err := de.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue // deleted since ReadDir
		}
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", name, err)
		}
		if err := fn(models.CacheEntry{
			Key:       models.CacheKey(key),
			Location:  filepath.Join(s.dir, name),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *FSStore) CleanTemp(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list cache dir %s: %w", s.dir, err)
	}
	removed := 0
	var errs []error
	for _, de := range entries {
		if !strings.HasPrefix(de.Name(), tempPrefix) || de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, de.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
