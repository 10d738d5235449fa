package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Lllllllleong/documentpreview/internal/cache"
	"github.com/Lllllllleong/documentpreview/internal/models"
)

// DirFetcher treats entity ids as slash-separated paths below a root
// directory, the layout of a site's private and public file folders.
type DirFetcher struct {
	root     string
	maxBytes int64
}

var _ Fetcher = (*DirFetcher)(nil)

// NewDirFetcher creates a fetcher rooted at root. maxBytes <= 0 disables the
// size limit.
func NewDirFetcher(root string, maxBytes int64) *DirFetcher {
	return &DirFetcher{root: root, maxBytes: maxBytes}
}

func (f *DirFetcher) Fetch(ctx context.Context, entityID string) (models.SourceDocument, error) {
	rel := filepath.FromSlash(strings.TrimPrefix(entityID, "/"))
	if entityID == "" || !filepath.IsLocal(rel) {
		return models.SourceDocument{}, fmt.Errorf("%w: %q is outside the document root", models.ErrPermissionDenied, entityID)
	}
	path := filepath.Join(f.root, rel)

	file, err := os.Open(path) // #nosec G304 -- path is confined to root above
	if errors.Is(err, fs.ErrNotExist) {
		return models.SourceDocument{}, fmt.Errorf("%w: %s not found", models.ErrSourceFetch, entityID)
	}
	if err != nil {
		return models.SourceDocument{}, fmt.Errorf("%w: %v", models.ErrSourceFetch, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return models.SourceDocument{}, fmt.Errorf("%w: %v", models.ErrSourceFetch, err)
	}
	if info.IsDir() {
		return models.SourceDocument{}, fmt.Errorf("%w: %s is a directory", models.ErrSourceFetch, entityID)
	}
	if f.maxBytes > 0 && info.Size() > f.maxBytes {
		return models.SourceDocument{}, fmt.Errorf("%w: %s is %d bytes, limit is %d", models.ErrSourceTooLarge, entityID, info.Size(), f.maxBytes)
	}

	content, err := io.ReadAll(file)
	if err != nil {
		return models.SourceDocument{}, fmt.Errorf("%w: %v", models.ErrSourceFetch, err)
	}
	return models.SourceDocument{
		EntityID:    entityID,
		Name:        filepath.Base(path),
		Content:     content,
		Fingerprint: cache.Fingerprint(content),
	}, nil
}
