package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/documentpreview/internal/cache"
	"github.com/Lllllllleong/documentpreview/internal/models"
)

// GCSFetcher treats entity ids as object names in a bucket.
type GCSFetcher struct {
	bucket   *storage.BucketHandle
	name     string
	maxBytes int64
}

var _ Fetcher = (*GCSFetcher)(nil)

// NewGCSFetcher creates a fetcher over bucket.
func NewGCSFetcher(client *storage.Client, bucket string, maxBytes int64) *GCSFetcher {
	return &GCSFetcher{bucket: client.Bucket(bucket), name: bucket, maxBytes: maxBytes}
}

func (f *GCSFetcher) Fetch(ctx context.Context, entityID string) (models.SourceDocument, error) {
	if entityID == "" {
		return models.SourceDocument{}, fmt.Errorf("%w: empty entity id", models.ErrSourceFetch)
	}
	reader, err := f.bucket.Object(entityID).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return models.SourceDocument{}, fmt.Errorf("%w: gs://%s/%s not found", models.ErrSourceFetch, f.name, entityID)
	}
	if err != nil {
		return models.SourceDocument{}, fmt.Errorf("%w: failed to get GCS object reader for gs://%s/%s: %v", models.ErrSourceFetch, f.name, entityID, err)
	}
	defer reader.Close()

	if f.maxBytes > 0 && reader.Attrs.Size > f.maxBytes {
		return models.SourceDocument{}, fmt.Errorf("%w: %s is %d bytes, limit is %d", models.ErrSourceTooLarge, entityID, reader.Attrs.Size, f.maxBytes)
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		return models.SourceDocument{}, fmt.Errorf("%w: failed to read GCS object: %v", models.ErrSourceFetch, err)
	}
	return models.SourceDocument{
		EntityID:    entityID,
		Name:        path.Base(entityID),
		ContentType: reader.Attrs.ContentType,
		Content:     content,
		Fingerprint: cache.Fingerprint(content),
	}, nil
}
