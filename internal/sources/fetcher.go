// Package sources resolves entity ids to office document bytes. The document
// store that owns the files is external; these fetchers only read from it.
package sources

import (
	"context"

	"github.com/Lllllllleong/documentpreview/internal/models"
)

// Fetcher loads a source document by entity id. Errors wrap
// models.ErrSourceFetch, models.ErrSourceTooLarge or models.ErrPermissionDenied.
type Fetcher interface {
	Fetch(ctx context.Context, entityID string) (models.SourceDocument, error)
}
