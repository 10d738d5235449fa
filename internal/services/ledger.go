package services

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/documentpreview/internal/models"
)

// FirestoreLedger keeps one status document per cache key, so operators can
// see which previews failed and why without digging through logs.
type FirestoreLedger struct {
	client     *firestore.Client
	collection string
}

var (
	_ Recorder  = (*FirestoreLedger)(nil)
	_ Forgetter = (*FirestoreLedger)(nil)
)

// NewFirestoreLedger creates a ledger writing to collection.
func NewFirestoreLedger(client *firestore.Client, collection string) *FirestoreLedger {
	return &FirestoreLedger{client: client, collection: collection}
}

func (l *FirestoreLedger) doc(key string) *firestore.DocumentRef {
	return l.client.Collection(l.collection).Doc(key)
}

// Record merges rec into the key's document. Empty fields leave the stored
// value alone, except errorDetails which is cleared once a conversion succeeds.
func (l *FirestoreLedger) Record(ctx context.Context, rec models.ConversionRecord) error {
	data := map[string]interface{}{
		"cacheKey":  rec.CacheKey,
		"status":    rec.Status,
		"updatedAt": rec.UpdatedAt,
	}
	if rec.EntityID != "" {
		data["entityId"] = rec.EntityID
	}
	if rec.SourceName != "" {
		data["sourceName"] = rec.SourceName
	}
	if rec.PageCount > 0 {
		data["pageCount"] = rec.PageCount
	}
	if rec.Location != "" {
		data["location"] = rec.Location
	}
	switch rec.Status {
	case models.StatusFailed:
		data["errorDetails"] = rec.ErrorDetails
	case models.StatusCached:
		data["errorDetails"] = firestore.Delete
	}

	if _, err := l.doc(rec.CacheKey).Set(ctx, data, firestore.MergeAll); err != nil {
		return fmt.Errorf("failed to write conversion record %s: %w", rec.CacheKey, err)
	}
	return nil
}

// Forget deletes the record of a swept cache entry.
func (l *FirestoreLedger) Forget(ctx context.Context, key models.CacheKey) error {
	if _, err := l.doc(string(key)).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete conversion record %s: %w", key, err)
	}
	return nil
}
