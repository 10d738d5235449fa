package models

import "time"

// Conversion status values stored on ConversionRecord.Status.
const (
	StatusConverting = "CONVERTING"
	StatusCached     = "CACHED"
	StatusFailed     = "FAILED"
)

// CacheKey identifies a cached PDF preview. It is derived from the source
// content, so a re-uploaded document with different bytes gets a new key.
type CacheKey string

func (k CacheKey) String() string { return string(k) }

// SourceDocument is an office document read from the external document store.
// The preview service only reads it.
type SourceDocument struct {
	EntityID    string
	Name        string // file name as declared by the store, used for the format hint
	ContentType string
	Content     []byte
	Fingerprint string // hex SHA-256 of Content
}

// CacheEntry is a committed PDF preview in the cache store.
type CacheEntry struct {
	Key       CacheKey
	Location  string // file path or gs:// URI
	Size      int64
	CreatedAt time.Time
	PDF       []byte // nil for entries produced by a listing
}

// ArtifactRef points at a completed conversion.
type ArtifactRef struct {
	Key       CacheKey
	Location  string
	CreatedAt time.Time
	Cached    bool // served from cache without converting
}

// ConversionRecord is the Firestore document tracking the last conversion
// attempt for a cache key.
type ConversionRecord struct {
	CacheKey     string    `firestore:"cacheKey,omitempty"`
	EntityID     string    `firestore:"entityId,omitempty"`
	SourceName   string    `firestore:"sourceName,omitempty"`
	Status       string    `firestore:"status,omitempty"`
	ErrorDetails string    `firestore:"errorDetails,omitempty"`
	PageCount    int       `firestore:"pageCount,omitempty"`
	Location     string    `firestore:"location,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt,omitempty"`
}
