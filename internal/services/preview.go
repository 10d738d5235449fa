package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/Lllllllleong/documentpreview/internal/cache"
	"github.com/Lllllllleong/documentpreview/internal/converter"
	"github.com/Lllllllleong/documentpreview/internal/models"
	"github.com/Lllllllleong/documentpreview/internal/sources"
)

// User-facing messages. Nothing else from an error ever reaches a client.
const (
	MsgUnsupported      = "File format not supported for conversion"
	MsgPreviewUnsupport = "File format not supported for preview"
	MsgTimeout          = "Document conversion timed out"
	MsgConversionFailed = "Failed to convert document to PDF"
	MsgNotFound         = "File not found"
	MsgTooLarge         = "File is too large to preview"
	MsgPermission       = "Permission denied"
	MsgCacheWrite       = "Failed to store converted document"
	MsgCancelled        = "Request cancelled, the preview will be ready shortly"
	MsgUnavailable      = "Document preview is unavailable"
)

// PDFContentType is served with every preview.
const PDFContentType = "application/pdf"

// UserMessage maps an error to a stable message that is safe to show to users.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, models.ErrUnsupportedFormat):
		return MsgUnsupported
	case errors.Is(err, models.ErrConversionTimeout):
		return MsgTimeout
	case errors.Is(err, models.ErrConversionProcess):
		return MsgConversionFailed
	case errors.Is(err, models.ErrSourceTooLarge):
		return MsgTooLarge
	case errors.Is(err, models.ErrSourceFetch):
		return MsgNotFound
	case errors.Is(err, models.ErrPermissionDenied):
		return MsgPermission
	case errors.Is(err, models.ErrCacheWrite):
		return MsgCacheWrite
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return MsgCancelled
	default:
		return MsgUnavailable
	}
}

// PreviewService is the boundary the viewer components talk to.
type PreviewService struct {
	fetcher     sources.Fetcher
	coordinator *Coordinator
	store       cache.Store
	baseURL     string
}

// NewPreviewService creates the service. baseURL prefixes every preview URL
// and may be empty for same-origin links.
func NewPreviewService(fetcher sources.Fetcher, coordinator *Coordinator, store cache.Store, baseURL string) *PreviewService {
	return &PreviewService{
		fetcher:     fetcher,
		coordinator: coordinator,
		store:       store,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
	}
}

// PreviewURL returns the URL that serves the preview for key.
func (s *PreviewService) PreviewURL(key models.CacheKey) string {
	return s.baseURL + "/serve?key=" + url.QueryEscape(string(key))
}

// ConvertDriveFile converts the document stored under entityID and returns
// where its PDF can be fetched.
func (s *PreviewService) ConvertDriveFile(ctx context.Context, entityID string) models.ConvertResponse {
	logCtx := slog.With("entityId", entityID)

	ref, err := s.request(ctx, entityID)
	if err != nil {
		logCtx.Error("Drive file conversion failed.", "error", err)
		return models.ConvertResponse{Success: false, Error: UserMessage(err)}
	}
	return models.ConvertResponse{Success: true, PDFURL: s.PreviewURL(ref.Key)}
}

// GetDocumentPreview is the lookup used by the file viewer. Unsupported
// formats are answered from the name alone, without reading the file.
func (s *PreviewService) GetDocumentPreview(ctx context.Context, fileName string) models.PreviewResponse {
	logCtx := slog.With("fileName", fileName)

	if ext := converter.HintExtension(fileName); ext != "" && !converter.Supported(ext) {
		return models.PreviewResponse{Supported: false, Message: MsgPreviewUnsupport}
	}
	ref, err := s.request(ctx, fileName)
	if errors.Is(err, models.ErrUnsupportedFormat) {
		return models.PreviewResponse{Supported: false, Message: MsgPreviewUnsupport}
	}
	if err != nil {
		logCtx.Error("Document preview failed.", "error", err)
		return models.PreviewResponse{Supported: false, Message: UserMessage(err)}
	}
	return models.PreviewResponse{Supported: true, PreviewURL: s.PreviewURL(ref.Key)}
}

func (s *PreviewService) request(ctx context.Context, entityID string) (models.ArtifactRef, error) {
	if strings.TrimSpace(entityID) == "" {
		return models.ArtifactRef{}, fmt.Errorf("%w: empty entity id", models.ErrSourceFetch)
	}
	doc, err := s.fetcher.Fetch(ctx, entityID)
	if err != nil {
		return models.ArtifactRef{}, err
	}
	return s.coordinator.RequestConversion(ctx, doc)
}

// ServePreview returns the bytes of a committed preview. It never converts.
// Errors wrap models.ErrInvalidKey or models.ErrNotFound.
func (s *PreviewService) ServePreview(ctx context.Context, key string) ([]byte, string, error) {
	if !cache.ValidKey(key) {
		return nil, "", fmt.Errorf("%w: %q", models.ErrInvalidKey, key)
	}
	entry, err := s.store.Get(ctx, models.CacheKey(key))
	if err != nil {
		return nil, "", err
	}
	return entry.PDF, PDFContentType, nil
}
