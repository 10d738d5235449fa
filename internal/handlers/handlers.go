// Package handlers exposes the preview service over HTTP. The same handlers
// back the Cloud Functions entry points and the standalone daemon.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/documentpreview/internal/models"
)

// Previewer is the service boundary. *services.PreviewService implements it.
type Previewer interface {
	ConvertDriveFile(ctx context.Context, entityID string) models.ConvertResponse
	GetDocumentPreview(ctx context.Context, fileName string) models.PreviewResponse
	ServePreview(ctx context.Context, key string) ([]byte, string, error)
}

// SweepRunner runs a retention sweep. *services.Sweeper implements it.
type SweepRunner interface {
	Sweep(ctx context.Context, retention time.Duration) (*models.SweepResult, error)
}

// Handlers holds the HTTP handlers.
type Handlers struct {
	preview   Previewer
	sweeper   SweepRunner
	retention time.Duration
}

// New creates the handlers. sweeper may be nil when sweeps are not exposed.
func New(preview Previewer, sweeper SweepRunner, retention time.Duration) *Handlers {
	return &Handlers{preview: preview, sweeper: sweeper, retention: retention}
}

// Convert handles GET /convert?entity_name=<id>.
func (h *Handlers) Convert(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	entityID := r.URL.Query().Get("entity_name")
	if entityID == "" {
		http.Error(w, "Bad Request: entity_name is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, models.Envelope{Message: h.preview.ConvertDriveFile(r.Context(), entityID)})
}

// Preview handles GET /preview?file_name=<name>.
func (h *Handlers) Preview(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	fileName := r.URL.Query().Get("file_name")
	if fileName == "" {
		http.Error(w, "Bad Request: file_name is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, models.Envelope{Message: h.preview.GetDocumentPreview(r.Context(), fileName)})
}

// Serve handles GET /serve?key=<key> and streams the cached PDF inline.
func (h *Handlers) Serve(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	key := r.URL.Query().Get("key")
	pdf, contentType, err := h.preview.ServePreview(r.Context(), key)
	switch {
	case errors.Is(err, models.ErrInvalidKey):
		http.Error(w, "Invalid preview key", http.StatusBadRequest)
		return
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, "Preview not found", http.StatusNotFound)
		return
	case err != nil:
		slog.Error("Failed to read preview.", "cacheKey", key, "error", err)
		http.Error(w, "Internal Server Error: failed to read preview", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `inline; filename="preview.pdf"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	// Keys are content-derived, so a given URL always serves the same bytes.
	w.Header().Set("Cache-Control", "private, max-age=86400, immutable")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(pdf); err != nil {
		slog.Warn("Failed to write preview.", "cacheKey", key, "error", err)
	}
}

// Sweep handles POST /sweep[?retention=<duration>].
func (h *Handlers) Sweep(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if h.sweeper == nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	retention := h.retention
	if raw := r.URL.Query().Get("retention"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			http.Error(w, "Bad Request: retention must be a positive duration", http.StatusBadRequest)
			return
		}
		retention = d
	}

	res, err := h.sweeper.Sweep(r.Context(), retention)
	if err != nil {
		// Already logged with context by the sweeper.
		http.Error(w, "Internal Server Error: sweep failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func allow(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
