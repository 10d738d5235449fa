package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/documentpreview/internal/config"
	"github.com/Lllllllleong/documentpreview/internal/handlers"
	"github.com/Lllllllleong/documentpreview/internal/services"
)

var (
	handlersInstance *handlers.Handlers
	once             sync.Once
	initErr          error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("ConvertDriveFile", convertDriveFile)
	functions.HTTP("GetDocumentPreview", getDocumentPreview)
	functions.HTTP("ServePreview", servePreview)
}

func main() {}

// instance builds the service on first use and reuses it across invocations.
func instance(w http.ResponseWriter) (*handlers.Handlers, bool) {
	once.Do(func() {
		cfg, err := config.Load(os.Getenv("PREVIEW_CONFIG"))
		if err != nil {
			initErr = err
			return
		}
		app, err := services.NewApp(context.Background(), cfg)
		if err != nil {
			initErr = err
			return
		}
		handlersInstance = handlers.New(app.Preview, nil, cfg.Sweeper.Retention)
	})
	if initErr != nil {
		slog.Error("Critical: preview service initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return nil, false
	}
	return handlersInstance, true
}

func convertDriveFile(w http.ResponseWriter, r *http.Request) {
	if h, ok := instance(w); ok {
		h.Convert(w, r)
	}
}

func getDocumentPreview(w http.ResponseWriter, r *http.Request) {
	if h, ok := instance(w); ok {
		h.Preview(w, r)
	}
}

func servePreview(w http.ResponseWriter, r *http.Request) {
	if h, ok := instance(w); ok {
		h.Serve(w, r)
	}
}
