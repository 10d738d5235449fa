package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/documentpreview/internal/config"
	"github.com/Lllllllleong/documentpreview/internal/models"
	"github.com/Lllllllleong/documentpreview/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	app       *services.App
	retention time.Duration
	once      sync.Once
	initErr   error
)

// pubSubMessage is the data of a google.cloud.pubsub.topic.v1.messagePublished
// event, as delivered by Cloud Scheduler through Pub/Sub.
type pubSubMessage struct {
	Message struct {
		Data []byte `json:"data"`
	} `json:"message"`
}

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("SweepPreviews", sweepPreviews)
}

// main is required by the Go Functions Framework.
func main() {}

// sweepPreviews deletes cached previews past retention. The scheduler message
// may override retention with {"retention": "<duration>"}.
func sweepPreviews(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		cfg, err := config.Load(os.Getenv("PREVIEW_CONFIG"))
		if err != nil {
			initErr = err
			return
		}
		retention = cfg.Sweeper.Retention
		app, initErr = services.NewApp(context.Background(), cfg)
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	effective, err := requestedRetention(e.Data(), retention)
	if err != nil {
		slog.Error("Failed to parse sweep request", "error", err, "data", string(e.Data()))
		return err
	}

	res, err := app.Sweeper.Sweep(ctx, effective)
	if err != nil {
		// Already logged with context by the sweeper.
		return err
	}
	if len(res.Errors) > 0 {
		slog.Warn("Sweep finished with per-entry errors.", "errors", res.Errors)
	}
	return nil
}

// requestedRetention extracts an optional retention override from a Pub/Sub
// event payload.
func requestedRetention(data []byte, fallback time.Duration) (time.Duration, error) {
	if len(data) == 0 {
		return fallback, nil
	}
	var msg pubSubMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return 0, fmt.Errorf("json.Unmarshal: %w", err)
	}
	if len(msg.Message.Data) == 0 {
		return fallback, nil
	}
	var req models.SweepRequest
	if err := json.Unmarshal(msg.Message.Data, &req); err != nil {
		// Scheduler jobs often publish a plain body such as "sweep".
		return fallback, nil
	}
	if req.Retention == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(req.Retention)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid retention %q", req.Retention)
	}
	return d, nil
}
