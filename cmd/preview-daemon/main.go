// Command preview-daemon runs the preview service as a long-lived HTTP server
// with a built-in sweep schedule, for deployments outside Cloud Functions.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/documentpreview/internal/config"
	"github.com/Lllllllleong/documentpreview/internal/handlers"
	"github.com/Lllllllleong/documentpreview/internal/services"
	"github.com/robfig/cron/v3"
	flag "github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"
)

type flags struct {
	config   string
	port     string
	schedule string
	noSweep  bool
}

func parseFlags(args []string) (*flags, error) {
	f := &flags{}
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.StringVarP(&f.config, "config", "c", os.Getenv("PREVIEW_CONFIG"), "path to YAML config file")
	fs.StringVarP(&f.port, "port", "p", "", "HTTP port (overrides config and PORT)")
	fs.StringVar(&f.schedule, "schedule", "", "cron spec for cache sweeps (overrides config)")
	fs.BoolVar(&f.noSweep, "no-sweep", false, "disable scheduled sweeps")
	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}
	return f, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(os.Args); err != nil {
		slog.Error("preview-daemon exited", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}

	// maxprocs.Set only fails on an invalid GOMAXPROCS env, in which case the
	// runtime default applies.
	_, _ = maxprocs.Set(maxprocs.Logger(func(format string, a ...interface{}) {
		slog.Info(fmt.Sprintf(format, a...))
	}))

	cfg, err := config.Load(f.config)
	if err != nil {
		return err
	}
	if f.port != "" {
		cfg.Server.Port = f.port
	}
	if f.schedule != "" {
		cfg.Sweeper.Schedule = f.schedule
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := services.NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	h := handlers.New(app.Preview, app.Sweeper, cfg.Sweeper.Retention)
	functions.HTTP("convert", h.Convert)
	functions.HTTP("preview", h.Preview)
	functions.HTTP("serve", h.Serve)
	functions.HTTP("sweep", h.Sweep)

	if !f.noSweep && cfg.Sweeper.Schedule != "" {
		scheduler, err := startSweeps(ctx, app, cfg)
		if err != nil {
			return err
		}
		defer func() {
			<-scheduler.Stop().Done()
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Listening.", "port", cfg.Server.Port)
		errCh <- funcframework.Start(cfg.Server.Port)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("funcframework.Start: %w", err)
	case <-ctx.Done():
		slog.Info("Shutting down.", "stats", app.Coordinator.Stats())
		return nil
	}
}

func startSweeps(ctx context.Context, app *services.App, cfg *config.Config) (*cron.Cron, error) {
	logger := cronLogger{slog.Default().With("component", "scheduler")}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))
	_, err := c.AddFunc(cfg.Sweeper.Schedule, func() {
		start := time.Now()
		res, err := app.Sweeper.Sweep(ctx, cfg.Sweeper.Retention)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Error("Scheduled sweep failed.", "error", err)
			}
			return
		}
		slog.Info("Scheduled sweep finished.", "deleted", res.Deleted, "errors", len(res.Errors), "durationMs", time.Since(start).Milliseconds())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule sweep %q: %w", cfg.Sweeper.Schedule, err)
	}
	c.Start()
	slog.Info("Sweep schedule enabled.", "schedule", cfg.Sweeper.Schedule, "retention", cfg.Sweeper.Retention.String())
	return c, nil
}

// cronLogger routes cron's logging through slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
