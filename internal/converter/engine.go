// Package converter wraps a headless LibreOffice process that renders office
// documents to PDF.
package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Lllllllleong/documentpreview/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Config configures the conversion engine.
type Config struct {
	Binary         string        // converter executable, e.g. "soffice"
	Timeout        time.Duration // per-conversion wall clock limit
	ScratchDir     string        // parent for per-call temp dirs; empty = os.TempDir()
	Serialize      bool          // allow only one converter process at a time
	ValidateOutput bool          // run the produced PDF through pdfcpu
	Optimize       bool          // rewrite the PDF with pdfcpu's optimizer
}

// Result is a successful conversion.
type Result struct {
	PDF      []byte
	Pages    int // 0 when output validation is disabled
	Duration time.Duration
}

// Engine converts office documents to PDF. It is safe for concurrent use:
// every call works in its own temp directory with its own LibreOffice profile.
type Engine struct {
	cfg    Config
	runner Runner
	logger *slog.Logger

	// serial guards the converter process when cfg.Serialize is set.
	serial sync.Mutex
}

// Option customizes an Engine.
type Option func(*Engine)

// WithRunner replaces the process runner (used by tests).
func WithRunner(r Runner) Option {
	return func(e *Engine) { e.runner = r }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine.
func New(cfg Config, opts ...Option) *Engine {
	if cfg.Binary == "" {
		cfg.Binary = "soffice"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	e := &Engine{cfg: cfg, runner: ExecRunner{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Convert renders src to PDF. hint is the source file name or extension.
//
// Errors wrap models.ErrUnsupportedFormat (nothing is spawned),
// models.ErrConversionTimeout (the process group was killed) or
// models.ErrConversionProcess. Cancelling ctx kills the converter as well.
func (e *Engine) Convert(ctx context.Context, src []byte, hint string) (*Result, error) {
	ext := ResolveExtension(hint, src)
	if !Supported(ext) {
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedFormat, ext)
	}
	if len(src) == 0 {
		return nil, fmt.Errorf("%w: empty source document", models.ErrConversionProcess)
	}

	tempDir, err := os.MkdirTemp(e.cfg.ScratchDir, "preview-convert-*")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create temp dir: %v", models.ErrConversionProcess, err)
	}
	defer os.RemoveAll(tempDir)

	sourcePath := filepath.Join(tempDir, "source."+ext)
	outDir := filepath.Join(tempDir, "out")
	profileDir := filepath.Join(tempDir, "profile")
	if err := os.WriteFile(sourcePath, src, 0o600); err != nil {
		return nil, fmt.Errorf("%w: failed to write source: %v", models.ErrConversionProcess, err)
	}
	if err := os.Mkdir(outDir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: failed to create output dir: %v", models.ErrConversionProcess, err)
	}

	args := []string{
		"--headless",
		"--norestore",
		"--nolockcheck",
		"-env:UserInstallation=" + fileURL(profileDir),
		"--convert-to", "pdf",
		"--outdir", outDir,
		sourcePath,
	}

	if e.cfg.Serialize {
		e.serial.Lock()
		defer e.serial.Unlock()
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := time.Now()
	stderr, runErr := e.runner.Run(runCtx, tempDir, e.cfg.Binary, args...)
	elapsed := time.Since(start)

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		e.logger.Warn("Converter exceeded timeout and was killed.", "timeout", e.cfg.Timeout, "ext", ext)
		return nil, fmt.Errorf("%w after %s", models.ErrConversionTimeout, e.cfg.Timeout)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case runErr != nil:
		e.logger.Error("Converter exited with an error.", "error", runErr, "stderr", stderr, "ext", ext)
		return nil, fmt.Errorf("%w: %v", models.ErrConversionProcess, runErr)
	}

	pdf, err := os.ReadFile(filepath.Join(outDir, "source.pdf"))
	if err != nil {
		e.logger.Error("Converter finished but produced no PDF.", "error", err, "stderr", stderr, "ext", ext)
		return nil, fmt.Errorf("%w: output file not found", models.ErrConversionProcess)
	}
	if len(pdf) == 0 {
		return nil, fmt.Errorf("%w: output file is empty", models.ErrConversionProcess)
	}

	res := &Result{PDF: pdf, Duration: elapsed}
	if e.cfg.ValidateOutput {
		pages, err := inspectPDF(pdf)
		if err != nil {
			e.logger.Error("Converter output failed PDF validation.", "error", err, "ext", ext)
			return nil, fmt.Errorf("%w: invalid PDF output: %v", models.ErrConversionProcess, err)
		}
		res.Pages = pages
	}
	if e.cfg.Optimize {
		optimized, err := optimizePDF(pdf)
		switch {
		case err != nil:
			// The unoptimized file is still a usable preview.
			e.logger.Warn("PDF optimization failed, keeping converter output.", "error", err, "ext", ext)
		case len(optimized) < len(pdf):
			res.PDF = optimized
		}
	}
	return res, nil
}

// inspectPDF validates pdf and returns its page count.
func inspectPDF(pdf []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	if err := api.Validate(bytes.NewReader(pdf), conf); err != nil {
		return 0, err
	}
	return api.PageCount(bytes.NewReader(pdf), conf)
}

// optimizePDF drops redundant objects and shared resources from pdf.
func optimizePDF(pdf []byte) ([]byte, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	var buf bytes.Buffer
	if err := api.Optimize(bytes.NewReader(pdf), &buf, conf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// fileURL turns an absolute path into the file:// URL form LibreOffice expects
// for -env:UserInstallation.
func fileURL(p string) string {
	p = filepath.ToSlash(p)
	if len(p) > 0 && p[0] != '/' {
		p = "/" + p // Windows drive letters
	}
	return "file://" + p
}
