package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/Lllllllleong/legaldocflow/internal/models"
	"github.com/Lllllllleong/legaldocflow/internal/ocr"
)

// Compressor shrinks a PDF in place when worthwhile.
type Compressor interface {
	Compress(ctx context.Context, path string) (before, after int64, err error)
}

// CleanFunction turns a renamed PDF into a sanitized, searchable PDF/A.
type CleanFunction struct {
	tool       ocr.Tool
	compressor Compressor
	timeout    time.Duration
	logger     *slog.Logger
}

// NewCleanFunction wires the OCR tool chain. compressor may be nil.
func NewCleanFunction(tool ocr.Tool, compressor Compressor, timeout time.Duration, logger *slog.Logger) *CleanFunction {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &CleanFunction{tool: tool, compressor: compressor, timeout: timeout, logger: logger}
}

func (f *CleanFunction) Process(ctx context.Context, job models.Job) error {
	src := job.Document.Path
	logCtx := f.logger.With("file", filepath.Base(src))
	if job.OutputPath == "" {
		return fmt.Errorf("%w: no output path for %s", models.ErrInvalidInput, src)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	// --- 1. Strip metadata, annotations and bookmarks ---
	ocrInput, cleanup := f.sanitize(logCtx, src, job.OutputPath)
	defer cleanup()

	// --- 2. OCR into a hidden temp so a half-written file never looks done ---
	tmpOut := hiddenTemp(job.OutputPath)
	defer os.Remove(tmpOut)
	if err := f.tool.Run(ctx, ocrInput, tmpOut); err != nil {
		logCtx.Error("Failed to OCR document", "tool", f.tool.Name(), "error", err)
		return err
	}

	// --- 3. Compress ---
	if f.compressor != nil {
		before, after, err := f.compressor.Compress(ctx, tmpOut)
		switch {
		case err != nil:
			logCtx.Warn("Compression failed, keeping OCR output.", "error", err)
		case after < before:
			logCtx.Info("Compressed.", "before", before, "after", after, "reductionPct", fmt.Sprintf("%.1f", 100*float64(before-after)/float64(before)))
		default:
			logCtx.Debug("Compression not worth it, keeping OCR output.", "bytes", before)
		}
	}

	if err := os.Rename(tmpOut, job.OutputPath); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", filepath.Base(job.OutputPath), err)
	}
	logCtx.Info("Clean complete.", "output", filepath.Base(job.OutputPath))
	return nil
}

// sanitize writes a copy of src without document properties, annotations
// and bookmarks, then optimizes it. Any pdfcpu failure falls back to the
// untouched source; ocrmypdf and Ghostscript cope with files pdfcpu
// rejects.
func (f *CleanFunction) sanitize(logCtx *slog.Logger, src, out string) (string, func()) {
	conf := pdfConfig()
	dir, base := filepath.Split(out)
	tmp := func(step string) string { return filepath.Join(dir, "."+base+"."+step+".pdf") }
	steps := []string{tmp("props"), tmp("annots"), tmp("bookmarks"), tmp("optimized")}
	cleanup := func() {
		for _, p := range steps {
			_ = os.Remove(p)
		}
	}

	if err := api.ValidateFile(src, conf); err != nil {
		logCtx.Warn("PDF failed validation, skipping sanitize.", "error", err)
		return src, cleanup
	}

	run := []func(in, out string) error{
		func(in, out string) error { return api.RemovePropertiesFile(in, out, nil, conf) },
		func(in, out string) error { return api.RemoveAnnotationsFile(in, out, nil, nil, nil, conf, false) },
		func(in, out string) error { return api.RemoveBookmarksFile(in, out, conf) },
		func(in, out string) error { return api.OptimizeFile(in, out, conf) },
	}
	cur := src
	for i, fn := range run {
		if err := fn(cur, steps[i]); err != nil {
			// Not every file has properties, annotations or bookmarks to remove.
			logCtx.Debug("Sanitize step skipped.", "step", i+1, "error", err)
			continue
		}
		cur = steps[i]
	}
	return cur, cleanup
}
