package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Lllllllleong/legaldocflow/internal/models"
)

// DefaultChunkPages is the largest body, in pages, sent to the model in one
// call.
const DefaultChunkPages = 80

// FormatFunction sends the body of converted text through the cleanup
// model, chunk by chunk, and keeps the header and footer untouched.
type FormatFunction struct {
	cleaner    Cleaner
	chunkPages int
	timeout    time.Duration
	logger     *slog.Logger
}

func NewFormatFunction(cleaner Cleaner, chunkPages int, timeout time.Duration, logger *slog.Logger) *FormatFunction {
	if chunkPages <= 0 {
		chunkPages = DefaultChunkPages
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FormatFunction{cleaner: cleaner, chunkPages: chunkPages, timeout: timeout, logger: logger}
}

func (f *FormatFunction) Process(ctx context.Context, job models.Job) error {
	src := job.Document.Path
	logCtx := f.logger.With("file", filepath.Base(src))
	if job.OutputPath == "" {
		return fmt.Errorf("%w: no output path for %s", models.ErrInvalidInput, src)
	}

	raw, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrInvalidInput, err)
	}
	header, body, foot, err := SplitDocument(string(raw))
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrInvalidInput, err)
	}
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("%w: empty document body", models.ErrInvalidInput)
	}

	chunks := ChunkBody(body, f.chunkPages)
	if len(chunks) > 1 {
		logCtx.Info("Large document, formatting in chunks.", "pages", len(pageMarker.FindAllStringIndex(body, -1)), "chunks", len(chunks))
	}

	cleaned := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		out, err := f.cleanup(ctx, chunk)
		if err != nil {
			logCtx.Error("Failed to format chunk", "chunk", i+1, "chunks", len(chunks), "error", err)
			return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		cleaned = append(cleaned, strings.TrimSpace(out))
	}
	result := strings.Join(cleaned, "\n\n")

	if err := writeFileAtomic(job.OutputPath, []byte(JoinDocument(header, result, foot))); err != nil {
		return err
	}
	logCtx.Info("Format complete.", "charsIn", len(body), "charsOut", len(result), "chunks", len(chunks))
	return nil
}

func (f *FormatFunction) cleanup(ctx context.Context, chunk string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	out, err := f.cleaner.Cleanup(ctx, chunk)
	if err != nil {
		if !errors.Is(err, models.ErrAPI) && !errors.Is(err, models.ErrFormat) {
			err = fmt.Errorf("%w: %w", models.ErrFormat, err)
		}
		return "", err
	}
	return out, nil
}
