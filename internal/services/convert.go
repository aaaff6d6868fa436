package services

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/Lllllllleong/legaldocflow/internal/models"
)

// ConvertFunction extracts page text from cleaned PDFs into the converted
// text template.
type ConvertFunction struct {
	extractor TextExtractor
	pages     PageCounter
	// publicURL predicts the link the upload stage will produce; nil leaves
	// the link pending.
	publicURL func(name string) string
	timeout   time.Duration
	logger    *slog.Logger
}

func NewConvertFunction(extractor TextExtractor, publicURL func(name string) string, timeout time.Duration, logger *slog.Logger) *ConvertFunction {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 20 * time.Minute
	}
	return &ConvertFunction{
		extractor: extractor,
		pages:     CountPages,
		publicURL: publicURL,
		timeout:   timeout,
		logger:    logger,
	}
}

func (f *ConvertFunction) Process(ctx context.Context, job models.Job) error {
	src := job.Document.Path
	name := filepath.Base(src)
	logCtx := f.logger.With("file", name)
	if job.OutputPath == "" {
		return fmt.Errorf("%w: no output path for %s", models.ErrInvalidInput, src)
	}

	pageCount, err := f.pages(src)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	texts, err := f.extractor.ExtractPages(ctx, src, pageCount)
	if err != nil {
		logCtx.Error("Failed to extract text", "error", err)
		return err
	}
	if countBlank(texts) == len(texts) {
		return fmt.Errorf("%w: no text recognized on any of %d pages", models.ErrConvert, pageCount)
	}

	header := DocumentHeader{
		Name:        job.Document.BaseName,
		OriginalPDF: name,
		Directory:   filepath.Base(job.RootDir),
	}
	if f.publicURL != nil {
		header.PublicLink = f.publicURL(name)
	}

	if err := writeFileAtomic(job.OutputPath, []byte(RenderConverted(header, texts))); err != nil {
		return err
	}
	logCtx.Info("Convert complete.", "pages", pageCount, "emptyPages", countBlank(texts))
	return nil
}
