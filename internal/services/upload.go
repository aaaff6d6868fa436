package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Lllllllleong/legaldocflow/internal/filestate"
	"github.com/Lllllllleong/legaldocflow/internal/models"
)

// UploadFunction publishes cleaned PDFs and writes the resulting link into
// the matching converted and formatted text files.
type UploadFunction struct {
	uploader   Uploader
	convertDir string
	formatDir  string
	logger     *slog.Logger
}

func NewUploadFunction(uploader Uploader, convertDir, formatDir string, logger *slog.Logger) *UploadFunction {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadFunction{uploader: uploader, convertDir: convertDir, formatDir: formatDir, logger: logger}
}

func (f *UploadFunction) Process(ctx context.Context, job models.Job) error {
	src := job.Document.Path
	name := filepath.Base(src)
	logCtx := f.logger.With("file", name)

	url, err := f.uploader.Upload(ctx, src, name)
	if err != nil {
		logCtx.Error("Failed to upload", "error", err)
		return err
	}

	targets := []string{
		filestate.PathFor(f.convertDir, job.Document.BaseName, models.StageConvert),
		filestate.PathFor(f.formatDir, job.Document.BaseName, models.StageFormat),
	}
	for _, path := range targets {
		updated, err := patchPublicLink(path, url)
		if err != nil {
			return fmt.Errorf("%w: uploaded but failed to record link in %s: %w", models.ErrStorage, filepath.Base(path), err)
		}
		if !updated {
			logCtx.Warn("No text file to link.", "expected", filepath.Base(path))
		}
	}
	logCtx.Info("Upload complete.", "url", url)
	return nil
}

func patchPublicLink(path, url string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	patched := SetPublicLink(string(data), url)
	if patched == string(data) {
		return true, nil
	}
	return true, writeFileAtomic(path, []byte(patched))
}
