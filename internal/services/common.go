// Package services holds one operation per pipeline stage. Each operation
// handles a single document; scheduling, resume and quarantine are the
// runner's job.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/legaldocflow/internal/models"
)

// MetadataExtractor reads document metadata from a one-page PDF.
type MetadataExtractor interface {
	ExtractMetadata(ctx context.Context, pdf []byte) (models.DocumentMetadata, error)
}

// TextExtractor returns one text per page of a PDF.
type TextExtractor interface {
	ExtractPages(ctx context.Context, pdfPath string, pageCount int) ([]string, error)
}

// Cleaner corrects OCR text.
type Cleaner interface {
	Cleanup(ctx context.Context, body string) (string, error)
}

// Uploader stores a local file remotely under name and returns its URL.
type Uploader interface {
	Upload(ctx context.Context, localPath, name string) (string, error)
}

// PageCounter reports the number of pages of a PDF.
type PageCounter func(path string) (int, error)

func pdfConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// CountPages reads a PDF's page count with pdfcpu.
func CountPages(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to read page count: %w", models.ErrInvalidInput, err)
	}
	return n, nil
}

// writeFileAtomic writes data through a hidden temp file and a rename, so a
// crash never leaves a partial output that resume would mistake for done.
func writeFileAtomic(path string, data []byte) error {
	tmp := hiddenTemp(path)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to finalize %s: %w", filepath.Base(path), err)
	}
	return nil
}

func hiddenTemp(path string) string {
	dir, base := filepath.Split(path)
	return filepath.Join(dir, "."+base+".tmp")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := hiddenTemp(dst)
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// ErrTargetExists means a move would replace a file already at the target.
var ErrTargetExists = errors.New("target already exists")

// moveNoClobber moves src to dst and fails with ErrTargetExists rather than
// replace an existing dst.
func moveNoClobber(src, dst string) error {
	err := os.Link(src, dst)
	if err == nil {
		return os.Remove(src)
	}
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s", ErrTargetExists, filepath.Base(dst))
	}

	// No hard links across devices or on some filesystems.
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrTargetExists, filepath.Base(dst))
		}
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	in.Close()
	return os.Remove(src)
}

func countBlank(texts []string) int {
	n := 0
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			n++
		}
	}
	return n
}
