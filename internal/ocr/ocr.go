// Package ocr wraps the external tools of the clean stage: ocrmypdf for
// text-layer OCR and Ghostscript for flattening and compression.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Lllllllleong/legaldocflow/internal/models"
)

const DefaultDPI = 600

// Tool produces a searchable PDF at out from in.
type Tool interface {
	Name() string
	Run(ctx context.Context, in, out string) error
}

// Exec runs a command and returns its captured stderr.
type Exec func(ctx context.Context, name string, args ...string) (stderr string, err error)

// Command is the default Exec backed by os/exec.
func Command(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}

// OCRmyPDF redoes the text layer and writes PDF/A.
type OCRmyPDF struct {
	Path string
	DPI  int
	Exec Exec
}

func NewOCRmyPDF(path string, dpi int) *OCRmyPDF {
	if path == "" {
		path = "ocrmypdf"
	}
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &OCRmyPDF{Path: path, DPI: dpi, Exec: Command}
}

func (o *OCRmyPDF) Name() string { return "ocrmypdf" }

func (o *OCRmyPDF) Run(ctx context.Context, in, out string) error {
	args := []string{"--redo-ocr", "--output-type", "pdfa", "--oversample", strconv.Itoa(o.DPI), in, out}
	if stderr, err := o.Exec(ctx, o.Path, args...); err != nil {
		return toolError(o.Name(), err, stderr)
	}
	return nil
}

// Flatten rasterizes every page with Ghostscript and then runs OCR on the
// flattened copy. It recovers inputs whose structure trips up ocrmypdf.
type Flatten struct {
	Ghostscript string
	OCR         *OCRmyPDF
	Exec        Exec
}

func NewFlatten(ghostscript string, o *OCRmyPDF) *Flatten {
	return &Flatten{Ghostscript: ghostscript, OCR: o, Exec: Command}
}

func (f *Flatten) Name() string { return "ghostscript-flatten" }

func (f *Flatten) Run(ctx context.Context, in, out string) error {
	tmp := tempSibling(out, "flat")
	defer os.Remove(tmp)

	if stderr, err := f.Exec(ctx, f.Ghostscript, "-sDEVICE=pdfimage32", "-o", tmp, in); err != nil {
		return toolError(f.Name(), err, stderr)
	}
	if _, err := os.Stat(tmp); err != nil {
		return fmt.Errorf("%w: %s produced no output", models.ErrOCR, f.Name())
	}
	return f.OCR.Run(ctx, tmp, out)
}

// Chain runs Primary and, when it fails, Fallback. There is no silent
// copy-through: if both fail the file fails.
type Chain struct {
	Primary  Tool
	Fallback Tool
	Logger   *slog.Logger
}

func (c *Chain) Name() string { return c.Primary.Name() }

func (c *Chain) Run(ctx context.Context, in, out string) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	primaryErr := c.Primary.Run(ctx, in, out)
	if primaryErr == nil {
		return nil
	}
	if c.Fallback == nil {
		return primaryErr
	}
	logger.Warn("OCR failed, trying fallback.", "file", filepath.Base(in), "tool", c.Primary.Name(), "fallback", c.Fallback.Name(), "error", primaryErr)
	_ = os.Remove(out)

	if err := c.Fallback.Run(ctx, in, out); err != nil {
		_ = os.Remove(out)
		return fmt.Errorf("%w; fallback: %w", primaryErr, err)
	}
	return nil
}

// Compressor rewrites a PDF with Ghostscript's ebook preset and keeps the
// result only when it saves at least MinSavings of the original size.
type Compressor struct {
	Ghostscript string
	MinSavings  float64
	Exec        Exec
}

func NewCompressor(ghostscript string, minSavings float64) *Compressor {
	return &Compressor{Ghostscript: ghostscript, MinSavings: minSavings, Exec: Command}
}

// Compress replaces path in place when worthwhile. It returns the sizes
// before and after; after equals before when the original was kept.
func (c *Compressor) Compress(ctx context.Context, path string) (before, after int64, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	before = info.Size()

	tmp := tempSibling(path, "compressed")
	defer os.Remove(tmp)

	args := []string{
		"-sDEVICE=pdfwrite", "-dCompatibilityLevel=1.4", "-dPDFSETTINGS=/ebook",
		"-dNOPAUSE", "-dQUIET", "-dBATCH", "-sOutputFile=" + tmp, path,
	}
	if stderr, err := c.Exec(ctx, c.Ghostscript, args...); err != nil {
		return before, before, toolError("ghostscript-compress", err, stderr)
	}
	cinfo, err := os.Stat(tmp)
	if err != nil {
		return before, before, fmt.Errorf("compressed output missing: %w", err)
	}
	if before == 0 || float64(before-cinfo.Size())/float64(before) <= c.MinSavings {
		return before, before, nil
	}
	if err := os.Rename(tmp, path); err != nil {
		return before, before, fmt.Errorf("failed to replace with compressed copy: %w", err)
	}
	return before, cinfo.Size(), nil
}

// tempSibling is hidden so stage discovery never picks it up.
func tempSibling(path, tag string) string {
	dir, base := filepath.Split(path)
	ext := filepath.Ext(base)
	return filepath.Join(dir, "."+strings.TrimSuffix(base, ext)+"."+tag+ext)
}

func toolError(tool string, err error, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	if i := strings.LastIndex(stderr, "\n"); i >= 0 {
		stderr = stderr[i+1:]
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%w: %s exited %d: %s", models.ErrOCR, tool, exitErr.ExitCode(), stderr)
	}
	return fmt.Errorf("%w: %s: %v", models.ErrOCR, tool, err)
}
