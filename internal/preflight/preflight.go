// Package preflight validates the environment for the stages selected in a
// run. Only requirements of selected stages are checked, so a convert-only
// run never needs Ghostscript installed.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"

	"github.com/Lllllllleong/legaldocflow/internal/models"
)

// Sentinel errors returned by Check.
var (
	ErrRootMissing         = errors.New("root directory does not exist")
	ErrRootNotWritable     = errors.New("root directory is not writable")
	ErrOCRmyPDFNotFound    = errors.New("ocrmypdf not found on PATH")
	ErrGhostscriptNotFound = errors.New("ghostscript not found on PATH")
	ErrNoProject           = errors.New("no Google Cloud project configured")
	ErrCredentialsMissing  = errors.New("credentials file not found")
	ErrNoBucket            = errors.New("no storage bucket configured")
)

// ghostscriptNames are tried in order when the configured binary is missing.
var ghostscriptNames = []string{"gs", "gswin64c", "gswin32c"}

// Options lists what the checks look at. Empty tool names fall back to the
// usual binary names.
type Options struct {
	RootDir         string
	ProjectID       string
	CredentialsFile string
	Bucket          string
	OCRmyPDF        string
	Ghostscript     string
}

// Checker runs stage-aware environment checks.
type Checker struct {
	opts     Options
	lookPath func(string) (string, error)
	logger   *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.OCRmyPDF == "" {
		opts.OCRmyPDF = "ocrmypdf"
	}
	return &Checker{opts: opts, lookPath: exec.LookPath, logger: logger}
}

// Check returns every failed requirement for stages, joined, or nil.
func (c *Checker) Check(_ context.Context, stages []models.Stage) error {
	var errs []error
	has := func(s ...models.Stage) bool {
		for _, want := range s {
			if slices.Contains(stages, want) {
				return true
			}
		}
		return false
	}

	if err := c.checkRoot(); err != nil {
		errs = append(errs, err)
	}

	if has(models.StageClean) {
		if _, err := c.lookPath(c.opts.OCRmyPDF); err != nil {
			errs = append(errs, fmt.Errorf("%w (%s)", ErrOCRmyPDFNotFound, c.opts.OCRmyPDF))
		}
		if _, err := c.Ghostscript(); err != nil {
			errs = append(errs, err)
		}
	}

	if has(models.StageRename, models.StageFormat) && c.opts.ProjectID == "" {
		errs = append(errs, ErrNoProject)
	}

	if has(models.StageRename, models.StageConvert, models.StageFormat, models.StageUpload) {
		switch {
		case c.opts.CredentialsFile != "":
			if _, err := os.Stat(c.opts.CredentialsFile); err != nil {
				errs = append(errs, fmt.Errorf("%w: %s", ErrCredentialsMissing, c.opts.CredentialsFile))
			}
		default:
			c.logger.Warn("No credentials file configured. Falling back to application default credentials.")
		}
	}

	if has(models.StageUpload) && c.opts.Bucket == "" {
		errs = append(errs, ErrNoBucket)
	}

	for _, err := range errs {
		c.logger.Error("Preflight check failed", "error", err)
	}
	return errors.Join(errs...)
}

// Ghostscript resolves the Ghostscript binary, trying the configured name
// first and then the platform defaults.
func (c *Checker) Ghostscript() (string, error) {
	names := ghostscriptNames
	if c.opts.Ghostscript != "" {
		names = append([]string{c.opts.Ghostscript}, names...)
	}
	for _, n := range names {
		if p, err := c.lookPath(n); err == nil {
			return p, nil
		}
	}
	return "", ErrGhostscriptNotFound
}

func (c *Checker) checkRoot() error {
	info, err := os.Stat(c.opts.RootDir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrRootMissing, c.opts.RootDir)
	}
	probe, err := os.CreateTemp(c.opts.RootDir, ".docflow-preflight-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRootNotWritable, err)
	}
	name := probe.Name()
	probe.Close()
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("%w: %v", ErrRootNotWritable, err)
	}
	return nil
}
