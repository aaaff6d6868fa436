package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/legaldocflow/internal/filestate"
	"github.com/Lllllllleong/legaldocflow/internal/models"
	"github.com/Lllllllleong/legaldocflow/internal/verify"
)

// VerifyDirs are the directories the verifier reads besides its input.
type VerifyDirs struct {
	Renamed string
	Clean   string
	Convert string
	Logs    string
}

// VerifyFunction scores every formatted text against its source PDF and the
// raw extraction, and writes the verification report when the stage ends.
// Verdicts are advisory: a failing verdict is not an operation error.
type VerifyFunction struct {
	dirs      VerifyDirs
	config    verify.Config
	publicURL func(pdfName string) string
	pages     PageCounter
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	verdicts []models.VerificationVerdict
	manifest []verify.ManifestRow
	errs     map[string]string
	written  []string
}

// NewVerifyFunction builds the verify stage. publicURL, when set, gives the
// link each header must carry for a cleaned PDF name.
func NewVerifyFunction(dirs VerifyDirs, cfg verify.Config, publicURL func(string) string, logger *slog.Logger) *VerifyFunction {
	if logger == nil {
		logger = slog.Default()
	}
	return &VerifyFunction{
		dirs:      dirs,
		config:    cfg,
		publicURL: publicURL,
		pages:     CountPages,
		logger:    logger,
		now:       time.Now,
		errs:      make(map[string]string),
	}
}

func (f *VerifyFunction) Process(_ context.Context, job models.Job) error {
	name := filepath.Base(job.Document.Path)
	base := job.Document.BaseName
	logCtx := f.logger.With("file", name)

	pdfPath := filestate.PathFor(f.dirs.Clean, base, models.StageClean)
	pageCount, err := f.pages(pdfPath)
	if err != nil {
		f.recordError(name, "source pdf unreadable: "+err.Error())
		return fmt.Errorf("%w: source pdf %s: %w", models.ErrVerify, filepath.Base(pdfPath), err)
	}

	formattedRaw, err := os.ReadFile(job.Document.Path)
	if err != nil {
		f.recordError(name, err.Error())
		return fmt.Errorf("%w: %w", models.ErrVerify, err)
	}
	formatted := bodyOf(string(formattedRaw))

	// The raw extraction is optional; without it similarity is not scored.
	var extracted string
	if raw, err := os.ReadFile(filestate.PathFor(f.dirs.Convert, base, models.StageConvert)); err == nil {
		extracted = bodyOf(string(raw))
	} else {
		logCtx.Warn("No converted text to compare against.", "error", err)
	}

	v := verify.Verify(verify.Source{File: name, PDFPath: pdfPath, Pages: pageCount}, extracted, formatted, f.config)
	if issues := f.headerIssues(string(formattedRaw), job.RootDir, filepath.Base(pdfPath)); len(issues) > 0 {
		v.Issues = append(v.Issues, issues...)
		v.Status = v.Status.Worst(models.VerdictWarning)
	}

	row := verify.ManifestRow{
		File:      filepath.Base(pdfPath),
		URL:       PublicLink(string(formattedRaw)),
		LocalPath: pdfPath,
		Pages:     pageCount,
		Markers:   v.ObservedMarkers,
		Status:    v.Status,
		Issues:    v.Issues,
	}
	if info, err := os.Stat(pdfPath); err == nil {
		row.Bytes = info.Size()
		row.ReductionPct = f.reduction(base, info.Size())
	}

	f.mu.Lock()
	f.verdicts = append(f.verdicts, v)
	f.manifest = append(f.manifest, row)
	f.mu.Unlock()

	logCtx.Info("Verify complete.", "status", v.Status.String(), "similarity", v.Similarity, "markers", v.ObservedMarkers, "pages", pageCount)
	return nil
}

// headerIssues checks the directory and public link lines of the header.
// The directory is compared only when rootDir is known, the link only when
// a publicURL func was given.
func (f *VerifyFunction) headerIssues(text, rootDir, pdfName string) []string {
	var issues []string

	dir, ok := HeaderValue(text, directoryKey)
	switch {
	case !ok:
		issues = append(issues, "missing PDF DIRECTORY header")
	case rootDir != "" && dir != filepath.Base(rootDir):
		issues = append(issues, fmt.Sprintf("PDF DIRECTORY mismatch: expected %q, found %q", filepath.Base(rootDir), dir))
	}

	link, ok := HeaderValue(text, publicLinkKey)
	switch {
	case !ok:
		issues = append(issues, "missing PDF PUBLIC LINK header")
	case link == PendingLink || link == "":
		issues = append(issues, "public link is "+PendingLink)
	case !strings.HasPrefix(link, PublicURLPrefix):
		issues = append(issues, "public link not in public format: "+link)
	case f.publicURL != nil && link != f.publicURL(pdfName):
		issues = append(issues, fmt.Sprintf("public link mismatch: header has %q, expected %q", link, f.publicURL(pdfName)))
	}
	return issues
}

// reduction compares the cleaned PDF with the renamed one it came from.
func (f *VerifyFunction) reduction(base string, cleanedSize int64) *float64 {
	if f.dirs.Renamed == "" {
		return nil
	}
	info, err := os.Stat(filestate.PathFor(f.dirs.Renamed, base, models.StageRename))
	if err != nil || info.Size() == 0 {
		return nil
	}
	pct := 100 * float64(info.Size()-cleanedSize) / float64(info.Size())
	return &pct
}

func (f *VerifyFunction) recordError(file, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[file] = msg
}

// Verdicts returns the verdicts gathered so far, ordered by file.
func (f *VerifyFunction) Verdicts() []models.VerificationVerdict {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]models.VerificationVerdict(nil), f.verdicts...)
	sort.Slice(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out
}

// Report assembles the verification report from everything seen so far.
func (f *VerifyFunction) Report() verify.Report {
	verdicts := f.Verdicts()
	f.mu.Lock()
	defer f.mu.Unlock()
	manifest := append([]verify.ManifestRow(nil), f.manifest...)
	sort.Slice(manifest, func(i, j int) bool { return manifest[i].File < manifest[j].File })
	errs := make(map[string]string, len(f.errs))
	for k, v := range f.errs {
		errs[k] = v
	}
	return verify.Report{Generated: f.now(), Verdicts: verdicts, Manifest: manifest, Errors: errs}
}

// Finish writes the text report and CSV manifest to the log directory.
func (f *VerifyFunction) Finish(_ context.Context, stage *models.StageReport) error {
	report := f.Report()
	if len(report.Verdicts) == 0 && len(report.Errors) == 0 {
		return nil
	}
	reportPath, manifestPath, err := report.Write(f.dirs.Logs)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.written = []string{reportPath, manifestPath}
	f.mu.Unlock()

	ok, warning, fail := report.Counts()
	f.logger.Info("Verification report written.",
		"report", reportPath,
		"manifest", manifestPath,
		"ok", ok, "warning", warning, "fail", fail,
		"notVerified", stage.Failed)
	return nil
}

// Written lists the artifacts of the last Finish.
func (f *VerifyFunction) Written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

// bodyOf strips the template when present so header lines do not count
// toward length or similarity.
func bodyOf(text string) string {
	if _, body, _, err := SplitDocument(text); err == nil {
		return body
	}
	return strings.TrimSpace(text)
}
