package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/Lllllllleong/legaldocflow/internal/filestate"
	"github.com/Lllllllleong/legaldocflow/internal/models"
)

const (
	LedgerDir  = "_log"
	LedgerFile = "rename-ledger.json"

	compilationPrefix = "RR_"
)

var (
	datedPattern       = regexp.MustCompile(`^\d{8}_`)
	compilationPattern = regexp.MustCompile(`(?i)\bEx\.\s*P\d+|\bExhibit\b`)
	shortDatePattern   = regexp.MustCompile(`(\d{1,2})\.(\d{1,2})\.(\d{2})`)
	isoDatePattern     = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
	eightDigitDate     = regexp.MustCompile(`^(19|20)\d{6}$`)

	leadingNumber    = regexp.MustCompile(`^\d{1,4}\s*-\s*`)
	leadingShortDate = regexp.MustCompile(`^\d{1,2}\.\d{1,2}\.\d{2,4}\s*-\s*`)
	leadingISODate   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\s*-\s*`)
	timestamp        = regexp.MustCompile(`\d{2}-\d{2}T\d{2}-\d{2}`)
	anyShortDate     = regexp.MustCompile(`\d{1,2}\.\d{1,2}\.\d{2,4}`)
	anyISODate       = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	bracketedEmail   = regexp.MustCompile(`\[[\w.\-]+@[\w.\-]+\]`)
	sheetsDashed     = regexp.MustCompile(`(?i)\s*-\s*Google\s+Sheets\s*`)
	sheetsSpaced     = regexp.MustCompile(`(?i)\s+Google\s+Sheets\s*`)
	doubleDash       = regexp.MustCompile(`\s*-\s*-\s*`)
	multiSpace       = regexp.MustCompile(`\s{2,}`)
	spaceOrDash      = regexp.MustCompile(`[\s\-]+`)
	edgeUnderscores  = regexp.MustCompile(`^_+|_+$`)
	multiUnderscore  = regexp.MustCompile(`_{2,}`)
)

// CleanFilename drops dates, timestamps, bracketed e-mail addresses and
// spreadsheet app names from a base name and joins the remaining words
// with underscores.
func CleanFilename(name string) string {
	name = leadingNumber.ReplaceAllString(name, "")
	name = leadingShortDate.ReplaceAllString(name, "")
	name = leadingISODate.ReplaceAllString(name, "")
	name = timestamp.ReplaceAllString(name, "")
	name = anyShortDate.ReplaceAllString(name, "")
	name = anyISODate.ReplaceAllString(name, "")
	name = bracketedEmail.ReplaceAllString(name, "")
	name = sheetsDashed.ReplaceAllString(name, "")
	name = sheetsSpaced.ReplaceAllString(name, "")

	name = doubleDash.ReplaceAllString(name, "_")
	name = multiSpace.ReplaceAllString(name, " ")
	name = spaceOrDash.ReplaceAllString(name, "_")
	name = edgeUnderscores.ReplaceAllString(name, "")
	name = multiUnderscore.ReplaceAllString(name, "_")
	return name
}

// DateFromFilename finds an M.D.YY or YYYY-MM-DD date in name and returns
// it as YYYYMMDD, or "" when there is none.
func DateFromFilename(name string) string {
	if m := shortDatePattern.FindStringSubmatch(name); m != nil {
		return "20" + m[3] + pad2(m[1]) + pad2(m[2])
	}
	if m := isoDatePattern.FindStringSubmatch(name); m != nil {
		return m[1] + m[2] + m[3]
	}
	return ""
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// RenameLedger remembers which renamed file each original produced, so a
// re-run can tell a finished rename apart from a pending one without
// calling the model again.
type RenameLedger struct {
	path string

	mu      sync.Mutex
	entries map[string]string // original file name -> renamed file name
	used    map[string]bool
}

// LoadLedger reads the ledger kept under dir/_log. A missing ledger is empty.
func LoadLedger(dir string) (*RenameLedger, error) {
	l := &RenameLedger{
		path:    filepath.Join(dir, LedgerDir, LedgerFile),
		entries: make(map[string]string),
		used:    make(map[string]bool),
	}
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rename ledger: %w", err)
	}
	if err := json.Unmarshal(data, &l.entries); err != nil {
		return nil, fmt.Errorf("failed to parse rename ledger %s: %w", l.path, err)
	}
	for _, name := range l.entries {
		l.used[name] = true
	}
	return l, nil
}

// Lookup returns the renamed file recorded for an original.
func (l *RenameLedger) Lookup(original string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	name, ok := l.entries[original]
	return name, ok
}

// Claim reserves a unique renamed file name for original, adding _2, _3, ...
// before the suffix when the desired base is taken. taken reports names
// already present on disk. A base ending in a suffix token is first made
// safe with filestate.SafeBase.
func (l *RenameLedger) Claim(original, base string, taken func(name string) bool) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if name, ok := l.entries[original]; ok {
		return name
	}
	base = filestate.SafeBase(base)
	name := renamedName(base)
	for n := 2; l.used[name] || (taken != nil && taken(name)); n++ {
		name = renamedName(base + "_" + strconv.Itoa(n))
	}
	l.entries[original] = name
	l.used[name] = true
	return name
}

// Release forgets a claim whose copy failed.
func (l *RenameLedger) Release(original string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if name, ok := l.entries[original]; ok {
		delete(l.entries, original)
		delete(l.used, name)
	}
}

// Save writes the ledger atomically.
func (l *RenameLedger) Save() error {
	l.mu.Lock()
	data, err := json.MarshalIndent(l.entries, "", "  ")
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal rename ledger: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create ledger dir: %w", err)
	}
	return writeFileAtomic(l.path, data)
}

func renamedName(base string) string {
	return filepath.Base(filestate.PathFor("", base, models.StageRename))
}

// RenameFunction copies originals into the renamed directory under a
// date-prefixed, cleaned name.
type RenameFunction struct {
	outputDir string
	extractor MetadataExtractor
	ledger    *RenameLedger
	timeout   time.Duration
	logger    *slog.Logger

	// firstPage returns a one-page PDF of the document's first page.
	firstPage func(path string) ([]byte, error)
	saveMu    sync.Mutex
}

// NewRenameFunction loads the ledger of outputDir. extractor may be nil, in
// which case names without a date in them stay undated.
func NewRenameFunction(outputDir string, extractor MetadataExtractor, timeout time.Duration, logger *slog.Logger) (*RenameFunction, error) {
	ledger, err := LoadLedger(outputDir)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &RenameFunction{
		outputDir: outputDir,
		extractor: extractor,
		ledger:    ledger,
		timeout:   timeout,
		logger:    logger,
		firstPage: firstPagePDF,
	}, nil
}

// ExpectedOutput is known only once the ledger holds a decision.
func (f *RenameFunction) ExpectedOutput(doc models.Document) (string, bool) {
	name, ok := f.ledger.Lookup(filepath.Base(doc.Path))
	if !ok {
		return "", false
	}
	return filepath.Join(f.outputDir, name), true
}

func (f *RenameFunction) Process(ctx context.Context, job models.Job) error {
	src := job.Document.Path
	original := filepath.Base(src)
	logCtx := f.logger.With("file", original)

	base := f.targetBase(ctx, logCtx, job.Document.BaseName, src)
	if base == "" {
		return fmt.Errorf("%w: nothing left of %q after cleaning", models.ErrInvalidInput, job.Document.BaseName)
	}

	name := f.ledger.Claim(original, base, func(name string) bool {
		_, err := os.Stat(filepath.Join(f.outputDir, name))
		return err == nil
	})
	target := filepath.Join(f.outputDir, name)

	if err := copyFile(src, target); err != nil {
		f.ledger.Release(original)
		return fmt.Errorf("failed to copy to %s: %w", name, err)
	}

	f.saveMu.Lock()
	err := f.ledger.Save()
	f.saveMu.Unlock()
	if err != nil {
		logCtx.Error("Failed to save rename ledger", "error", err)
		return err
	}
	logCtx.Info("Rename complete.", "renamed", name)
	return nil
}

// targetBase picks the new base name (without suffix or counter).
func (f *RenameFunction) targetBase(ctx context.Context, logCtx *slog.Logger, original, path string) string {
	clean := CleanFilename(original)

	switch {
	case compilationPattern.MatchString(original):
		return compilationPrefix + clean
	case datedPattern.MatchString(original):
		return clean
	}

	date := DateFromFilename(original)
	if date == "" {
		date = f.dateFromContent(ctx, logCtx, path)
	}
	if date == "" {
		return clean
	}
	if clean == "" {
		return date
	}
	return date + "_" + clean
}

// dateFromContent asks the rename model for the document date. Failures
// only cost the date prefix.
func (f *RenameFunction) dateFromContent(ctx context.Context, logCtx *slog.Logger, path string) string {
	if f.extractor == nil {
		return ""
	}
	page, err := f.firstPage(path)
	if err != nil {
		logCtx.Warn("Failed to isolate first page, leaving name undated.", "error", err)
		return ""
	}
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	meta, err := f.extractor.ExtractMetadata(callCtx, page)
	if err != nil {
		logCtx.Warn("Metadata extraction failed, leaving name undated.", "error", err)
		return ""
	}
	if !eightDigitDate.MatchString(meta.Date) {
		logCtx.Info("Model found no usable date.", "date", meta.Date)
		return ""
	}
	return meta.Date
}

func firstPagePDF(path string) ([]byte, error) {
	tmp, err := os.CreateTemp("", "docflow-first-*.pdf")
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := api.TrimFile(path, tmpPath, []string{"1"}, pdfConfig()); err != nil {
		return nil, fmt.Errorf("failed to trim first page: %w", err)
	}
	return os.ReadFile(tmpPath)
}
