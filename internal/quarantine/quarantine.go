// Package quarantine is the dead-letter area for files that failed a stage.
// Nothing downstream reads from it; records stay until an operator retries
// or removes them.
package quarantine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/legaldocflow/internal/models"
)

// DirName is the quarantine root, relative to the pipeline root.
const DirName = "_failed"

const recordExt = ".error.json"

var ErrInvalidRecord = errors.New("invalid quarantine record")

// Sink copies failed inputs plus an error record into _failed/<stage>/.
// It is safe for concurrent use.
type Sink struct {
	root   string
	runID  string
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	claimed map[string]bool
	records []models.QuarantineRecord
}

// NewSink creates a sink rooted at <rootDir>/_failed.
func NewSink(rootDir, runID string, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		root:    filepath.Join(rootDir, DirName),
		runID:   runID,
		now:     time.Now,
		logger:  logger,
		claimed: make(map[string]bool),
	}
}

// Dir returns the quarantine directory of a stage.
func (s *Sink) Dir(stage models.Stage) string {
	return filepath.Join(s.root, stage.String())
}

// Quarantine copies inputPath into the stage's dead-letter directory and
// writes a sibling error record. An existing entry is never overwritten; a
// timestamp is appended to the name instead.
func (s *Sink) Quarantine(stage models.Stage, inputPath string, opErr error) (models.QuarantineRecord, error) {
	dir := s.Dir(stage)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return models.QuarantineRecord{}, fmt.Errorf("failed to create quarantine dir: %w", err)
	}

	now := s.now()
	name := s.claimName(dir, filepath.Base(inputPath), now)
	copyPath := filepath.Join(dir, name)

	rec := models.QuarantineRecord{
		File:       name,
		SourcePath: inputPath,
		Stage:      stage,
		InputDir:   filepath.Dir(inputPath),
		Timestamp:  now.UTC(),
		Category:   models.ErrorCategory(opErr),
		Message:    errMessage(opErr),
		RunID:      s.runID,
		CopyPath:   copyPath,
		RecordPath: copyPath + recordExt,
	}

	// A missing input still gets a record; the copy is best effort.
	if err := copyFile(inputPath, copyPath); err != nil {
		s.logger.Warn("Could not copy failed input into quarantine.", "file", inputPath, "error", err)
		rec.Message += fmt.Sprintf(" (input copy failed: %v)", err)
	}

	if err := writeRecord(rec); err != nil {
		return rec, err
	}

	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()

	s.logger.Warn("File quarantined.", "stage", stage.String(), "file", filepath.Base(inputPath), "category", rec.Category, "error", rec.Message)
	return rec, nil
}

// Records returns the records written by this sink, in write order.
func (s *Sink) Records() []models.QuarantineRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.QuarantineRecord, len(s.records))
	copy(out, s.records)
	return out
}

// claimName reserves a file name in dir that neither exists on disk nor was
// handed out earlier in this run.
func (s *Sink) claimName(dir, name string, now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidate := name
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	stamp := now.Format("20060102T150405")
	for i := 1; ; i++ {
		key := filepath.Join(dir, candidate)
		if !s.claimed[key] && !exists(key) && !exists(key+recordExt) {
			s.claimed[key] = true
			return candidate
		}
		if i == 1 {
			candidate = fmt.Sprintf("%s_%s%s", stem, stamp, ext)
		} else {
			candidate = fmt.Sprintf("%s_%s-%d%s", stem, stamp, i, ext)
		}
	}
}

// List reads every record under <rootDir>/_failed, sorted by stage then time.
func List(rootDir string) ([]models.QuarantineRecord, error) {
	pattern := filepath.Join(rootDir, DirName, "*", "*"+recordExt)
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	var out []models.QuarantineRecord
	for _, p := range paths {
		rec, err := ReadRecord(p)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stage != out[j].Stage {
			return out[i].Stage < out[j].Stage
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// ReadRecord loads one record file.
func ReadRecord(path string) (models.QuarantineRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.QuarantineRecord{}, fmt.Errorf("failed to read quarantine record: %w", err)
	}
	var rec models.QuarantineRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return models.QuarantineRecord{}, fmt.Errorf("%w: %s: %v", ErrInvalidRecord, path, err)
	}
	rec.RecordPath = path
	rec.CopyPath = strings.TrimSuffix(path, recordExt)
	return rec, nil
}

// Retry validates rec, moves the quarantined file back into the stage input
// directory under its original name, and removes the record. The next run of
// the stage picks it up again because its output does not exist.
func Retry(rec models.QuarantineRecord) (string, error) {
	if !rec.Stage.Valid() || rec.InputDir == "" || rec.SourcePath == "" {
		return "", fmt.Errorf("%w: missing stage or input location", ErrInvalidRecord)
	}
	if rec.CopyPath == "" || !exists(rec.CopyPath) {
		return "", fmt.Errorf("%w: quarantined copy %q not found", ErrInvalidRecord, rec.CopyPath)
	}
	if err := os.MkdirAll(rec.InputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create input dir: %w", err)
	}

	target := filepath.Join(rec.InputDir, filepath.Base(rec.SourcePath))
	if err := moveFile(rec.CopyPath, target); err != nil {
		return "", fmt.Errorf("failed to restore %s: %w", rec.File, err)
	}
	if err := os.Remove(rec.RecordPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return target, fmt.Errorf("failed to clear record: %w", err)
	}
	return target, nil
}

func writeRecord(rec models.QuarantineRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal quarantine record: %w", err)
	}
	f, err := os.OpenFile(rec.RecordPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create quarantine record: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write quarantine record: %w", err)
	}
	return f.Close()
}

func errMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Cross-device: copy then remove.
	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}
