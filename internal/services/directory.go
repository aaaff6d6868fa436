package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Lllllllleong/legaldocflow/internal/models"
)

// DuplicateDir collects inputs whose bytes match a document already in the
// originals directory.
const DuplicateDir = "_duplicate"

// DirectoryFunction moves loose PDFs from the case root into the originals
// directory under their _d name. Two different inputs that map to the same
// _d name never replace each other: the later one fails and is quarantined.
type DirectoryFunction struct {
	logger *slog.Logger

	once    sync.Once
	mu      sync.Mutex
	hashes  map[string]string // content hash -> file name in the originals dir
	targets map[string]bool   // file names taken in the originals dir
}

func NewDirectoryFunction(logger *slog.Logger) *DirectoryFunction {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectoryFunction{logger: logger}
}

func (f *DirectoryFunction) Process(_ context.Context, job models.Job) error {
	src := job.Document.Path
	logCtx := f.logger.With("file", filepath.Base(src))
	if job.OutputPath == "" {
		return fmt.Errorf("%w: no output path for %s", models.ErrInvalidInput, src)
	}

	f.once.Do(func() { f.indexExisting(job.OutputDir) })

	hash, err := fileHash(src)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrInvalidInput, err)
	}

	// Claim the hash and the target name before moving so two inputs racing
	// in the pool cannot both land on the same file.
	target := filepath.Base(job.OutputPath)
	f.mu.Lock()
	existing, dup := f.hashes[hash]
	if !dup {
		if f.targets[target] {
			f.mu.Unlock()
			return fmt.Errorf("%w: %w: %s", models.ErrInvalidInput, ErrTargetExists, target)
		}
		f.hashes[hash] = target
		f.targets[target] = true
	}
	f.mu.Unlock()

	if dup {
		dupDir := filepath.Join(job.OutputDir, DuplicateDir)
		if err := os.MkdirAll(dupDir, 0o755); err != nil {
			return fmt.Errorf("failed to create duplicate dir: %w", err)
		}
		dupTarget := filepath.Join(dupDir, filepath.Base(src))
		if err := moveNoClobber(src, dupTarget); err != nil {
			if errors.Is(err, ErrTargetExists) {
				return fmt.Errorf("%w: failed to move duplicate: %w", models.ErrInvalidInput, err)
			}
			return fmt.Errorf("failed to move duplicate: %w", err)
		}
		logCtx.Warn("Duplicate content, set aside.", "duplicateOf", existing, "target", dupTarget)
		return nil
	}

	if err := moveNoClobber(src, job.OutputPath); err != nil {
		f.mu.Lock()
		delete(f.hashes, hash)
		if !errors.Is(err, ErrTargetExists) {
			delete(f.targets, target)
		}
		f.mu.Unlock()
		if errors.Is(err, ErrTargetExists) {
			return fmt.Errorf("%w: %w", models.ErrInvalidInput, err)
		}
		return fmt.Errorf("failed to move to %s: %w", job.OutputPath, err)
	}
	logCtx.Info("Moved to originals.", "target", target)
	return nil
}

func (f *DirectoryFunction) indexExisting(dir string) {
	f.hashes = make(map[string]string)
	f.targets = make(map[string]bool)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}
		f.targets[name] = true
		if !strings.EqualFold(filepath.Ext(name), ".pdf") {
			continue
		}
		hash, err := fileHash(filepath.Join(dir, name))
		if err != nil {
			f.logger.Warn("Failed to hash existing original", "file", name, "error", err)
			continue
		}
		f.hashes[hash] = name
	}
}

func fileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
