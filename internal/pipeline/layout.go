package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Lllllllleong/legaldocflow/internal/filestate"
	"github.com/Lllllllleong/legaldocflow/internal/models"
)

// Directory names under the pipeline root.
const (
	DirOriginal = "01_doc-original"
	DirRenamed  = "02_doc-renamed"
	DirClean    = "03_doc-clean"
	DirConvert  = "04_doc-convert"
	DirFormat   = "05_doc-format"
	DirLogs     = "y_logs"
)

// Layout resolves stage directories under one root.
type Layout struct {
	Root string
}

// InputDir is where a stage reads its inputs.
func (l Layout) InputDir(stage models.Stage) string {
	switch stage {
	case models.StageDirectory:
		return l.Root
	case models.StageRename:
		return filepath.Join(l.Root, DirOriginal)
	case models.StageClean:
		return filepath.Join(l.Root, DirRenamed)
	case models.StageConvert, models.StageUpload:
		return filepath.Join(l.Root, DirClean)
	case models.StageFormat:
		return filepath.Join(l.Root, DirConvert)
	case models.StageVerify:
		return filepath.Join(l.Root, DirFormat)
	}
	return ""
}

// OutputDir is where a stage writes. Stages without local output return "".
func (l Layout) OutputDir(stage models.Stage) string {
	switch stage {
	case models.StageDirectory:
		return filepath.Join(l.Root, DirOriginal)
	case models.StageRename:
		return filepath.Join(l.Root, DirRenamed)
	case models.StageClean:
		return filepath.Join(l.Root, DirClean)
	case models.StageConvert:
		return filepath.Join(l.Root, DirConvert)
	case models.StageFormat:
		return filepath.Join(l.Root, DirFormat)
	}
	return ""
}

// LogDir holds run reports and verification artifacts.
func (l Layout) LogDir() string {
	return filepath.Join(l.Root, DirLogs)
}

// InputToken is the suffix token a stage's inputs must carry. The directory
// stage accepts any PDF in the root.
func InputToken(stage models.Stage) (token, ext string) {
	switch stage {
	case models.StageDirectory:
		return "", ".pdf"
	case models.StageRename:
		return filestate.TokenOriginal, ".pdf"
	case models.StageClean:
		return filestate.TokenRenamed, ".pdf"
	case models.StageConvert, models.StageUpload:
		return filestate.TokenCleaned, ".pdf"
	case models.StageFormat:
		return filestate.TokenConverted, ".txt"
	case models.StageVerify:
		return filestate.TokenFormatted, ".txt"
	}
	return "", ""
}

// EnsureDirs creates every pipeline directory that does not exist yet.
func (l Layout) EnsureDirs() error {
	dirs := []string{DirOriginal, DirRenamed, DirClean, DirConvert, DirFormat, DirLogs}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(l.Root, d), 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", d, err)
		}
	}
	return nil
}
