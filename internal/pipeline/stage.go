package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Lllllllleong/legaldocflow/internal/filestate"
	"github.com/Lllllllleong/legaldocflow/internal/models"
)

// ErrSetup marks failures that abort the whole run.
var ErrSetup = errors.New("pipeline setup failed")

// SetupError is a violated stage precondition, such as a missing input
// directory. Unlike per-file failures it halts the orchestrator.
type SetupError struct {
	Stage models.Stage
	Err   error
}

func (e *SetupError) Error() string {
	if e.Stage.Valid() {
		return fmt.Sprintf("setup %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("setup: %v", e.Err)
}

func (e *SetupError) Unwrap() []error { return []error{ErrSetup, e.Err} }

// Operation is a stage's per-file unit of work. It owns its own timeouts.
type Operation interface {
	Process(ctx context.Context, job models.Job) error
}

// OperationFunc adapts a function to Operation.
type OperationFunc func(ctx context.Context, job models.Job) error

func (f OperationFunc) Process(ctx context.Context, job models.Job) error { return f(ctx, job) }

// OutputResolver lets an operation replace the default expected-output rule,
// e.g. when the output name depends on a previous run's decision.
type OutputResolver interface {
	ExpectedOutput(doc models.Document) (path string, known bool)
}

// Finisher is implemented by operations that write a stage-level artifact
// after every file has been handled.
type Finisher interface {
	Finish(ctx context.Context, report *models.StageReport) error
}

// StageSpec binds a stage to its directories, operation and pool.
type StageSpec struct {
	Stage     models.Stage
	InputDir  string
	OutputDir string
	Operation Operation
	Pool      *Pool
}

// NewStageSpec fills directories from the layout.
func NewStageSpec(layout Layout, stage models.Stage, op Operation, pool *Pool) StageSpec {
	return StageSpec{
		Stage:     stage,
		InputDir:  layout.InputDir(stage),
		OutputDir: layout.OutputDir(stage),
		Operation: op,
		Pool:      pool,
	}
}

// ExpectedOutput returns where a document's output for this stage will
// live. known is false for stages that produce no resumable local file.
func (s StageSpec) ExpectedOutput(doc models.Document) (string, bool) {
	if r, ok := s.Operation.(OutputResolver); ok {
		return r.ExpectedOutput(doc)
	}
	if s.OutputDir == "" {
		return "", false
	}
	if _, ok := filestate.TokenFor(s.Stage); !ok {
		return "", false
	}
	return filestate.PathFor(s.OutputDir, doc.BaseName, s.Stage), true
}

// Discover lists the stage's input documents. Names beginning with "_" or
// "." are never inputs. A missing input directory is a setup error.
func Discover(spec StageSpec) ([]models.Document, error) {
	entries, err := os.ReadDir(spec.InputDir)
	if err != nil {
		return nil, &SetupError{Stage: spec.Stage, Err: fmt.Errorf("input directory: %w", err)}
	}

	token, ext := InputToken(spec.Stage)
	var docs []models.Document
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}
		if !strings.EqualFold(filepath.Ext(name), ext) {
			continue
		}
		if token != "" {
			if got, ok := filestate.DeriveSuffix(name); !ok || got != token {
				continue
			}
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(spec.InputDir, name)
		doc := filestate.Parse(path)
		doc.SourcePath = path
		doc.Size = info.Size()
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}
