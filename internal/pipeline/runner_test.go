package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/legaldocflow/internal/models"
	"github.com/Lllllllleong/legaldocflow/internal/quarantine"
)

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// fakeClean copies the input to the job's output path and rejects anything
// whose content says "corrupt".
type fakeClean struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeClean) Process(_ context.Context, job models.Job) error {
	f.mu.Lock()
	f.calls = append(f.calls, filepath.Base(job.Document.Path))
	f.mu.Unlock()

	data, err := os.ReadFile(job.Document.Path)
	if err != nil {
		return err
	}
	if strings.Contains(string(data), "corrupt") {
		return fmt.Errorf("pdf structure unreadable: %w", models.ErrInvalidInput)
	}
	return os.WriteFile(job.OutputPath, data, 0o644)
}

func cleanSpec(root string, op Operation) StageSpec {
	return NewStageSpec(Layout{Root: root}, models.StageClean, op, NewCPUPool(2, DefaultLargeFileThreshold))
}

func TestRunner_IsolatesFailuresAndQuarantines(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, DirRenamed)
	for i := 1; i <= 4; i++ {
		writeInput(t, in, fmt.Sprintf("20240101_Case_%d_r.pdf", i), "%PDF-1.7 ok")
	}
	writeInput(t, in, "20240101_Case_5_r.pdf", "corrupt")

	sink := quarantine.NewSink(root, "run-1", nil)
	op := &fakeClean{}
	report, err := NewRunner(root, "run-1", sink).Run(context.Background(), cleanSpec(root, op))
	require.NoError(t, err)

	assert.Equal(t, models.StageClean, report.Stage)
	assert.Equal(t, 4, report.Processed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Skipped)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "invalid-input", report.Failures[0].Category)

	for i := 1; i <= 4; i++ {
		assert.FileExists(t, filepath.Join(root, DirClean, fmt.Sprintf("20240101_Case_%d_o.pdf", i)))
	}

	records, err := quarantine.List(root)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.StageClean, records[0].Stage)
	assert.Equal(t, "20240101_Case_5_r.pdf", records[0].File)
}

func TestRunner_ResumeSkipsExistingOutputs(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, DirRenamed)
	for i := 1; i <= 3; i++ {
		writeInput(t, in, fmt.Sprintf("doc%d_r.pdf", i), "ok")
	}
	// Already done in an earlier run.
	writeInput(t, filepath.Join(root, DirClean), "doc2_o.pdf", "ok")

	op := &fakeClean{}
	report, err := NewRunner(root, "run-1", nil).Run(context.Background(), cleanSpec(root, op))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Skipped)
	assert.NotContains(t, op.calls, "doc2_r.pdf")

	// A second run finds everything done.
	op = &fakeClean{}
	report, err = NewRunner(root, "run-2", nil).Run(context.Background(), cleanSpec(root, op))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Processed)
	assert.Equal(t, 3, report.Skipped)
	assert.Empty(t, op.calls)
}

func TestRunner_IgnoresHiddenAndUnderscoreNames(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, DirRenamed)
	writeInput(t, in, "keep_r.pdf", "ok")
	writeInput(t, in, "_scratch_r.pdf", "ok")
	writeInput(t, in, ".hidden_r.pdf", "ok")
	writeInput(t, in, "wrongstage_d.pdf", "ok")
	writeInput(t, in, "notes.txt", "ok")
	require.NoError(t, os.MkdirAll(filepath.Join(in, "_log"), 0o755))

	op := &fakeClean{}
	report, err := NewRunner(root, "run-1", nil).Run(context.Background(), cleanSpec(root, op))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, []string{"keep_r.pdf"}, op.calls)
}

func TestRunner_RecoversPanics(t *testing.T) {
	root := t.TempDir()
	writeInput(t, filepath.Join(root, DirRenamed), "boom_r.pdf", "ok")

	sink := quarantine.NewSink(root, "run-1", nil)
	op := OperationFunc(func(context.Context, models.Job) error { panic("nil page tree") })
	report, err := NewRunner(root, "run-1", sink).Run(context.Background(), cleanSpec(root, op))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, "panic", report.Failures[0].Category)
	assert.Len(t, sink.Records(), 1)
}

func TestRunner_MissingInputDirIsSetupError(t *testing.T) {
	root := t.TempDir()
	_, err := NewRunner(root, "run-1", nil).Run(context.Background(), cleanSpec(root, &fakeClean{}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSetup))

	var se *SetupError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, models.StageClean, se.Stage)
}

func TestRunner_CancelledBeforeStartLeavesAllPending(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, DirRenamed)
	for i := 0; i < 3; i++ {
		writeInput(t, in, fmt.Sprintf("doc%d_r.pdf", i), "ok")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	op := &fakeClean{}
	report, err := NewRunner(root, "run-1", nil).Run(ctx, cleanSpec(root, op))
	require.NoError(t, err)
	assert.Equal(t, 3, report.Pending)
	assert.Equal(t, 0, report.Processed)
	assert.Equal(t, 3, report.Total())
	assert.Empty(t, op.calls)
}

type finishingOp struct {
	fakeClean
	finished *models.StageReport
}

func (f *finishingOp) Finish(_ context.Context, r *models.StageReport) error {
	cp := *r
	f.finished = &cp
	return nil
}

func TestRunner_CallsFinisherWithReport(t *testing.T) {
	root := t.TempDir()
	writeInput(t, filepath.Join(root, DirRenamed), "a_r.pdf", "ok")

	op := &finishingOp{}
	_, err := NewRunner(root, "run-1", nil).Run(context.Background(), cleanSpec(root, op))
	require.NoError(t, err)
	require.NotNil(t, op.finished)
	assert.Equal(t, 1, op.finished.Processed)
}
