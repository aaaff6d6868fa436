package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/legaldocflow/internal/models"
)

// recorder logs the order in which stages touch files.
type recorder struct {
	mu     sync.Mutex
	events []models.Stage
}

func (r *recorder) op(stage models.Stage, body string) Operation {
	return OperationFunc(func(_ context.Context, job models.Job) error {
		r.mu.Lock()
		r.events = append(r.events, stage)
		r.mu.Unlock()
		return os.WriteFile(job.OutputPath, []byte(body), 0o644)
	})
}

type fakePreflight struct {
	err    error
	stages []models.Stage
}

func (f *fakePreflight) Check(_ context.Context, stages []models.Stage) error {
	f.stages = stages
	return f.err
}

type fakePublisher struct{ got *models.RunReport }

func (f *fakePublisher) Publish(_ context.Context, r models.RunReport) error {
	f.got = &r
	return errors.New("firestore unavailable")
}

type answer bool

func (a answer) Continue(models.Stage, models.StageReport) bool { return bool(a) }

func seedRenamed(t *testing.T, root string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		writeInput(t, filepath.Join(root, DirRenamed), fmt.Sprintf("doc%d_r.pdf", i), "ok")
	}
}

func TestOrchestrator_RunsStagesInPipelineOrder(t *testing.T) {
	root := t.TempDir()
	seedRenamed(t, root, 3)
	layout := Layout{Root: root}
	rec := &recorder{}
	pf := &fakePreflight{}
	pub := &fakePublisher{}

	o := NewOrchestrator(OrchestratorConfig{
		Layout: layout,
		RunID:  "run-1",
		Stages: []StageSpec{
			NewStageSpec(layout, models.StageClean, rec.op(models.StageClean, "%PDF"), NewCPUPool(2, 0)),
			NewStageSpec(layout, models.StageConvert, rec.op(models.StageConvert, "text"), NewIOPool(2)),
		},
		Preflight:  pf,
		Publishers: []Publisher{pub},
	})

	report, err := o.Run(context.Background(), []models.Stage{models.StageConvert, models.StageClean, models.StageConvert})
	require.NoError(t, err)

	assert.Equal(t, []models.Stage{models.StageClean, models.StageConvert}, pf.stages)
	assert.Equal(t, []models.Stage{models.StageClean, models.StageConvert}, report.Stages)
	require.Len(t, rec.events, 6)
	for i, s := range rec.events {
		if i < 3 {
			assert.Equal(t, models.StageClean, s)
		} else {
			assert.Equal(t, models.StageConvert, s)
		}
	}
	require.Len(t, report.Reports, 2)
	assert.Equal(t, 3, report.Reports[1].Processed)
	assert.FileExists(t, filepath.Join(root, DirConvert, "doc0_c.txt"))

	// Publisher errors are not fatal and it still sees the report.
	require.NotNil(t, pub.got)
	assert.Equal(t, "run-1", pub.got.RunID)

	matches, err := filepath.Glob(filepath.Join(root, DirLogs, "run_*_run-1.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	var persisted models.RunReport
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.Equal(t, report.Stages, persisted.Stages)
}

func TestOrchestrator_PreflightFailureRunsNothing(t *testing.T) {
	root := t.TempDir()
	seedRenamed(t, root, 2)
	layout := Layout{Root: root}
	rec := &recorder{}

	o := NewOrchestrator(OrchestratorConfig{
		Layout:    layout,
		RunID:     "run-1",
		Stages:    []StageSpec{NewStageSpec(layout, models.StageClean, rec.op(models.StageClean, "x"), NewCPUPool(1, 0))},
		Preflight: &fakePreflight{err: errors.New("ocrmypdf not found on PATH")},
	})

	report, err := o.Run(context.Background(), []models.Stage{models.StageClean})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSetup)
	assert.Contains(t, err.Error(), "ocrmypdf")
	assert.Empty(t, rec.events)
	assert.Empty(t, report.Reports)
	assert.NoDirExists(t, filepath.Join(root, DirClean))
}

func TestOrchestrator_UnconfiguredStage(t *testing.T) {
	o := NewOrchestrator(OrchestratorConfig{Layout: Layout{Root: t.TempDir()}, RunID: "r"})
	_, err := o.Run(context.Background(), []models.Stage{models.StageFormat})
	assert.ErrorIs(t, err, ErrSetup)

	_, err = o.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrSetup)
}

func TestOrchestrator_SetupErrorHaltsLaterStages(t *testing.T) {
	root := t.TempDir()
	layout := Layout{Root: root}
	rec := &recorder{}

	spec := NewStageSpec(layout, models.StageClean, rec.op(models.StageClean, "x"), NewCPUPool(1, 0))
	spec.InputDir = filepath.Join(root, "does-not-exist")
	o := NewOrchestrator(OrchestratorConfig{
		Layout: layout,
		RunID:  "run-1",
		Stages: []StageSpec{
			spec,
			NewStageSpec(layout, models.StageConvert, rec.op(models.StageConvert, "x"), NewIOPool(1)),
		},
	})

	report, err := o.Run(context.Background(), []models.Stage{models.StageClean, models.StageConvert})
	require.Error(t, err)
	var se *SetupError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, models.StageClean, se.Stage)
	assert.Len(t, report.Reports, 1)
	assert.Empty(t, rec.events)
}

func interruptingSetup(t *testing.T, prompter Prompter) (*Orchestrator, *recorder) {
	t.Helper()
	root := t.TempDir()
	seedRenamed(t, root, 4)
	layout := Layout{Root: root}
	rec := &recorder{}

	slowClean := OperationFunc(func(ctx context.Context, job models.Job) error {
		time.Sleep(30 * time.Millisecond)
		return rec.op(models.StageClean, "x").Process(ctx, job)
	})

	interrupts := make(chan struct{}, 1)
	interrupts <- struct{}{}
	o := NewOrchestrator(OrchestratorConfig{
		Layout: layout,
		RunID:  "run-1",
		Stages: []StageSpec{
			NewStageSpec(layout, models.StageClean, slowClean, NewIOPool(1)),
			NewStageSpec(layout, models.StageConvert, rec.op(models.StageConvert, "x"), NewIOPool(1)),
		},
		Prompter:   prompter,
		Interrupts: interrupts,
	})
	return o, rec
}

func TestOrchestrator_InterruptStopsWhenOperatorDeclines(t *testing.T) {
	o, rec := interruptingSetup(t, answer(false))

	report, err := o.Run(context.Background(), []models.Stage{models.StageClean, models.StageConvert})
	require.NoError(t, err)
	assert.True(t, report.Interrupted)
	require.Len(t, report.Reports, 1)

	clean := report.Reports[0]
	assert.Positive(t, clean.Pending)
	assert.Equal(t, 4, clean.Processed+clean.Pending)
	assert.NotContains(t, rec.events, models.StageConvert)
}

func TestOrchestrator_InterruptContinuesWhenOperatorAgrees(t *testing.T) {
	o, _ := interruptingSetup(t, answer(true))

	report, err := o.Run(context.Background(), []models.Stage{models.StageClean, models.StageConvert})
	require.NoError(t, err)
	assert.True(t, report.Interrupted)
	require.Len(t, report.Reports, 2)
	assert.Zero(t, report.Reports[1].Pending)
	assert.Equal(t, report.Reports[0].Processed, report.Reports[1].Processed)
}
