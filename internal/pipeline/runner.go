package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/Lllllllleong/legaldocflow/internal/models"
	"github.com/Lllllllleong/legaldocflow/internal/quarantine"
)

// reportAggregator collects per-file outcomes from concurrent workers.
type reportAggregator struct {
	mu     sync.Mutex
	report models.StageReport
}

func newReportAggregator(stage models.Stage, started time.Time) *reportAggregator {
	return &reportAggregator{report: models.StageReport{Stage: stage, Started: started}}
}

func (a *reportAggregator) addProcessed() {
	a.mu.Lock()
	a.report.Processed++
	a.mu.Unlock()
}

func (a *reportAggregator) addSkipped() {
	a.mu.Lock()
	a.report.Skipped++
	a.mu.Unlock()
}

func (a *reportAggregator) addFailed(file string, err error) {
	a.mu.Lock()
	a.report.Failed++
	a.report.Failures = append(a.report.Failures, models.FailedFile{
		File:     file,
		Category: models.ErrorCategory(err),
		Message:  err.Error(),
	})
	a.mu.Unlock()
}

func (a *reportAggregator) snapshot(pending int, finished time.Time) models.StageReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.report
	r.Pending = pending
	r.Finished = finished
	r.Failures = append([]models.FailedFile(nil), a.report.Failures...)
	sort.Slice(r.Failures, func(i, j int) bool { return r.Failures[i].File < r.Failures[j].File })
	return r
}

// Runner executes one stage over its inputs: discover, filter already-done
// work, dispatch to the pool, quarantine failures and report.
type Runner struct {
	rootDir      string
	runID        string
	sink         *quarantine.Sink
	logger       *slog.Logger
	showProgress bool
	now          func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithProgress renders a progress bar on stderr per stage.
func WithProgress(show bool) RunnerOption {
	return func(r *Runner) { r.showProgress = show }
}

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner builds a Runner that quarantines failures into sink.
func NewRunner(rootDir, runID string, sink *quarantine.Sink, opts ...RunnerOption) *Runner {
	r := &Runner{
		rootDir: rootDir,
		runID:   runID,
		sink:    sink,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes every pending input of spec. Per-file failures never abort
// the stage; only setup problems are returned as errors. Cancelling ctx
// stops submission of new files, lets in-flight files finish and counts the
// remainder as pending.
func (r *Runner) Run(ctx context.Context, spec StageSpec) (models.StageReport, error) {
	started := r.now()
	logCtx := r.logger.With("stage", spec.Stage.String())

	if spec.Operation == nil || spec.Pool == nil {
		return models.StageReport{Stage: spec.Stage, Started: started},
			&SetupError{Stage: spec.Stage, Err: errors.New("stage has no operation or pool")}
	}

	docs, err := Discover(spec)
	if err != nil {
		return models.StageReport{Stage: spec.Stage, Started: started, Finished: r.now()}, err
	}
	if spec.OutputDir != "" {
		if err := os.MkdirAll(spec.OutputDir, 0o755); err != nil {
			return models.StageReport{Stage: spec.Stage, Started: started, Finished: r.now()},
				&SetupError{Stage: spec.Stage, Err: fmt.Errorf("failed to create output directory: %w", err)}
		}
	}

	agg := newReportAggregator(spec.Stage, started)
	filter := newResumeFilter(spec, agg)

	type pendingJob struct {
		doc    models.Document
		output string
	}
	byKey := make(map[string]pendingJob, len(docs))
	items := make([]Item, 0, len(docs))
	for _, doc := range docs {
		keep, out := filter.Keep(doc)
		if !keep {
			logCtx.Debug("Skipping, output exists", "file", doc.Path, "output", out)
			continue
		}
		byKey[doc.Path] = pendingJob{doc: doc, output: out}
		items = append(items, Item{Key: doc.Path, Size: doc.Size})
	}

	logCtx.Info("Stage starting",
		"inputs", len(docs),
		"pending", len(items),
		"policy", spec.Pool.Policy().String(),
		"workers", spec.Pool.Workers())

	progress := newProgress(r.showProgress, spec.Stage, len(items))

	submitted := spec.Pool.Run(ctx, items, func(it Item) {
		pj := byKey[it.Key]
		job := models.Job{
			Stage:      spec.Stage,
			Document:   pj.doc,
			OutputDir:  spec.OutputDir,
			OutputPath: pj.output,
			RootDir:    r.rootDir,
			RunID:      r.runID,
			StartedAt:  r.now(),
		}
		r.process(ctx, spec, job, agg, logCtx)
		progress.Add(1)
	})
	progress.Finish()

	report := agg.snapshot(len(items)-submitted, r.now())

	if f, ok := spec.Operation.(Finisher); ok {
		if err := f.Finish(context.WithoutCancel(ctx), &report); err != nil {
			logCtx.Error("Stage finisher failed", "error", err)
		}
	}

	logCtx.Info("Stage finished",
		"processed", report.Processed,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"pending", report.Pending,
		"duration", report.Finished.Sub(report.Started).String())
	return report, nil
}

// process runs one job. Once submitted, a job runs to completion even if the
// run is interrupted, so the operation gets a context without cancellation.
func (r *Runner) process(ctx context.Context, spec StageSpec, job models.Job, agg *reportAggregator, logCtx *slog.Logger) {
	fileLog := logCtx.With("file", job.Document.Path)

	err := func() (err error) {
		defer func() {
			if v := recover(); v != nil {
				err = models.PanicError(v)
			}
		}()
		return spec.Operation.Process(context.WithoutCancel(ctx), job)
	}()

	if err == nil {
		agg.addProcessed()
		fileLog.Debug("Processed")
		return
	}

	opErr := &models.OperationError{Stage: spec.Stage, File: job.Document.Path, Err: err}
	agg.addFailed(job.Document.Path, err)
	fileLog.Error("Operation failed", "category", opErr.Category(), "error", err)

	if r.sink == nil {
		return
	}
	if _, qErr := r.sink.Quarantine(spec.Stage, job.Document.Path, opErr); qErr != nil {
		fileLog.Error("Failed to quarantine file", "error", qErr)
	}
}
