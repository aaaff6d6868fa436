package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Lllllllleong/legaldocflow/internal/models"
	"github.com/Lllllllleong/legaldocflow/internal/quarantine"
)

// Preflight validates the environment for the selected stages before any
// stage runs.
type Preflight interface {
	Check(ctx context.Context, stages []models.Stage) error
}

// Prompter asks the operator whether to continue after an interrupted stage.
type Prompter interface {
	Continue(after models.Stage, report models.StageReport) bool
}

// Publisher receives the finished run report, e.g. a Firestore mirror or a
// post-run workflow trigger. Publish failures are logged, never fatal.
type Publisher interface {
	Publish(ctx context.Context, report models.RunReport) error
}

// VerdictSource is implemented by operations that produce verification
// verdicts for the run report.
type VerdictSource interface {
	Verdicts() []models.VerificationVerdict
}

// Orchestrator runs a selection of stages in pipeline order.
type Orchestrator struct {
	layout     Layout
	runID      string
	stages     map[models.Stage]StageSpec
	runner     *Runner
	sink       *quarantine.Sink
	preflight  Preflight
	prompter   Prompter
	publishers []Publisher
	interrupts <-chan struct{}
	logger     *slog.Logger
	now        func() time.Time
}

// OrchestratorConfig holds the collaborators of an Orchestrator. Stages maps
// each runnable stage to its spec; Preflight, Prompter, Publishers and
// Interrupts are optional.
type OrchestratorConfig struct {
	Layout     Layout
	RunID      string
	Stages     []StageSpec
	Sink       *quarantine.Sink
	Preflight  Preflight
	Prompter   Prompter
	Publishers []Publisher
	// Interrupts delivers operator interrupts. Each receive stops
	// submission for the stage in progress.
	Interrupts   <-chan struct{}
	Logger       *slog.Logger
	ShowProgress bool
}

// NewOrchestrator wires an Orchestrator from cfg.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = quarantine.NewSink(cfg.Layout.Root, cfg.RunID, logger)
	}
	stages := make(map[models.Stage]StageSpec, len(cfg.Stages))
	for _, s := range cfg.Stages {
		stages[s.Stage] = s
	}
	return &Orchestrator{
		layout:     cfg.Layout,
		runID:      cfg.RunID,
		stages:     stages,
		runner:     NewRunner(cfg.Layout.Root, cfg.RunID, sink, WithLogger(logger), WithProgress(cfg.ShowProgress)),
		sink:       sink,
		preflight:  cfg.Preflight,
		prompter:   cfg.Prompter,
		publishers: cfg.Publishers,
		interrupts: cfg.Interrupts,
		logger:     logger,
		now:        time.Now,
	}
}

// Run executes the selected stages in pipeline order, whatever order they
// were given in. It fails before any stage runs if preflight fails, and
// halts on the first setup error. Per-file failures never stop the run.
// The returned report is persisted to the log directory even on error.
func (o *Orchestrator) Run(ctx context.Context, selected []models.Stage) (models.RunReport, error) {
	report := models.RunReport{
		RunID:   o.runID,
		RootDir: o.layout.Root,
		Started: o.now(),
	}
	logCtx := o.logger.With("runId", o.runID)

	stages, err := o.order(selected)
	if err != nil {
		return report, err
	}
	report.Stages = stages

	// --- 1. Preflight ---
	if o.preflight != nil {
		if err := o.preflight.Check(ctx, stages); err != nil {
			logCtx.Error("Preflight failed. No stage will run.", "error", err)
			return report, &SetupError{Err: err}
		}
	}

	// --- 2. Directories ---
	if err := o.layout.EnsureDirs(); err != nil {
		return report, &SetupError{Err: err}
	}

	// --- 3. Stages ---
	var runErr error
	for _, stage := range stages {
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}

		stageCtx, interrupted, stop := o.stageContext(ctx)
		sr, err := o.runner.Run(stageCtx, o.stages[stage])
		stop()
		report.Reports = append(report.Reports, sr)
		if vs, ok := o.stages[stage].Operation.(VerdictSource); ok {
			report.Verdicts = append(report.Verdicts, vs.Verdicts()...)
		}
		if err != nil {
			logCtx.Error("Stage setup failed. Halting run.", "stage", stage.String(), "error", err)
			runErr = err
			break
		}

		if *interrupted {
			report.Interrupted = true
			if o.prompter == nil || !o.prompter.Continue(stage, sr) {
				logCtx.Warn("Run stopped after interrupt.", "stage", stage.String(), "pending", sr.Pending)
				break
			}
			logCtx.Info("Continuing after interrupt.", "stage", stage.String())
		}
	}

	// --- 4. Report ---
	report.Quarantined = o.sink.Records()
	report.Finished = o.now()

	if path, err := o.persist(report); err != nil {
		logCtx.Error("Failed to write run report", "error", err)
	} else {
		logCtx.Info("Run report written.", "path", path)
	}
	for _, p := range o.publishers {
		if err := p.Publish(context.WithoutCancel(ctx), report); err != nil {
			logCtx.Error("Failed to publish run report", "error", err)
		}
	}
	return report, runErr
}

// order deduplicates selected and sorts it into pipeline order.
func (o *Orchestrator) order(selected []models.Stage) ([]models.Stage, error) {
	if len(selected) == 0 {
		return nil, &SetupError{Err: errors.New("no stages selected")}
	}
	seen := make(map[models.Stage]bool, len(selected))
	var out []models.Stage
	for _, s := range selected {
		if seen[s] {
			continue
		}
		if _, ok := o.stages[s]; !ok {
			return nil, &SetupError{Stage: s, Err: fmt.Errorf("stage %q is not configured", s)}
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// stageContext derives a context that is cancelled by the next operator
// interrupt. interrupted reports whether that happened.
func (o *Orchestrator) stageContext(parent context.Context) (context.Context, *bool, func()) {
	ctx, cancel := context.WithCancel(parent)
	interrupted := new(bool)
	if o.interrupts == nil {
		return ctx, interrupted, cancel
	}

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-o.interrupts:
			*interrupted = true
			cancel()
		case <-done:
		}
	}()
	return ctx, interrupted, func() {
		close(done)
		<-exited
		cancel()
	}
}

func (o *Orchestrator) persist(report models.RunReport) (string, error) {
	dir := o.layout.LogDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create log dir: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal run report: %w", err)
	}
	name := fmt.Sprintf("run_%s_%s.json", report.Started.Format("20060102T150405"), o.runID)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write run report: %w", err)
	}
	return path, nil
}
