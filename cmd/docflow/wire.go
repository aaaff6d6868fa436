package main

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"slices"

	"google.golang.org/api/option"

	"github.com/Lllllllleong/legaldocflow/internal/config"
	"github.com/Lllllllleong/legaldocflow/internal/gcp"
	"github.com/Lllllllleong/legaldocflow/internal/models"
	"github.com/Lllllllleong/legaldocflow/internal/ocr"
	"github.com/Lllllllleong/legaldocflow/internal/pipeline"
	"github.com/Lllllllleong/legaldocflow/internal/preflight"
	"github.com/Lllllllleong/legaldocflow/internal/quarantine"
	"github.com/Lllllllleong/legaldocflow/internal/services"
	"github.com/Lllllllleong/legaldocflow/internal/verify"
)

// app is a fully wired run plus the clients it has to close.
type app struct {
	orchestrator *pipeline.Orchestrator
	closers      []func() error
	logger       *slog.Logger
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Failed to close client", "error", err)
		}
	}
}

// build creates only the clients the selected stages need, so a local-only
// run never touches Google Cloud.
func build(ctx context.Context, cfg config.Config, runID string, logger *slog.Logger, interrupts <-chan struct{}, interactive, showProgress bool) (*app, error) {
	a := &app{logger: logger}
	fail := func(err error) (*app, error) {
		a.close()
		return nil, err
	}
	selected := func(s ...models.Stage) bool {
		for _, want := range s {
			if slices.Contains(cfg.Stages, want) {
				return true
			}
		}
		return false
	}

	layout := pipeline.Layout{Root: cfg.RootDir}
	ioPool := pipeline.NewIOPool(cfg.IOWorkers)
	cpuPool := pipeline.NewCPUPool(cfg.CPUWorkers, cfg.LargeFileThreshold)

	checker := preflight.New(preflight.Options{
		RootDir:         cfg.RootDir,
		ProjectID:       cfg.GCP.ProjectID,
		CredentialsFile: cfg.GCP.CredentialsFile,
		Bucket:          cfg.GCP.Bucket,
		OCRmyPDF:        cfg.OCR.OCRmyPDFPath,
		Ghostscript:     cfg.OCR.GhostscriptPath,
	}, logger)

	var opts []option.ClientOption
	if cfg.GCP.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCP.CredentialsFile))
	}

	// --- 1. Cloud clients ---
	var (
		vertex     *gcp.VertexClient
		uploader   *gcp.StorageUploader
		publishers []pipeline.Publisher
		err        error
	)
	if selected(models.StageRename, models.StageFormat) {
		vertex, err = gcp.NewVertexClient(ctx, gcp.VertexConfig{
			ProjectID:   cfg.GCP.ProjectID,
			Location:    cfg.GCP.Location,
			RenameModel: cfg.GCP.RenameModel,
			FormatModel: cfg.GCP.FormatModel,
		}, logger, opts...)
		if err != nil {
			return fail(err)
		}
		a.closers = append(a.closers, vertex.Close)
	}
	if cfg.GCP.Bucket != "" {
		uploader, err = gcp.NewStorageUploader(ctx, gcp.StorageConfig{
			Bucket:     cfg.GCP.Bucket,
			Prefix:     bucketPrefix(cfg),
			MaxRetries: cfg.GCP.UploadMaxRetries,
		}, logger, opts...)
		if err != nil {
			return fail(err)
		}
		a.closers = append(a.closers, uploader.Close)
		publishers = append(publishers, uploader)
	}
	if cfg.GCP.ReportCollection != "" {
		store, err := gcp.NewReportStore(ctx, cfg.GCP.ProjectID, cfg.GCP.ReportCollection, logger, opts...)
		if err != nil {
			return fail(err)
		}
		a.closers = append(a.closers, store.Close)
		publishers = append(publishers, store)
	}
	if cfg.GCP.NotifyWorkflow != "" {
		notifier, err := gcp.NewWorkflowNotifier(ctx, cfg.GCP.ProjectID, cfg.GCP.Location, cfg.GCP.NotifyWorkflow, logger, opts...)
		if err != nil {
			return fail(err)
		}
		a.closers = append(a.closers, notifier.Close)
		publishers = append(publishers, notifier)
	}

	// --- 2. Stage operations ---
	var publicURL func(string) string
	if uploader != nil {
		publicURL = func(name string) string { return gcp.PublicURL(cfg.GCP.Bucket, uploader.ObjectName(name)) }
	}
	var specs []pipeline.StageSpec
	add := func(stage models.Stage, op pipeline.Operation, pool *pipeline.Pool) {
		specs = append(specs, pipeline.NewStageSpec(layout, stage, op, pool))
	}

	if selected(models.StageDirectory) {
		add(models.StageDirectory, services.NewDirectoryFunction(logger), ioPool)
	}
	if selected(models.StageRename) {
		rename, err := services.NewRenameFunction(layout.OutputDir(models.StageRename), vertex, 0, logger)
		if err != nil {
			return fail(err)
		}
		add(models.StageRename, rename, ioPool)
	}
	if selected(models.StageClean) {
		gs, err := checker.Ghostscript()
		if err != nil {
			// Preflight reports the missing binary before any stage runs.
			gs = cfg.OCR.GhostscriptPath
		}
		primary := ocr.NewOCRmyPDF(cfg.OCR.OCRmyPDFPath, cfg.OCR.DPI)
		tool := &ocr.Chain{Primary: primary, Fallback: ocr.NewFlatten(gs, primary), Logger: logger}
		add(models.StageClean, services.NewCleanFunction(tool, ocr.NewCompressor(gs, cfg.OCR.MinSavings), 0, logger), cpuPool)
	}
	if selected(models.StageConvert) {
		vision, err := gcp.NewVisionExtractor(ctx, gcp.VisionConfig{
			PagesPerRequest: cfg.Vision.PagesPerRequest,
			InlineLimit:     cfg.Vision.InlineLimit,
			LanguageHint:    cfg.Vision.LanguageHint,
		}, logger, opts...)
		if err != nil {
			return fail(err)
		}
		add(models.StageConvert, services.NewConvertFunction(vision, publicURL, 0, logger), ioPool)
	}
	if selected(models.StageFormat) {
		add(models.StageFormat, services.NewFormatFunction(vertex, services.DefaultChunkPages, 0, logger), ioPool)
	}
	if selected(models.StageUpload) {
		if uploader == nil {
			return fail(fmt.Errorf("%w: upload needs --bucket", config.ErrInvalidConfig))
		}
		add(models.StageUpload, services.NewUploadFunction(uploader,
			layout.OutputDir(models.StageConvert), layout.OutputDir(models.StageFormat), logger), ioPool)
	}
	if selected(models.StageVerify) {
		vcfg := verify.DefaultConfig()
		vcfg.PageTolerance = cfg.Verify.PageTolerance
		vcfg.MinCharacters = cfg.Verify.MinCharacters
		vcfg.OKThreshold = cfg.Verify.OKThreshold
		vcfg.WarningThreshold = cfg.Verify.WarningThreshold
		add(models.StageVerify, services.NewVerifyFunction(services.VerifyDirs{
			Renamed: layout.OutputDir(models.StageRename),
			Clean:   layout.OutputDir(models.StageClean),
			Convert: layout.OutputDir(models.StageConvert),
			Logs:    layout.LogDir(),
		}, vcfg, publicURL, logger), ioPool)
	}

	// --- 3. Orchestrator ---
	var prompter pipeline.Prompter
	if interactive {
		prompter = newTermPrompter()
	}
	a.orchestrator = pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Layout:       layout,
		RunID:        runID,
		Stages:       specs,
		Sink:         quarantine.NewSink(cfg.RootDir, runID, logger),
		Preflight:    checker,
		Prompter:     prompter,
		Publishers:   publishers,
		Interrupts:   interrupts,
		Logger:       logger,
		ShowProgress: showProgress,
	})
	return a, nil
}

// bucketPrefix keeps each case in its own folder unless a prefix is set.
func bucketPrefix(cfg config.Config) string {
	if cfg.GCP.BucketPrefix != "" {
		return cfg.GCP.BucketPrefix
	}
	return path.Join("docs", filepath.Base(cfg.RootDir))
}
