package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Lllllllleong/legaldocflow/internal/config"
	"github.com/Lllllllleong/legaldocflow/internal/models"
	"github.com/Lllllllleong/legaldocflow/internal/pipeline"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the selected stages over a case directory.",
		Example: `  docflow run --dir ./Smith-v-Jones --stage all
  docflow run --dir ./Smith-v-Jones --stage clean --stage convert`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return setupFailure(cmd, err)
			}
			if len(cfg.Stages) == 0 {
				return setupFailure(cmd, fmt.Errorf("%w: select at least one --stage", config.ErrInvalidConfig))
			}
			return runPipeline(cmd, cfg, logger)
		},
	}
	cmd.Flags().StringSliceP("stage", "s", nil, `stages to run, repeated or comma separated ("all" for every stage)`)
	addRunFlags(cmd.Flags())
	return cmd
}

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Write the verification report for the formatted texts of a case directory.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return setupFailure(cmd, err)
			}
			cfg.Stages = []models.Stage{models.StageVerify}
			return runPipeline(cmd, cfg, logger)
		},
	}
	addRunFlags(cmd.Flags())
	return cmd
}

func runPipeline(cmd *cobra.Command, cfg config.Config, logger *slog.Logger) error {
	if err := requireRoot(cfg); err != nil {
		return setupFailure(cmd, err)
	}
	runID := uuid.NewString()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	interrupts := watchSignals(ctx, cancel)

	interactive := cfg.Interactive && term.IsTerminal(int(os.Stdin.Fd()))
	showProgress := cfg.Progress && term.IsTerminal(int(os.Stderr.Fd()))

	app, err := build(ctx, cfg, runID, logger, interrupts, interactive, showProgress)
	if err != nil {
		return setupFailure(cmd, err)
	}
	defer app.close()

	logger.Info("Run started.", "runId", runID, "root", cfg.RootDir, "stages", fmt.Sprint(cfg.Stages))
	started := time.Now()
	report, err := app.orchestrator.Run(ctx, cfg.Stages)
	fmt.Fprintln(cmd.ErrOrStderr(), renderSummary(report, time.Since(started)))
	if err != nil {
		return setupFailure(cmd, err)
	}
	return nil
}

// watchSignals turns SIGINT into stage interrupts. An interrupt nobody is
// waiting for, or any SIGTERM, cancels the whole run.
func watchSignals(ctx context.Context, cancel context.CancelFunc) <-chan struct{} {
	interrupts := make(chan struct{})
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigs)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigs:
				if sig == syscall.SIGTERM {
					cancel()
					return
				}
				select {
				case interrupts <- struct{}{}:
				default:
					cancel()
					return
				}
			}
		}
	}()
	return interrupts
}

// setupFailure prints err and marks it as a setup error so main exits 1.
func setupFailure(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render("Error: ")+err.Error())
	if errors.Is(err, pipeline.ErrSetup) {
		return err
	}
	return &pipeline.SetupError{Err: err}
}
