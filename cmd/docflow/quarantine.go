package main

import (
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/Lllllllleong/legaldocflow/internal/config"
	"github.com/Lllllllleong/legaldocflow/internal/models"
	"github.com/Lllllllleong/legaldocflow/internal/quarantine"
)

func newQuarantineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quarantine",
		Short: "Inspect or requeue files that failed a stage.",
	}
	cmd.AddCommand(newQuarantineListCmd(), newQuarantineRetryCmd())
	return cmd
}

func newQuarantineListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List quarantined files, by stage and time.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return setupFailure(cmd, err)
			}
			if err := requireRoot(cfg); err != nil {
				return setupFailure(cmd, err)
			}
			records, err := quarantine.List(cfg.RootDir)
			if err != nil {
				return setupFailure(cmd, err)
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, okStyle.Render("Nothing quarantined."))
				return nil
			}
			rows := make([][]string, 0, len(records))
			for _, r := range records {
				rows = append(rows, []string{r.Stage.String(), r.File, r.Category, r.Timestamp.Local().Format("2006-01-02 15:04"), r.Message})
			}
			t := newTable("STAGE", "FILE", "CATEGORY", "WHEN", "MESSAGE").
				Rows(rows...).
				StyleFunc(func(row, col int) lipgloss.Style {
					switch {
					case row == table.HeaderRow:
						return cellStyle.Inherit(headerStyle)
					case col == 2:
						return cellStyle.Inherit(errorStyle)
					}
					return cellStyle
				})
			fmt.Fprintln(out, t.Render())
			return nil
		},
	}
}

func newQuarantineRetryCmd() *cobra.Command {
	var (
		all   bool
		stage string
	)
	cmd := &cobra.Command{
		Use:   "retry [file...]",
		Short: "Move quarantined files back into their stage input directory.",
		Long: `Move quarantined files back into the input directory of the stage that
failed them. The next run of that stage picks them up again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return setupFailure(cmd, err)
			}
			if err := requireRoot(cfg); err != nil {
				return setupFailure(cmd, err)
			}
			if !all && len(args) == 0 {
				return setupFailure(cmd, fmt.Errorf("%w: name files to retry or pass --all", config.ErrInvalidConfig))
			}
			var only models.Stage
			if stage != "" {
				if only, err = models.ParseStage(stage); err != nil {
					return setupFailure(cmd, err)
				}
			}

			records, err := quarantine.List(cfg.RootDir)
			if err != nil {
				return setupFailure(cmd, err)
			}
			want := make(map[string]bool, len(args))
			for _, a := range args {
				want[filepath.Base(a)] = true
			}

			var restored, failed int
			for _, rec := range records {
				if only.Valid() && rec.Stage != only {
					continue
				}
				if !all && !want[rec.File] && !want[filepath.Base(rec.SourcePath)] {
					continue
				}
				target, err := quarantine.Retry(rec)
				if err != nil {
					logger.Error("Failed to requeue quarantined file", "file", rec.File, "stage", rec.Stage.String(), "error", err)
					failed++
					continue
				}
				restored++
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s\n", okStyle.Render("requeued"), rec.File, target)
			}
			if restored == 0 && failed == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No matching quarantined files.")
			}
			if failed > 0 {
				return fmt.Errorf("%d file(s) could not be requeued", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "requeue every quarantined file")
	cmd.Flags().StringVar(&stage, "failed-at", "", "only requeue files failed by this stage")
	return cmd
}
