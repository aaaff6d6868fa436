package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Lllllllleong/legaldocflow/internal/config"
)

// Flags shared by every subcommand.
var (
	cfgFile string
	envFile string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docflow",
		Short: "Processes a directory of legal PDFs through the document pipeline.",
		Long: `docflow processes the PDFs of one case directory in stages:

  directory  file loose PDFs into 01_doc-original
  rename     date-prefixed, cleaned names into 02_doc-renamed
  clean      OCR, PDF/A and compression into 03_doc-clean
  convert    page-marked text into 04_doc-convert
  format     model-corrected text into 05_doc-format
  upload     cleaned PDFs to Cloud Storage, links patched into the text
  verify     accuracy report in y_logs

Every stage can be rerun; finished files are skipped and failed files are
quarantined under _failed.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ./docflow.yaml when present)")
	pf.StringVar(&envFile, "env-file", ".env", "dotenv file with secrets")
	pf.StringP("dir", "d", "", "case root directory")
	pf.String("log-format", "json", `log format ("json" or "text")`)
	pf.String("log-level", "info", `log level ("debug", "info", "warn", "error")`)

	root.AddCommand(newRunCmd(), newVerifyCmd(), newQuarantineCmd())
	return root
}

// loadConfig builds the configuration for cmd and installs the default
// logger.
func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := newLogger(cfg.LogFormat, cfg.LogLevel, os.Stdout)
	slog.SetDefault(logger)
	if cfg.ConfigUsed != "" {
		logger.Debug("Config file loaded.", "path", cfg.ConfigUsed)
	}
	return cfg, logger, nil
}

func newLogger(format, level string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// addRunFlags registers the flags that tune a pipeline run. Names match the
// keys config.Load binds.
func addRunFlags(fs *pflag.FlagSet) {
	fs.Bool("progress", false, "show a progress bar per stage when stderr is a terminal")
	fs.Bool("interactive", false, "ask before continuing after an interrupted stage")

	fs.Int("io-workers", 5, "workers for network-bound stages")
	fs.Int("cpu-workers", 3, "workers for the clean stage")
	fs.Int("large-file-mb", 5, "files above this size are cleaned one at a time")

	fs.String("project", "", "Google Cloud project")
	fs.String("location", "us-central1", "Vertex AI location")
	fs.String("credentials", "", "service account key file")
	fs.String("bucket", "", "Cloud Storage bucket for uploads")
	fs.String("bucket-prefix", "", "object prefix (default docs/<case directory>)")
	fs.String("rename-model", "gemini-2.5-flash", "model that reads first pages for renaming")
	fs.String("format-model", "gemini-2.5-pro", "model that corrects OCR text")
	fs.String("report-collection", "", "Firestore collection to mirror run reports into")
	fs.String("notify-workflow", "", "Cloud Workflows workflow to trigger after a run")

	fs.String("ocrmypdf", "ocrmypdf", "ocrmypdf binary")
	fs.String("ghostscript", "gs", "Ghostscript binary")
	fs.Int("dpi", 600, "OCR oversampling resolution")

	fs.Int("page-tolerance", 2, "allowed difference between PDF pages and page markers")
	fs.Int("min-characters", 1000, "formatted texts shorter than this are flagged")
}

func requireRoot(cfg config.Config) error {
	if cfg.RootDir == "" {
		return fmt.Errorf("%w: --dir is required", config.ErrInvalidConfig)
	}
	return nil
}
