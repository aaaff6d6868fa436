// Package config merges defaults, an optional YAML file, a dotenv secrets
// file, DOCFLOW_* environment variables and command-line flags into one
// explicit Config value.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Lllllllleong/legaldocflow/internal/models"
)

const EnvPrefix = "DOCFLOW"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full runtime configuration. It is built once in main and
// passed to constructors.
type Config struct {
	RootDir     string
	Stages      []models.Stage
	LogFormat   string
	LogLevel    string
	Progress    bool
	Interactive bool

	IOWorkers          int
	CPUWorkers         int
	LargeFileThreshold int64 // bytes

	GCP        GCPConfig
	OCR        OCRConfig
	Vision     VisionConfig
	Verify     VerifyConfig
	ConfigUsed string
}

type GCPConfig struct {
	ProjectID        string
	Location         string
	CredentialsFile  string
	Bucket           string
	BucketPrefix     string
	RenameModel      string
	FormatModel      string
	ReportCollection string // Firestore collection; empty disables the mirror
	NotifyWorkflow   string // projects/*/locations/*/workflows/*; empty disables
	UploadMaxRetries int
}

type OCRConfig struct {
	OCRmyPDFPath    string
	GhostscriptPath string
	DPI             int
	MinSavings      float64 // fraction a compressed file must save to be kept
}

type VisionConfig struct {
	PagesPerRequest int
	InlineLimit     int64 // bytes
	LanguageHint    string
}

type VerifyConfig struct {
	PageTolerance    int
	MinCharacters    int
	OKThreshold      float64
	WarningThreshold float64
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"dir":               "root",
	"stage":             "stages",
	"log-format":        "log.format",
	"log-level":         "log.level",
	"progress":          "progress",
	"interactive":       "interactive",
	"io-workers":        "workers.io",
	"cpu-workers":       "workers.cpu",
	"large-file-mb":     "workers.largeFileMB",
	"project":           "gcp.project",
	"location":          "gcp.location",
	"credentials":       "gcp.credentials",
	"bucket":            "gcp.bucket",
	"bucket-prefix":     "gcp.bucketPrefix",
	"rename-model":      "gcp.renameModel",
	"format-model":      "gcp.formatModel",
	"report-collection": "gcp.reportCollection",
	"notify-workflow":   "gcp.notifyWorkflow",
	"ocrmypdf":          "ocr.ocrmypdf",
	"ghostscript":       "ocr.ghostscript",
	"dpi":               "ocr.dpi",
	"page-tolerance":    "verify.pageTolerance",
	"min-characters":    "verify.minCharacters",
}

// envAliases are the unprefixed variable names the Google client libraries
// and older scripts use.
var envAliases = map[string][]string{
	"gcp.credentials": {"GOOGLE_APPLICATION_CREDENTIALS"},
	"gcp.project":     {"GOOGLE_CLOUD_PROJECT", "GCP_PROJECT"},
	"gcp.bucket":      {"GCS_BUCKET"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("root", "")
	v.SetDefault("stages", []string{})
	v.SetDefault("log.format", "json")
	v.SetDefault("log.level", "info")
	v.SetDefault("progress", false)
	v.SetDefault("interactive", false)
	v.SetDefault("envFile", ".env")

	v.SetDefault("workers.io", 5)
	v.SetDefault("workers.cpu", 3)
	v.SetDefault("workers.largeFileMB", 5)

	v.SetDefault("gcp.location", "us-central1")
	v.SetDefault("gcp.renameModel", "gemini-2.5-flash")
	v.SetDefault("gcp.formatModel", "gemini-2.5-pro")
	v.SetDefault("gcp.uploadMaxRetries", 4)

	v.SetDefault("ocr.ocrmypdf", "ocrmypdf")
	v.SetDefault("ocr.ghostscript", "gs")
	v.SetDefault("ocr.dpi", 600)
	v.SetDefault("ocr.minSavings", 0.10)

	v.SetDefault("vision.pagesPerRequest", 5)
	v.SetDefault("vision.inlineLimitMB", 35)
	v.SetDefault("vision.languageHint", "en")

	v.SetDefault("verify.pageTolerance", 2)
	v.SetDefault("verify.minCharacters", 1000)
	v.SetDefault("verify.okThreshold", 0.85)
	v.SetDefault("verify.warningThreshold", 0.65)
}

// Load builds a Config. cfgFile may be empty, in which case docflow.yaml is
// looked up in the working directory and silently skipped when absent.
// flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	// --- 1. Config file ---
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("docflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || cfgFile != "" {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// --- 2. Flags ---
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
		if f := flags.Lookup("env-file"); f != nil {
			_ = v.BindPFlag("envFile", f)
		}
	}

	// --- 3. Secrets file, then environment ---
	// godotenv never overrides variables already set in the process.
	if envFile := v.GetString("envFile"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		_ = v.BindEnv(append([]string{key, EnvPrefix + "_" + envName(key)}, names...)...)
	}

	cfg := Config{
		RootDir:            v.GetString("root"),
		LogFormat:          strings.ToLower(v.GetString("log.format")),
		LogLevel:           strings.ToLower(v.GetString("log.level")),
		Progress:           v.GetBool("progress"),
		Interactive:        v.GetBool("interactive"),
		IOWorkers:          v.GetInt("workers.io"),
		CPUWorkers:         v.GetInt("workers.cpu"),
		LargeFileThreshold: v.GetInt64("workers.largeFileMB") << 20,
		GCP: GCPConfig{
			ProjectID:        v.GetString("gcp.project"),
			Location:         v.GetString("gcp.location"),
			CredentialsFile:  v.GetString("gcp.credentials"),
			Bucket:           v.GetString("gcp.bucket"),
			BucketPrefix:     strings.Trim(v.GetString("gcp.bucketPrefix"), "/"),
			RenameModel:      v.GetString("gcp.renameModel"),
			FormatModel:      v.GetString("gcp.formatModel"),
			ReportCollection: v.GetString("gcp.reportCollection"),
			NotifyWorkflow:   v.GetString("gcp.notifyWorkflow"),
			UploadMaxRetries: v.GetInt("gcp.uploadMaxRetries"),
		},
		OCR: OCRConfig{
			OCRmyPDFPath:    v.GetString("ocr.ocrmypdf"),
			GhostscriptPath: v.GetString("ocr.ghostscript"),
			DPI:             v.GetInt("ocr.dpi"),
			MinSavings:      v.GetFloat64("ocr.minSavings"),
		},
		Vision: VisionConfig{
			PagesPerRequest: v.GetInt("vision.pagesPerRequest"),
			InlineLimit:     v.GetInt64("vision.inlineLimitMB") << 20,
			LanguageHint:    v.GetString("vision.languageHint"),
		},
		Verify: VerifyConfig{
			PageTolerance:    v.GetInt("verify.pageTolerance"),
			MinCharacters:    v.GetInt("verify.minCharacters"),
			OKThreshold:      v.GetFloat64("verify.okThreshold"),
			WarningThreshold: v.GetFloat64("verify.warningThreshold"),
		},
		ConfigUsed: v.ConfigFileUsed(),
	}

	stages, err := parseStages(v.GetStringSlice("stages"))
	if err != nil {
		return Config{}, err
	}
	cfg.Stages = stages

	if cfg.RootDir != "" {
		abs, err := filepath.Abs(cfg.RootDir)
		if err != nil {
			return Config{}, fmt.Errorf("%w: cannot resolve root %q: %w", ErrInvalidConfig, cfg.RootDir, err)
		}
		cfg.RootDir = abs
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges. Whether a setting is required depends on
// the selected stages and is left to preflight.
func (c Config) Validate() error {
	var errs []error
	if c.IOWorkers <= 0 || c.CPUWorkers <= 0 {
		errs = append(errs, errors.New("worker counts must be positive"))
	}
	if c.LargeFileThreshold <= 0 {
		errs = append(errs, errors.New("large file threshold must be positive"))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("log format %q is not json or text", c.LogFormat))
	}
	if c.Verify.PageTolerance < 0 || c.Verify.MinCharacters < 0 {
		errs = append(errs, errors.New("verify tolerances must not be negative"))
	}
	if c.Verify.WarningThreshold > c.Verify.OKThreshold {
		errs = append(errs, errors.New("verify warning threshold is above the ok threshold"))
	}
	if c.Vision.PagesPerRequest <= 0 || c.Vision.InlineLimit <= 0 {
		errs = append(errs, errors.New("vision batch settings must be positive"))
	}
	if c.OCR.DPI <= 0 {
		errs = append(errs, errors.New("ocr dpi must be positive"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// parseStages accepts repeated or comma-separated names; "all" selects every
// stage.
func parseStages(raw []string) ([]models.Stage, error) {
	var out []models.Stage
	for _, item := range raw {
		for _, name := range strings.Split(item, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if strings.EqualFold(name, "all") {
				return append([]models.Stage(nil), models.AllStages...), nil
			}
			s, err := models.ParseStage(name)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
			}
			out = append(out, s)
		}
	}
	return out, nil
}

func envName(key string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}
