package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/legaldocflow/internal/config"
	"github.com/Lllllllleong/legaldocflow/internal/models"
	"github.com/Lllllllleong/legaldocflow/internal/pipeline"
	"github.com/Lllllllleong/legaldocflow/internal/quarantine"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env-file", "", "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, parseLevel("chatty"))
}

func TestBucketPrefix(t *testing.T) {
	cfg := config.Config{RootDir: filepath.Join("cases", "Smith-v-Jones")}
	assert.Equal(t, "docs/Smith-v-Jones", bucketPrefix(cfg))

	cfg.GCP.BucketPrefix = "archive/2025"
	assert.Equal(t, "archive/2025", bucketPrefix(cfg))
}

func TestRun_RequiresStagesAndRoot(t *testing.T) {
	_, err := execute(t, "run", "--dir", t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, pipeline.ErrSetup))
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))

	_, err = execute(t, "run", "--stage", "directory")
	assert.True(t, errors.Is(err, pipeline.ErrSetup))

	_, err = execute(t, "run", "--dir", t.TempDir(), "--stage", "sideways")
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
}

func TestRun_DirectoryStage(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "Complaint.pdf"), []byte("%PDF-1.4"), 0o644))

	out, err := execute(t, "run", "--dir", root, "--stage", "directory", "--log-format", "text")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, pipeline.DirOriginal, "Complaint_d.pdf"))
	assert.Contains(t, out, "directory")

	reports, err := filepath.Glob(filepath.Join(root, pipeline.DirLogs, "run_*.json"))
	require.NoError(t, err)
	assert.Len(t, reports, 1)
}

func TestQuarantine_ListAndRetry(t *testing.T) {
	root := t.TempDir()
	input := filepath.Join(root, pipeline.DirRenamed, "Order_r.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(input), 0o755))
	require.NoError(t, os.WriteFile(input, []byte("pdf"), 0o644))

	sink := quarantine.NewSink(root, "run-1", slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := sink.Quarantine(models.StageClean, input, fmt.Errorf("%w: ocrmypdf exited 2", models.ErrOCR))
	require.NoError(t, err)
	require.NoError(t, os.Remove(input))

	out, err := execute(t, "quarantine", "list", "--dir", root)
	require.NoError(t, err)
	assert.Contains(t, out, "Order_r.pdf")
	assert.Contains(t, out, "ocr")
	assert.Contains(t, out, "CATEGORY")
	assert.Contains(t, out, "│", "rendered as a bordered table")

	_, err = execute(t, "quarantine", "retry", "--dir", root)
	assert.Error(t, err, "retry needs names or --all")

	out, err = execute(t, "quarantine", "retry", "--dir", root, "--failed-at", "rename", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "No matching quarantined files.")
	assert.NoFileExists(t, input)

	_, err = execute(t, "quarantine", "retry", "--dir", root, "Order_r.pdf")
	require.NoError(t, err)
	assert.FileExists(t, input)

	out, err = execute(t, "quarantine", "list", "--dir", root)
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing quarantined.")
}

func TestRenderSummary(t *testing.T) {
	report := models.RunReport{
		RunID:       "abc",
		Interrupted: true,
		Reports: []models.StageReport{
			{Stage: models.StageRename, Processed: 4, Skipped: 1},
			{Stage: models.StageClean, Processed: 2, Failed: 1, Pending: 3},
		},
		Quarantined: []models.QuarantineRecord{{File: "Bad_r.pdf"}},
		Verdicts: []models.VerificationVerdict{
			{Status: models.VerdictOK}, {Status: models.VerdictFail},
		},
	}
	out := renderSummary(report, 90*time.Second)
	assert.Contains(t, out, "Run abc finished in 1m30s (interrupted)")
	assert.Contains(t, out, "rename")
	assert.Contains(t, out, "clean")
	assert.Contains(t, out, "processed")
	assert.Contains(t, out, "│")
	assert.Contains(t, out, "1 file(s) quarantined")
	assert.Contains(t, out, "1 ok")
	assert.Contains(t, out, "1 fail")
}

func TestTermPrompter(t *testing.T) {
	var out bytes.Buffer
	answer := func(input string) bool {
		p := &termPrompter{in: bufio.NewReader(strings.NewReader(input)), out: &out}
		return p.Continue(models.StageClean, models.StageReport{Processed: 2, Pending: 5})
	}
	assert.True(t, answer("y\n"))
	assert.True(t, answer(" YES \n"))
	assert.False(t, answer("n\n"))
	assert.False(t, answer(""))
	assert.Contains(t, out.String(), "clean stopped with 2 processed, 0 failed and 5 pending.")
}
