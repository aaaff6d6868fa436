package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/legaldocflow/internal/filestate"
	"github.com/Lllllllleong/legaldocflow/internal/models"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestCleanFilename(t *testing.T) {
	cases := map[string]string{
		"23 - Motion to Compel 1.5.23 [kmgate@kalcounty.com]": "Motion_to_Compel",
		"1.1.23 - Notice of Hearing":                           "Notice_of_Hearing",
		"Answer - - Counterclaim 2023-01-01":                   "Answer_Counterclaim",
		"Claim Log 02-26T11-24 - Google Sheets":                "Claim_Log",
		"  Appraisal   Demand  ":                               "Appraisal_Demand",
		"20230105_Already_Dated":                               "20230105_Already_Dated",
	}
	for in, want := range cases {
		assert.Equal(t, want, CleanFilename(in), in)
	}
}

func TestDateFromFilename(t *testing.T) {
	assert.Equal(t, "20220131", DateFromFilename("Hearing 1.31.22"))
	assert.Equal(t, "20250226", DateFromFilename("Letter 2025-02-26 final"))
	assert.Equal(t, "", DateFromFilename("Motion to Compel"))
}

type fakeExtractor struct {
	mu    sync.Mutex
	calls int
	meta  models.DocumentMetadata
	err   error
}

func (f *fakeExtractor) ExtractMetadata(context.Context, []byte) (models.DocumentMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.meta, f.err
}

func newRename(t *testing.T, out string, ex MetadataExtractor) *RenameFunction {
	t.Helper()
	f, err := NewRenameFunction(out, ex, 0, quiet)
	require.NoError(t, err)
	f.firstPage = func(string) ([]byte, error) { return []byte("%PDF page one"), nil }
	return f
}

func renameJob(t *testing.T, dir, name string) models.Job {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("pdf "+name), 0o644))
	return models.Job{Stage: models.StageRename, Document: filestate.Parse(path)}
}

func TestRename_Rules(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	ex := &fakeExtractor{meta: models.DocumentMetadata{Date: "20210704", Description: "Motion-Venue-Change"}}
	f := newRename(t, out, ex)
	ctx := context.Background()

	require.NoError(t, f.Process(ctx, renameJob(t, in, "Ex. P12 Photos_d.pdf")))
	require.NoError(t, f.Process(ctx, renameJob(t, in, "20230105_Order_d.pdf")))
	require.NoError(t, f.Process(ctx, renameJob(t, in, "Hearing 1.31.22_d.pdf")))
	require.NoError(t, f.Process(ctx, renameJob(t, in, "Motion to Change Venue_d.pdf")))

	assert.FileExists(t, filepath.Join(out, "RR_Ex._P12_Photos_r.pdf"))
	assert.FileExists(t, filepath.Join(out, "20230105_Order_r.pdf"))
	assert.FileExists(t, filepath.Join(out, "20220131_Hearing_r.pdf"))
	assert.FileExists(t, filepath.Join(out, "20210704_Motion_to_Change_Venue_r.pdf"))
	assert.Equal(t, 1, ex.calls, "only the undated name needs the model")

	// Originals stay in place.
	assert.FileExists(t, filepath.Join(in, "Hearing 1.31.22_d.pdf"))
}

func TestRename_ModelFailureLeavesNameUndated(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	f := newRename(t, out, &fakeExtractor{err: errors.New("quota exceeded")})

	require.NoError(t, f.Process(context.Background(), renameJob(t, in, "Answer_d.pdf")))
	assert.FileExists(t, filepath.Join(out, "Answer_r.pdf"))
}

func TestRename_DeduplicatesAndResumesFromLedger(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	f := newRename(t, out, nil)
	ctx := context.Background()

	jobA := renameJob(t, in, "Notice 1.2.23_d.pdf")
	jobB := renameJob(t, in, "Notice 01.02.23_d.pdf")
	jobC := renameJob(t, in, "Notice 2023-01-02_d.pdf")
	for _, j := range []models.Job{jobA, jobB, jobC} {
		require.NoError(t, f.Process(ctx, j))
	}
	assert.FileExists(t, filepath.Join(out, "20230102_Notice_r.pdf"))
	assert.FileExists(t, filepath.Join(out, "20230102_Notice_2_r.pdf"))
	assert.FileExists(t, filepath.Join(out, "20230102_Notice_3_r.pdf"))
	assert.FileExists(t, filepath.Join(out, LedgerDir, LedgerFile))

	// A fresh function reads the ledger back and knows every decision.
	again := newRename(t, out, nil)
	got, known := again.ExpectedOutput(jobB.Document)
	require.True(t, known)
	assert.Equal(t, filepath.Join(out, "20230102_Notice_2_r.pdf"), got)

	_, known = again.ExpectedOutput(models.Document{Path: filepath.Join(in, "Unseen_d.pdf")})
	assert.False(t, known)
}

func TestRenameLedger_AvoidsFilesAlreadyOnDisk(t *testing.T) {
	out := t.TempDir()
	l, err := LoadLedger(out)
	require.NoError(t, err)

	onDisk := map[string]bool{"Order_r.pdf": true}
	name := l.Claim("Order_d.pdf", "Order", func(n string) bool { return onDisk[n] })
	assert.Equal(t, "Order_2_r.pdf", name)
	assert.Equal(t, name, l.Claim("Order_d.pdf", "Order", nil), "claims are stable")

	l.Release("Order_d.pdf")
	_, ok := l.Lookup("Order_d.pdf")
	assert.False(t, ok)
}

func TestRename_TokenEndingNamesStayDistinct(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	f := newRename(t, out, nil)
	ctx := context.Background()

	require.NoError(t, f.Process(ctx, renameJob(t, in, "Exhibit c_d.pdf")))
	require.NoError(t, f.Process(ctx, renameJob(t, in, "Exhibit d_d.pdf")))

	renamed := visibleEntries(t, out)
	assert.ElementsMatch(t, []string{LedgerDir, "RR_Exhibit_c_1_r.pdf", "RR_Exhibit_d_1_r.pdf"}, renamed)

	seen := map[string]string{}
	for _, name := range renamed {
		if name == LedgerDir {
			continue
		}
		base := filestate.BaseName(name)
		require.NotContains(t, seen, base, "%s and %s share a base", seen[base], name)
		seen[base] = name

		// The next stage writes one file per base.
		clean := filestate.PathFor("clean", base, models.StageClean)
		assert.Equal(t, base, filestate.BaseName(clean))
	}
	assert.Len(t, seen, 2)
}

func TestRenameLedger_SafeBaseBeforeCounter(t *testing.T) {
	l, err := LoadLedger(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "Exhibit_c_1_r.pdf", l.Claim("a.pdf", "Exhibit_c", nil))
	assert.Equal(t, "Exhibit_c_1_2_r.pdf", l.Claim("b.pdf", "Exhibit_c", nil))
	assert.Equal(t, "Exhibit_r.pdf", l.Claim("c.pdf", "Exhibit", nil))
}
