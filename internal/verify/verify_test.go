package verify

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/legaldocflow/internal/models"
)

const paragraph = "The plaintiff filed a motion for summary judgment alleging breach of the lease agreement and unpaid rent for the premises located on Main Street. "

// pages renders n page markers, each followed by the same legal paragraph.
func pages(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "[BEGIN PDF Page %d]\n\n%s%s\n\n", i, paragraph, paragraph)
	}
	return b.String()
}

func TestVerify_PageToleranceBoundary(t *testing.T) {
	text := pages(8)
	src := Source{File: "doc_f.txt", Pages: 10}

	cfg := DefaultConfig()
	cfg.PageTolerance = 2
	v := Verify(src, text, text, cfg)
	assert.Equal(t, 8, v.ObservedMarkers)
	assert.Equal(t, models.VerdictOK, v.PageCheck)

	cfg.PageTolerance = 1
	v = Verify(src, text, text, cfg)
	assert.Equal(t, models.VerdictWarning, v.PageCheck)
	assert.Equal(t, models.VerdictWarning, v.Status)
	assert.Contains(t, strings.Join(v.Issues, "\n"), "page count mismatch")
}

func TestVerify_ShortTextAlwaysFlagged(t *testing.T) {
	text := "[BEGIN PDF Page 1]\n\nShort order granting continuance."
	v := Verify(Source{Pages: 1}, text, text, DefaultConfig())

	assert.Equal(t, 1.0, v.Similarity)
	assert.Equal(t, models.VerdictOK, v.SimilarityCheck)
	assert.Equal(t, models.VerdictWarning, v.LengthCheck)
	assert.Equal(t, models.VerdictWarning, v.Status)
}

func TestVerify_IdenticalLongTextIsOK(t *testing.T) {
	text := pages(5)
	v := Verify(Source{Pages: 5}, text, text, DefaultConfig())
	assert.Equal(t, models.VerdictOK, v.Status)
	assert.Empty(t, v.Issues)
	assert.Equal(t, 1.0, v.LengthRatio)
}

func TestVerify_StatusIsWorstCheck(t *testing.T) {
	extracted := pages(3)
	formatted := strings.Repeat("Unrelated boilerplate about weather forecasts and sports scores. ", 40)
	v := Verify(Source{Pages: 3}, extracted, formatted, DefaultConfig())

	assert.Equal(t, models.VerdictWarning, v.PageCheck)
	assert.Equal(t, models.VerdictFail, v.SimilarityCheck)
	assert.Equal(t, models.VerdictFail, v.Status)
}

func TestVerify_NoMarkersIsWarning(t *testing.T) {
	text := strings.Repeat(paragraph, 10)
	v := Verify(Source{Pages: 3}, text, text, DefaultConfig())

	assert.Zero(t, v.ObservedMarkers)
	assert.Equal(t, models.VerdictWarning, v.PageCheck)
	assert.Equal(t, models.VerdictWarning, v.Status)
	assert.Contains(t, v.Issues, "no page markers found")
}

func TestVerify_MissingFirstMarker(t *testing.T) {
	text := strings.Replace(pages(4), "[BEGIN PDF Page 1]", "", 1)
	v := Verify(Source{Pages: 4}, text, text, DefaultConfig())
	assert.Equal(t, models.VerdictWarning, v.PageCheck)
	assert.Contains(t, strings.Join(v.Issues, "\n"), "[BEGIN PDF Page 1]")
}

func TestVerify_NoExtractedText(t *testing.T) {
	v := Verify(Source{Pages: 3}, "", pages(3), DefaultConfig())
	assert.Equal(t, models.VerdictWarning, v.SimilarityCheck)
	assert.Zero(t, v.Similarity)
}

func TestNormalize_StripsNoise(t *testing.T) {
	got := Normalize("[BEGIN PDF Page 2] See https://example.com/x on 01/02/2024 at 10:30, a 3 Q4 x7 Exhibit A12345 filed.")
	assert.Equal(t, []string{"see", "on", "at", "exhibit", "a12345", "filed"}, got)
}

func TestWordSimilarity_Multiset(t *testing.T) {
	a := []string{"rent", "rent", "lease"}
	b := []string{"rent", "lease", "deposit"}
	// min counts: rent 1, lease 1 = 2; max counts: rent 2, lease 1, deposit 1 = 4
	assert.InDelta(t, 0.5, WordSimilarity(a, b), 1e-9)
	assert.Equal(t, 1.0, WordSimilarity(nil, nil))
}

func TestSequenceSimilarity(t *testing.T) {
	a := strings.Fields("the court grants the motion")
	b := strings.Fields("the court denies the motion")
	// LCS = 4 of 5+5 tokens.
	assert.InDelta(t, 0.8, SequenceSimilarity(a, b), 1e-9)
	assert.Equal(t, 0.0, SequenceSimilarity(a, nil))
	assert.Equal(t, 1.0, SequenceSimilarity(b, b))
}

func TestReport_Write(t *testing.T) {
	dir := t.TempDir()
	saved := 42.5
	r := Report{
		Generated: time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC),
		Verdicts: []models.VerificationVerdict{
			{File: "a_f.txt", ExpectedPages: 3, ObservedMarkers: 3, Characters: 5000, Status: models.VerdictOK},
			{File: "b_f.txt", ExpectedPages: 9, ObservedMarkers: 2, Status: models.VerdictWarning, Issues: []string{"page count mismatch"}},
		},
		Manifest: []ManifestRow{
			{File: "a_o.pdf", URL: "https://storage.cloud.google.com/bkt/a_o.pdf", Bytes: 2 << 20, Pages: 3, Markers: 3, Status: models.VerdictOK, ReductionPct: &saved},
		},
		Errors: map[string]string{"c_f.txt": "source pdf missing"},
	}

	reportPath, manifestPath, err := r.Write(dir)
	require.NoError(t, err)
	assert.Contains(t, reportPath, "VERIFICATION_REPORT_20250304_050607.txt")

	text, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(text), "Total Files: 3")
	assert.Contains(t, string(text), "Warnings: 1")
	assert.Contains(t, string(text), "a_o.pdf, 2.000, 3, ok, 42.50, https://storage.cloud.google.com/bkt/a_o.pdf")
	assert.Contains(t, string(text), "NOT VERIFIED")

	f, err := os.Open(manifestPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, manifestHeader, rows[0])
	assert.Equal(t, "2097152", rows[1][3])
	assert.Equal(t, "42.50", rows[1][9])
}
