package verify

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/legaldocflow/internal/models"
)

// ManifestRow is one line of the PDF manifest written next to the report.
type ManifestRow struct {
	File         string
	URL          string
	LocalPath    string
	Bytes        int64
	Pages        int
	Markers      int
	Status       models.VerdictStatus
	Issues       []string
	ReductionPct *float64 // size saved by the clean stage, when the renamed PDF is still around
}

var manifestHeader = []string{"file", "gcs_url", "local_path", "bytes", "mb", "pdf_pages", "formatted_pages", "status", "issues", "reduction_pct"}

// Report is the result of a verification run.
type Report struct {
	Generated time.Time
	Verdicts  []models.VerificationVerdict
	Manifest  []ManifestRow
	// Errors lists files that could not be verified at all.
	Errors map[string]string
}

// Write stores the text report and the CSV manifest in dir and returns
// their paths.
func (r Report) Write(dir string) (reportPath, manifestPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create report dir: %w", err)
	}
	stamp := r.Generated.Format("20060102_150405")
	reportPath = filepath.Join(dir, "VERIFICATION_REPORT_"+stamp+".txt")
	manifestPath = filepath.Join(dir, "PDF_MANIFEST_"+stamp+".csv")

	if err := r.writeText(reportPath); err != nil {
		return "", "", err
	}
	if err := r.writeCSV(manifestPath); err != nil {
		return reportPath, "", err
	}
	return reportPath, manifestPath, nil
}

// Counts tallies verdicts by status.
func (r Report) Counts() (ok, warning, fail int) {
	for _, v := range r.Verdicts {
		switch v.Status {
		case models.VerdictOK:
			ok++
		case models.VerdictWarning:
			warning++
		default:
			fail++
		}
	}
	return ok, warning, fail
}

func (r Report) writeText(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	rule := strings.Repeat("=", 80)
	thin := strings.Repeat("-", 80)
	ok, warning, fail := r.Counts()

	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "DOCUMENT PIPELINE - VERIFICATION REPORT")
	fmt.Fprintf(w, "Generated: %s\n", r.Generated.Format("2006-01-02 15:04:05"))
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "SUMMARY")
	fmt.Fprintln(w, thin)
	fmt.Fprintf(w, "Total Files: %d\n", len(r.Verdicts)+len(r.Errors))
	fmt.Fprintf(w, "Verified OK: %d\n", ok)
	fmt.Fprintf(w, "Warnings: %d\n", warning)
	fmt.Fprintf(w, "Failed: %d\n", fail)
	fmt.Fprintf(w, "Not Verified: %d\n\n", len(r.Errors))

	fmt.Fprintln(w, "PDF MANIFEST")
	fmt.Fprintln(w, thin)
	fmt.Fprintln(w, "File, Size (MB), Pages, Status, Reduction (%), GCS URL")
	for _, row := range r.Manifest {
		fmt.Fprintf(w, "%s, %.3f, %d, %s, %s, %s\n", row.File, mb(row.Bytes), row.Pages, row.Status, reduction(row.ReductionPct), row.URL)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "DETAILED RESULTS")
	fmt.Fprintln(w, thin)
	for _, v := range r.Verdicts {
		fmt.Fprintf(w, "\nFile: %s\n", v.File)
		fmt.Fprintf(w, "Status: %s\n", strings.ToUpper(v.Status.String()))
		fmt.Fprintf(w, "PDF Pages: %d\n", v.ExpectedPages)
		fmt.Fprintf(w, "Formatted Pages: %d\n", v.ObservedMarkers)
		fmt.Fprintf(w, "Characters: %d\n", v.Characters)
		if v.Similarity > 0 {
			fmt.Fprintf(w, "Similarity: %.1f%% (words %.1f%%, sequence %.1f%%)\n", v.Similarity*100, v.WordSimilarity*100, v.SequenceSimilarity*100)
			fmt.Fprintf(w, "Length Ratio: %.2f\n", v.LengthRatio)
		}
		if len(v.Issues) > 0 {
			fmt.Fprintln(w, "Issues:")
			for _, issue := range v.Issues {
				fmt.Fprintf(w, "  - %s\n", issue)
			}
		}
	}
	for _, file := range slices.Sorted(maps.Keys(r.Errors)) {
		fmt.Fprintf(w, "\nFile: %s\nStatus: NOT VERIFIED\nError: %s\n", file, r.Errors[file])
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func (r Report) writeCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(manifestHeader); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	for _, row := range r.Manifest {
		rec := []string{
			row.File,
			row.URL,
			row.LocalPath,
			strconv.FormatInt(row.Bytes, 10),
			strconv.FormatFloat(mb(row.Bytes), 'f', 3, 64),
			strconv.Itoa(row.Pages),
			strconv.Itoa(row.Markers),
			row.Status.String(),
			strings.Join(row.Issues, "; "),
			reduction(row.ReductionPct),
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("failed to write manifest: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func mb(n int64) float64 { return float64(n) / (1 << 20) }

func reduction(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', 2, 64)
}
