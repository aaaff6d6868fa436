package pipeline

import (
	"os"

	"github.com/Lllllllleong/legaldocflow/internal/models"
)

// ResumeFilter drops inputs whose expected output already exists. It reads
// only the filesystem, so any stage can be re-run after an interruption.
type ResumeFilter struct {
	spec StageSpec
	agg  *reportAggregator
}

func newResumeFilter(spec StageSpec, agg *reportAggregator) *ResumeFilter {
	return &ResumeFilter{spec: spec, agg: agg}
}

// Keep reports whether doc still needs processing and returns its expected
// output path (empty when unknown). A skipped document bumps the stage's
// skip counter by one.
func (f *ResumeFilter) Keep(doc models.Document) (bool, string) {
	out, known := f.spec.ExpectedOutput(doc)
	if !known || out == "" {
		return true, ""
	}
	if _, err := os.Stat(out); err == nil {
		f.agg.addSkipped()
		return false, out
	}
	return true, out
}
