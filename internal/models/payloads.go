package models

import (
	"fmt"
	"time"
)

// These structs are the report artifacts of a pipeline run. They are written
// as JSON to the log directory and mirrored to Firestore when configured.

// FailedFile is one entry in a StageReport's failure list.
type FailedFile struct {
	File     string `json:"file" firestore:"file"`
	Category string `json:"category" firestore:"category"`
	Message  string `json:"message" firestore:"message"`
}

// StageReport is the outcome of one stage invocation.
type StageReport struct {
	Stage     Stage        `json:"stage" firestore:"stage"`
	Processed int          `json:"processed" firestore:"processed"`
	Skipped   int          `json:"skipped" firestore:"skipped"`
	Failed    int          `json:"failed" firestore:"failed"`
	Pending   int          `json:"pending,omitempty" firestore:"pending,omitempty"`
	Failures  []FailedFile `json:"failures,omitempty" firestore:"failures,omitempty"`
	Started   time.Time    `json:"started" firestore:"started"`
	Finished  time.Time    `json:"finished" firestore:"finished"`
}

// Total is the number of inputs the stage saw.
func (r StageReport) Total() int {
	return r.Processed + r.Skipped + r.Failed + r.Pending
}

// QuarantineRecord describes a file that failed a stage and was copied to the
// dead-letter area.
type QuarantineRecord struct {
	File       string    `json:"file" firestore:"file"`
	SourcePath string    `json:"sourcePath" firestore:"sourcePath"`
	Stage      Stage     `json:"stage" firestore:"stage"`
	InputDir   string    `json:"inputDir" firestore:"inputDir"`
	Timestamp  time.Time `json:"timestamp" firestore:"timestamp"`
	Category   string    `json:"category" firestore:"category"`
	Message    string    `json:"message" firestore:"message"`
	RunID      string    `json:"runId,omitempty" firestore:"runId,omitempty"`

	// Location of the quarantined copy and its record; not serialized.
	CopyPath   string `json:"-" firestore:"-"`
	RecordPath string `json:"-" firestore:"-"`
}

// VerdictStatus is the outcome of an accuracy check, ordered by severity.
type VerdictStatus int

const (
	VerdictOK VerdictStatus = iota
	VerdictWarning
	VerdictFail
)

func (s VerdictStatus) String() string {
	switch s {
	case VerdictOK:
		return "ok"
	case VerdictWarning:
		return "warning"
	default:
		return "fail"
	}
}

func (s VerdictStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *VerdictStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "ok":
		*s = VerdictOK
	case "warning":
		*s = VerdictWarning
	case "fail":
		*s = VerdictFail
	default:
		return fmt.Errorf("unknown verdict status %q", b)
	}
	return nil
}

// Worst returns the more severe of s and other.
func (s VerdictStatus) Worst(other VerdictStatus) VerdictStatus {
	if other > s {
		return other
	}
	return s
}

// VerificationVerdict is the per-document accuracy result. It is a report
// artifact, never pipeline state.
type VerificationVerdict struct {
	File               string        `json:"file" firestore:"file"`
	SourcePDF          string        `json:"sourcePdf,omitempty" firestore:"sourcePdf,omitempty"`
	ExpectedPages      int           `json:"expectedPages" firestore:"expectedPages"`
	ObservedMarkers    int           `json:"observedMarkers" firestore:"observedMarkers"`
	Characters         int           `json:"characters" firestore:"characters"`
	LengthRatio        float64       `json:"lengthRatio" firestore:"lengthRatio"`
	WordSimilarity     float64       `json:"wordSimilarity" firestore:"wordSimilarity"`
	SequenceSimilarity float64       `json:"sequenceSimilarity" firestore:"sequenceSimilarity"`
	Similarity         float64       `json:"similarity" firestore:"similarity"`
	PageCheck          VerdictStatus `json:"pageCheck" firestore:"pageCheck"`
	LengthCheck        VerdictStatus `json:"lengthCheck" firestore:"lengthCheck"`
	SimilarityCheck    VerdictStatus `json:"similarityCheck" firestore:"similarityCheck"`
	Status             VerdictStatus `json:"status" firestore:"status"`
	Issues             []string      `json:"issues,omitempty" firestore:"issues,omitempty"`
}

// RunReport aggregates every stage of one orchestrator run.
type RunReport struct {
	RunID       string                `json:"runId" firestore:"runId"`
	RootDir     string                `json:"rootDir" firestore:"rootDir"`
	Stages      []Stage               `json:"stages" firestore:"stages"`
	Reports     []StageReport         `json:"reports" firestore:"reports"`
	Verdicts    []VerificationVerdict `json:"verdicts,omitempty" firestore:"verdicts,omitempty"`
	Quarantined []QuarantineRecord    `json:"quarantined,omitempty" firestore:"quarantined,omitempty"`
	Interrupted bool                  `json:"interrupted" firestore:"interrupted"`
	Started     time.Time             `json:"started" firestore:"started"`
	Finished    time.Time             `json:"finished" firestore:"finished"`
}

// Totals sums the per-stage counters.
func (r RunReport) Totals() (processed, skipped, failed int) {
	for _, sr := range r.Reports {
		processed += sr.Processed
		skipped += sr.Skipped
		failed += sr.Failed
	}
	return processed, skipped, failed
}
