package models

import (
	"fmt"
	"strings"
	"time"
)

// Stage is one named step of the pipeline. The zero value is not a valid stage.
type Stage int

const (
	StageDirectory Stage = iota + 1
	StageRename
	StageClean
	StageConvert
	StageFormat
	StageUpload
	StageVerify
)

// AllStages lists every stage in pipeline order.
var AllStages = []Stage{
	StageDirectory,
	StageRename,
	StageClean,
	StageConvert,
	StageFormat,
	StageUpload,
	StageVerify,
}

var stageNames = map[Stage]string{
	StageDirectory: "directory",
	StageRename:    "rename",
	StageClean:     "clean",
	StageConvert:   "convert",
	StageFormat:    "format",
	StageUpload:    "upload",
	StageVerify:    "verify",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	_, ok := stageNames[s]
	return ok
}

// ParseStage maps a stage name (case-insensitive) to its Stage.
func ParseStage(name string) (Stage, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for stage, n := range stageNames {
		if n == name {
			return stage, nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}

// MarshalText lets stages appear by name in JSON reports and quarantine records.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(b []byte) error {
	parsed, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Document is one logical case file. BaseName is stable across stages; the
// suffix-encoded filename only exists at the filesystem boundary.
type Document struct {
	BaseName   string `json:"baseName" firestore:"baseName"`
	Stage      Stage  `json:"stage" firestore:"stage"`
	Path       string `json:"path" firestore:"path"`
	SourcePath string `json:"sourcePath,omitempty" firestore:"sourcePath,omitempty"`
	Size       int64  `json:"size" firestore:"size"`
}

// Job is a single unit of stage work handed to an operation.
type Job struct {
	Stage      Stage
	Document   Document
	OutputDir  string
	OutputPath string // empty when the operation decides the name itself
	RootDir    string
	RunID      string
	StartedAt  time.Time
}

// DocumentMetadata is what the rename service reads off a document's first
// page. Date is YYYYMMDD when known.
type DocumentMetadata struct {
	Date        string `json:"date"`
	Party       string `json:"party"`
	Case        string `json:"case"`
	Description string `json:"description"`
}
