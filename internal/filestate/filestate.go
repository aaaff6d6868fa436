// Package filestate encodes a document's pipeline stage in its filename
// suffix. Everything here is pure string manipulation; no function touches
// the filesystem.
package filestate

import (
	"path/filepath"
	"strings"

	"github.com/Lllllllleong/legaldocflow/internal/models"
)

// Suffix tokens written by the current pipeline.
const (
	TokenOriginal  = "d"
	TokenRenamed   = "r"
	TokenCleaned   = "o"
	TokenConverted = "c"
	TokenFormatted = "f"
)

// legacyTokens were written by earlier pipeline versions. They are stripped on
// retag but never produced.
var legacyTokens = []string{"a", "t", "g1", "v21", "v22", "v31"}

var known = func() map[string]bool {
	m := map[string]bool{
		TokenOriginal:  true,
		TokenRenamed:   true,
		TokenCleaned:   true,
		TokenConverted: true,
		TokenFormatted: true,
	}
	for _, t := range legacyTokens {
		m[t] = true
	}
	return m
}()

var stageTokens = map[models.Stage]string{
	models.StageDirectory: TokenOriginal,
	models.StageRename:    TokenRenamed,
	models.StageClean:     TokenCleaned,
	models.StageConvert:   TokenConverted,
	models.StageFormat:    TokenFormatted,
}

var stageExts = map[models.Stage]string{
	models.StageDirectory: ".pdf",
	models.StageRename:    ".pdf",
	models.StageClean:     ".pdf",
	models.StageConvert:   ".txt",
	models.StageFormat:    ".txt",
}

// IsKnown reports whether token belongs to the closed suffix set.
func IsKnown(token string) bool { return known[token] }

// TokenFor returns the suffix token a stage writes, if it writes one.
func TokenFor(stage models.Stage) (string, bool) {
	t, ok := stageTokens[stage]
	return t, ok
}

// ExtFor returns the file extension of a stage's output.
func ExtFor(stage models.Stage) string {
	return stageExts[stage]
}

// StageFor maps a current suffix token back to the stage that wrote it.
func StageFor(token string) (models.Stage, bool) {
	for stage, t := range stageTokens {
		if t == token {
			return stage, true
		}
	}
	return 0, false
}

// DeriveSuffix returns the recognized suffix token at the end of filename's
// stem, if any. Matching is case-sensitive.
func DeriveSuffix(filename string) (string, bool) {
	stem, _ := splitExt(filepath.Base(filename))
	_, token, ok := cutToken(stem)
	return token, ok
}

// Retag strips every trailing recognized token from filename and appends
// the token stage writes. The extension and any unrecognized trailing
// segment are preserved. Stages that write no token only strip.
// Retag(Retag(f, s), s) == Retag(f, s).
func Retag(filename string, stage models.Stage) string {
	dir, base := filepath.Split(filename)
	stem, ext := splitExt(base)
	stem = stripTokens(stem)
	if token, ok := stageTokens[stage]; ok {
		stem += "_" + token
	}
	return dir + stem + ext
}

// BaseName is the stage-independent document name: no directory, no
// extension, no suffix tokens.
func BaseName(filename string) string {
	stem, _ := splitExt(filepath.Base(filename))
	return stripTokens(stem)
}

// SafeBase returns a base name that BaseName maps back to itself. A base
// whose last segment is a suffix token gets "_1" appended, so "Exhibit_c"
// stays distinct from "Exhibit_d" instead of both collapsing to "Exhibit".
func SafeBase(base string) string {
	if _, _, ok := cutToken(base); ok {
		return base + "_1"
	}
	return base
}

// PathFor builds the on-disk path of a document at a stage.
func PathFor(dir, baseName string, stage models.Stage) string {
	token, ok := stageTokens[stage]
	if !ok {
		return filepath.Join(dir, baseName+stageExts[stage])
	}
	return filepath.Join(dir, baseName+"_"+token+stageExts[stage])
}

// Parse reads a document record from a path. Files without a current-stage
// token are reported at stage 0 (raw input).
func Parse(path string) models.Document {
	doc := models.Document{
		BaseName: BaseName(path),
		Path:     path,
	}
	if token, ok := DeriveSuffix(path); ok {
		if stage, ok := StageFor(token); ok {
			doc.Stage = stage
		}
	}
	return doc
}

func stripTokens(stem string) string {
	for {
		rest, _, ok := cutToken(stem)
		if !ok {
			return stem
		}
		stem = rest
	}
}

// cutToken splits "name_tok" into ("name", "tok") when tok is recognized and
// name is non-empty.
func cutToken(stem string) (string, string, bool) {
	i := strings.LastIndex(stem, "_")
	if i <= 0 {
		return stem, "", false
	}
	token := stem[i+1:]
	if !known[token] {
		return stem, "", false
	}
	return stem[:i], token, true
}

func splitExt(name string) (string, string) {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext), ext
}
