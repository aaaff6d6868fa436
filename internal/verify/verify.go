// Package verify scores a formatted text artifact against the text extracted
// from its source PDF. The verdict is advisory: nothing in the pipeline
// retries or blocks on it.
package verify

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/Lllllllleong/legaldocflow/internal/models"
)

// PageMarker prefixes every page in converted and formatted text.
const PageMarker = "[BEGIN PDF Page "

const (
	wordWeight     = 0.7
	sequenceWeight = 0.3
)

// Config holds the verdict thresholds.
type Config struct {
	PageTolerance    int
	MinCharacters    int
	OKThreshold      float64
	WarningThreshold float64
	// MaxTokens caps each side of the sequence comparison.
	MaxTokens int
}

func DefaultConfig() Config {
	return Config{
		PageTolerance:    2,
		MinCharacters:    1000,
		OKThreshold:      0.85,
		WarningThreshold: 0.65,
		MaxTokens:        5000,
	}
}

// Source describes the document the texts were produced from.
type Source struct {
	File    string // formatted text file name
	PDFPath string
	Pages   int
}

var (
	markerPattern = regexp.MustCompile(`\[BEGIN PDF Page \d+\]`)
	urlPattern    = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
	datePattern   = regexp.MustCompile(`\b\d{1,4}[/.\-]\d{1,2}[/.\-]\d{1,4}\b`)
	timePattern   = regexp.MustCompile(`\b\d{1,2}:\d{2}(?::\d{2})?\b`)
	wordPattern   = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}]+)?`)
)

// Verify compares formatted against extracted and checks the page markers
// in formatted against the source page count. An empty extracted text skips
// the similarity check.
func Verify(src Source, extracted, formatted string, cfg Config) models.VerificationVerdict {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	v := models.VerificationVerdict{
		File:            src.File,
		SourcePDF:       src.PDFPath,
		ExpectedPages:   src.Pages,
		ObservedMarkers: CountPageMarkers(formatted),
		Characters:      len([]rune(formatted)),
	}

	// Page markers.
	switch {
	case v.ObservedMarkers == 0:
		v.PageCheck = models.VerdictWarning
		v.Issues = append(v.Issues, "no page markers found")
	case abs(v.ObservedMarkers-src.Pages) > cfg.PageTolerance:
		v.PageCheck = models.VerdictWarning
		v.Issues = append(v.Issues, fmt.Sprintf("page count mismatch: pdf has %d, markers found %d", src.Pages, v.ObservedMarkers))
	}
	if v.ObservedMarkers > 0 && !strings.Contains(formatted, PageMarker+"1]") {
		v.PageCheck = v.PageCheck.Worst(models.VerdictWarning)
		v.Issues = append(v.Issues, "missing [BEGIN PDF Page 1] marker, content may be incomplete")
	}

	// Length floor.
	if v.Characters < cfg.MinCharacters {
		v.LengthCheck = models.VerdictWarning
		v.Issues = append(v.Issues, fmt.Sprintf("text length unusually short: %d characters", v.Characters))
	}

	// Similarity.
	if strings.TrimSpace(extracted) == "" {
		v.SimilarityCheck = models.VerdictWarning
		v.Issues = append(v.Issues, "extracted text unavailable, similarity not scored")
	} else {
		if n := len([]rune(extracted)); n > 0 {
			v.LengthRatio = round(float64(v.Characters) / float64(n))
		}
		a, b := Normalize(extracted), Normalize(formatted)
		v.WordSimilarity = round(WordSimilarity(a, b))
		v.SequenceSimilarity = round(SequenceSimilarity(capTokens(a, cfg.MaxTokens), capTokens(b, cfg.MaxTokens)))
		v.Similarity = round(wordWeight*v.WordSimilarity + sequenceWeight*v.SequenceSimilarity)

		switch {
		case v.Similarity >= cfg.OKThreshold:
			v.SimilarityCheck = models.VerdictOK
		case v.Similarity >= cfg.WarningThreshold:
			v.SimilarityCheck = models.VerdictWarning
			v.Issues = append(v.Issues, fmt.Sprintf("similarity %.0f%% below %.0f%%", v.Similarity*100, cfg.OKThreshold*100))
		default:
			v.SimilarityCheck = models.VerdictFail
			v.Issues = append(v.Issues, fmt.Sprintf("similarity %.0f%% below %.0f%%", v.Similarity*100, cfg.WarningThreshold*100))
		}
	}

	v.Status = v.PageCheck.Worst(v.LengthCheck).Worst(v.SimilarityCheck)
	return v
}

// CountPageMarkers counts well-formed page markers.
func CountPageMarkers(text string) int {
	return len(markerPattern.FindAllStringIndex(text, -1))
}

// Normalize lowercases text, strips page markers and OCR artifacts and
// returns the remaining word tokens. URLs, numeric date and time stamps,
// isolated single characters and short tokens mixing letters and digits
// are treated as noise.
func Normalize(text string) []string {
	text = markerPattern.ReplaceAllString(text, " ")
	text = urlPattern.ReplaceAllString(text, " ")
	text = datePattern.ReplaceAllString(text, " ")
	text = timePattern.ReplaceAllString(text, " ")
	text = strings.ToLower(text)

	raw := wordPattern.FindAllString(text, -1)
	out := raw[:0]
	for _, w := range raw {
		if isNoise(w) {
			continue
		}
		out = append(out, w)
	}
	return out
}

func isNoise(w string) bool {
	r := []rune(w)
	if len(r) <= 1 {
		return true
	}
	if len(r) > 4 {
		return false
	}
	var letters, digits bool
	for _, c := range r {
		switch {
		case unicode.IsLetter(c):
			letters = true
		case unicode.IsDigit(c):
			digits = true
		}
	}
	return letters && digits
}

// WordSimilarity is the Jaccard index of two word multisets: the sum of
// per-word minimum counts over the sum of per-word maximum counts.
func WordSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	ca, cb := counts(a), counts(b)
	var inter, union int
	for w, n := range ca {
		m := cb[w]
		inter += min(n, m)
		union += max(n, m)
	}
	for w, m := range cb {
		if _, ok := ca[w]; !ok {
			union += m
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// SequenceSimilarity is 2·LCS/(len(a)+len(b)) over word tokens.
func SequenceSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) > len(a) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return 2 * float64(prev[len(b)]) / float64(len(a)+len(b))
}

func counts(words []string) map[string]int {
	m := make(map[string]int, len(words))
	for _, w := range words {
		m[w]++
	}
	return m
}

func capTokens(t []string, n int) []string {
	if len(t) > n {
		return t[:n]
	}
	return t
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func round(f float64) float64 {
	return math.Round(f*10000) / 10000
}
