package services

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Converted and formatted text files share one layout: an information
// header, the page-marked body and a footer. Only the body goes to the
// model.
const (
	headerTitle   = "§§ DOCUMENT INFORMATION §§"
	rule          = "====================================================================="
	beginBody     = "BEGINNING OF PROCESSED DOCUMENT"
	endBody       = "END OF PROCESSED DOCUMENT"
	directoryKey  = "PDF DIRECTORY:"
	publicLinkKey = "PDF PUBLIC LINK:"

	// PublicURLPrefix starts every browser link to a stored object.
	PublicURLPrefix = "https://storage.cloud.google.com/"

	// PendingLink stands in for the public URL until the upload stage runs.
	PendingLink = "PENDING UPLOAD"
)

// ErrTemplate means a text file does not have the header/body/footer layout.
var ErrTemplate = errors.New("document template markers not found")

var (
	pageMarker     = regexp.MustCompile(`(?m)^\[BEGIN PDF Page \d+\]`)
	publicLinkLine = regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(publicLinkKey) + `.*$`)
)

// DocumentHeader is the information block at the top of a text artifact.
type DocumentHeader struct {
	Name        string
	OriginalPDF string
	Directory   string
	PublicLink  string
	TotalPages  int
}

func (h DocumentHeader) render() string {
	link := h.PublicLink
	if link == "" {
		link = PendingLink
	}
	var b strings.Builder
	b.WriteString(headerTitle + "\n\n")
	b.WriteString("DOCUMENT NUMBER: TBD\n")
	fmt.Fprintf(&b, "DOCUMENT NAME: %s\n", h.Name)
	fmt.Fprintf(&b, "ORIGINAL PDF NAME: %s\n", h.OriginalPDF)
	fmt.Fprintf(&b, "%s %s\n", directoryKey, h.Directory)
	fmt.Fprintf(&b, "%s %s\n", publicLinkKey, link)
	fmt.Fprintf(&b, "TOTAL PAGES: %d\n\n", h.TotalPages)
	b.WriteString(rule + "\n" + beginBody + "\n" + rule + "\n\n")
	return b.String()
}

func footer() string {
	return "\n" + rule + "\n" + endBody + "\n" + rule + "\n"
}

// RenderConverted lays out extracted page texts with one marker per page.
func RenderConverted(h DocumentHeader, pages []string) string {
	h.TotalPages = len(pages)
	var b strings.Builder
	b.WriteString(h.render())
	for i, text := range pages {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[BEGIN PDF Page %d]\n\n%s\n", i+1, strings.TrimSpace(text))
	}
	b.WriteString(footer())
	return b.String()
}

// SplitDocument separates a text artifact into header (through the rule
// under the begin marker), trimmed body and footer (from the rule above the
// end marker).
func SplitDocument(text string) (header, body, foot string, err error) {
	begin := strings.Index(text, beginBody)
	end := strings.LastIndex(text, rule+"\n"+endBody)
	if begin < 0 || end < 0 || end < begin {
		return "", "", "", ErrTemplate
	}
	// Skip the marker line and the rule below it.
	bodyStart := begin + len(beginBody)
	for i := 0; i < 2; i++ {
		nl := strings.IndexByte(text[bodyStart:], '\n')
		if nl < 0 {
			return "", "", "", ErrTemplate
		}
		bodyStart += nl + 1
	}
	if bodyStart > end {
		return "", "", "", ErrTemplate
	}
	return text[:bodyStart], strings.TrimSpace(text[bodyStart:end]), text[end:], nil
}

// JoinDocument reassembles a split document with blank lines between the
// parts.
func JoinDocument(header, body, foot string) string {
	if !strings.HasSuffix(header, "\n\n") {
		header = strings.TrimRight(header, "\n") + "\n\n"
	}
	return header + body + "\n\n" + foot
}

// ChunkBody splits a body into pieces of at most perChunk pages, cutting
// only at page markers.
func ChunkBody(body string, perChunk int) []string {
	markers := pageMarker.FindAllStringIndex(body, -1)
	if perChunk <= 0 || len(markers) <= perChunk {
		return []string{body}
	}
	var chunks []string
	for i := 0; i < len(markers); i += perChunk {
		start := markers[i][0]
		if i == 0 {
			start = 0
		}
		end := len(body)
		if i+perChunk < len(markers) {
			end = markers[i+perChunk][0]
		}
		chunks = append(chunks, strings.TrimSpace(body[start:end]))
	}
	return chunks
}

// SetPublicLink rewrites the public link line of the header. Documents
// without one get it prepended.
func SetPublicLink(text, url string) string {
	headEnd := strings.Index(text, beginBody)
	if headEnd < 0 {
		headEnd = len(text)
	}
	head := text[:headEnd]
	loc := publicLinkLine.FindStringIndex(head)
	if loc == nil {
		return publicLinkKey + " " + url + "\n\n" + text
	}
	return text[:loc[0]] + publicLinkKey + " " + url + text[loc[1]:]
}

// PublicLink reads the public link from the header, or "" when it is
// missing or still pending.
func PublicLink(text string) string {
	headEnd := strings.Index(text, beginBody)
	if headEnd < 0 {
		headEnd = len(text)
	}
	line := publicLinkLine.FindString(text[:headEnd])
	if line == "" {
		return ""
	}
	link := strings.TrimSpace(strings.TrimPrefix(line, publicLinkKey))
	if link == PendingLink {
		return ""
	}
	return link
}

// HeaderValue returns the trimmed value of the header line starting with key.
// Only lines before the body are searched.
func HeaderValue(text, key string) (string, bool) {
	if i := strings.Index(text, beginBody); i >= 0 {
		text = text[:i]
	}
	for _, line := range strings.Split(text, "\n") {
		if v, ok := strings.CutPrefix(line, key); ok {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}
