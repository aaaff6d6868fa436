package services

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHeader() DocumentHeader {
	return DocumentHeader{Name: "20230105_Motion", OriginalPDF: "20230105_Motion_o.pdf", Directory: "Smith-v-Jones"}
}

func TestRenderConverted(t *testing.T) {
	text := RenderConverted(sampleHeader(), []string{"First page.\n", "", "Third page."})

	assert.True(t, strings.HasPrefix(text, "§§ DOCUMENT INFORMATION §§\n\nDOCUMENT NUMBER: TBD\nDOCUMENT NAME: 20230105_Motion\n"))
	assert.Contains(t, text, "PDF PUBLIC LINK: PENDING UPLOAD\nTOTAL PAGES: 3\n")
	assert.Contains(t, text, "BEGINNING OF PROCESSED DOCUMENT\n=====================================================================\n\n[BEGIN PDF Page 1]\n\nFirst page.\n\n[BEGIN PDF Page 2]\n\n\n\n[BEGIN PDF Page 3]\n\nThird page.\n")
	assert.True(t, strings.HasSuffix(text, "Third page.\n\n=====================================================================\nEND OF PROCESSED DOCUMENT\n=====================================================================\n"))
}

func TestSplitAndJoinDocument(t *testing.T) {
	text := RenderConverted(sampleHeader(), []string{"alpha", "beta"})

	header, body, foot, err := SplitDocument(text)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(header, "BEGINNING OF PROCESSED DOCUMENT\n=====================================================================\n"))
	assert.Equal(t, "[BEGIN PDF Page 1]\n\nalpha\n\n[BEGIN PDF Page 2]\n\nbeta", body)
	assert.True(t, strings.HasPrefix(foot, "=====================================================================\nEND OF PROCESSED DOCUMENT"))

	assert.Equal(t, text, JoinDocument(header, body, foot))

	_, _, _, err = SplitDocument("just some text")
	assert.ErrorIs(t, err, ErrTemplate)
}

func markedBody(pages int) string {
	parts := make([]string, 0, pages)
	for i := 1; i <= pages; i++ {
		parts = append(parts, fmt.Sprintf("[BEGIN PDF Page %d]\n\npage %d text", i, i))
	}
	return strings.Join(parts, "\n\n")
}

func TestChunkBody(t *testing.T) {
	assert.Len(t, ChunkBody(markedBody(80), 80), 1)

	chunks := ChunkBody(markedBody(170), 80)
	require.Len(t, chunks, 3)
	assert.True(t, strings.HasPrefix(chunks[0], "[BEGIN PDF Page 1]"))
	assert.True(t, strings.HasSuffix(chunks[0], "page 80 text"))
	assert.True(t, strings.HasPrefix(chunks[1], "[BEGIN PDF Page 81]"))
	assert.True(t, strings.HasPrefix(chunks[2], "[BEGIN PDF Page 161]"))
	assert.True(t, strings.HasSuffix(chunks[2], "page 170 text"))

	// Rejoining the chunks restores the body.
	assert.Equal(t, markedBody(170), strings.Join(chunks, "\n\n"))
}

func TestPublicLink(t *testing.T) {
	text := RenderConverted(sampleHeader(), []string{"PDF PUBLIC LINK: quoted in the body"})
	assert.Equal(t, "", PublicLink(text))

	url := "https://storage.cloud.google.com/bkt/docs/Smith-v-Jones/20230105_Motion_o.pdf"
	patched := SetPublicLink(text, url)
	assert.Equal(t, url, PublicLink(patched))
	assert.Contains(t, patched, "PDF PUBLIC LINK: quoted in the body", "body lines are never rewritten")
	assert.Equal(t, 1, strings.Count(patched, url))

	// Idempotent.
	assert.Equal(t, patched, SetPublicLink(patched, url))

	bare := SetPublicLink("no header here", url)
	assert.True(t, strings.HasPrefix(bare, "PDF PUBLIC LINK: "+url+"\n\n"))
}
