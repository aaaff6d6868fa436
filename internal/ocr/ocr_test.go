package ocr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/legaldocflow/internal/models"
)

// fakeExec records invocations and writes the file named by the output
// argument unless the tool is listed in fail.
type fakeExec struct {
	calls [][]string
	fail  map[string]bool
	write func(name string, args []string) (path string, size int)
}

func (f *fakeExec) run(_ context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.fail[name] {
		return "line one\nERROR: page 3 unreadable", errors.New("exit status 2")
	}
	if f.write != nil {
		if path, size := f.write(name, args); path != "" {
			if err := os.WriteFile(path, []byte(strings.Repeat("x", size)), 0o644); err != nil {
				return "", err
			}
		}
	}
	return "", nil
}

func lastArg(args []string) string { return args[len(args)-1] }

func TestOCRmyPDF_Args(t *testing.T) {
	fe := &fakeExec{}
	o := NewOCRmyPDF("", 0)
	o.Exec = fe.run

	require.NoError(t, o.Run(context.Background(), "in.pdf", "out.pdf"))
	assert.Equal(t, []string{"ocrmypdf", "--redo-ocr", "--output-type", "pdfa", "--oversample", "600", "in.pdf", "out.pdf"}, fe.calls[0])
}

func TestChain_FallsBackToFlatten(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "doc_o.pdf")

	calls := 0
	fe := &fakeExec{}
	fe.write = func(name string, args []string) (string, int) {
		if name == "gs" {
			return args[2], 10 // -o <tmp>
		}
		return lastArg(args), 10
	}
	primary := &OCRmyPDF{Path: "ocrmypdf", DPI: 600, Exec: func(ctx context.Context, name string, args ...string) (string, error) {
		calls++
		if calls == 1 {
			return "boom", errors.New("exit status 6")
		}
		return fe.run(ctx, name, args...)
	}}
	chain := &Chain{Primary: primary, Fallback: &Flatten{Ghostscript: "gs", OCR: primary, Exec: fe.run}}

	require.NoError(t, chain.Run(context.Background(), filepath.Join(dir, "doc_r.pdf"), out))
	assert.FileExists(t, out)
	require.Len(t, fe.calls, 2)
	assert.Equal(t, "gs", fe.calls[0][0])
	assert.Equal(t, "-sDEVICE=pdfimage32", fe.calls[0][1])
	// The flattened temp copy is cleaned up.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestChain_BothFailIsOCRError(t *testing.T) {
	dir := t.TempDir()
	fe := &fakeExec{fail: map[string]bool{"ocrmypdf": true, "gs": true}}
	o := &OCRmyPDF{Path: "ocrmypdf", DPI: 600, Exec: fe.run}
	chain := &Chain{Primary: o, Fallback: &Flatten{Ghostscript: "gs", OCR: o, Exec: fe.run}}

	err := chain.Run(context.Background(), "in.pdf", filepath.Join(dir, "out.pdf"))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrOCR)
	assert.Equal(t, "ocr", models.ErrorCategory(err))
	assert.NoFileExists(t, filepath.Join(dir, "out.pdf"))
}

func TestCompressor_KeepsOnlySignificantSavings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc_o.pdf")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("p", 1000)), 0o644))

	outputSize := 950
	fe := &fakeExec{write: func(_ string, args []string) (string, int) {
		for _, a := range args {
			if strings.HasPrefix(a, "-sOutputFile=") {
				return strings.TrimPrefix(a, "-sOutputFile="), outputSize
			}
		}
		return "", 0
	}}
	c := &Compressor{Ghostscript: "gs", MinSavings: 0.10, Exec: fe.run}

	before, after, err := c.Compress(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), before)
	assert.Equal(t, int64(1000), after, "5% saving is not worth it")

	outputSize = 600
	before, after, err = c.Compress(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), before)
	assert.Equal(t, int64(600), after)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(600), info.Size())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
