package gcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"

	"github.com/Lllllllleong/legaldocflow/internal/models"
)

const (
	featureDocumentText = "DOCUMENT_TEXT_DETECTION"
	featureText         = "TEXT_DETECTION"
	visionModel         = "builtin/latest"
)

// VisionConfig controls how PDFs are fed to the Vision API.
type VisionConfig struct {
	PagesPerRequest int   // the files:annotate limit is 5
	InlineLimit     int64 // larger files are sent one trimmed page window at a time
	LanguageHint    string
	MaxRetries      int
}

type annotateFunc func(ctx context.Context, req *vision.BatchAnnotateFilesRequest) (*vision.BatchAnnotateFilesResponse, error)

// VisionExtractor reads page text from PDFs with Cloud Vision OCR.
type VisionExtractor struct {
	config   VisionConfig
	annotate annotateFunc
	logger   *slog.Logger
}

func NewVisionExtractor(ctx context.Context, cfg VisionConfig, logger *slog.Logger, opts ...option.ClientOption) (*VisionExtractor, error) {
	svc, err := vision.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vision client: %w", err)
	}
	annotate := func(ctx context.Context, req *vision.BatchAnnotateFilesRequest) (*vision.BatchAnnotateFilesResponse, error) {
		return svc.Files.Annotate(req).Context(ctx).Do()
	}
	return newVisionExtractor(cfg, annotate, logger), nil
}

func newVisionExtractor(cfg VisionConfig, annotate annotateFunc, logger *slog.Logger) *VisionExtractor {
	if cfg.PagesPerRequest <= 0 || cfg.PagesPerRequest > 5 {
		cfg.PagesPerRequest = 5
	}
	if cfg.InlineLimit <= 0 {
		cfg.InlineLimit = 35 << 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VisionExtractor{config: cfg, annotate: annotate, logger: logger}
}

// ExtractPages returns the text of every page of pdfPath in page order. A
// page without recognizable text yields an empty string so the result
// always has pageCount entries.
func (e *VisionExtractor) ExtractPages(ctx context.Context, pdfPath string, pageCount int) ([]string, error) {
	if pageCount <= 0 {
		return nil, fmt.Errorf("%w: %s has no pages", models.ErrInvalidInput, pdfPath)
	}
	logCtx := e.logger.With("file", pdfPath, "pages", pageCount)

	info, err := os.Stat(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidInput, err)
	}
	var whole []byte
	if info.Size() <= e.config.InlineLimit {
		if whole, err = os.ReadFile(pdfPath); err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrInvalidInput, err)
		}
	} else {
		logCtx.Info("File above inline limit, sending trimmed page windows.", "bytes", info.Size())
	}

	texts := make([]string, pageCount)
	step := e.config.PagesPerRequest
	for start := 1; start <= pageCount; start += step {
		end := min(start+step-1, pageCount)

		content, pages, err := e.window(pdfPath, whole, start, end)
		if err != nil {
			return nil, err
		}
		got, err := e.annotateWindow(ctx, logCtx, content, pages, featureDocumentText)
		if err != nil {
			return nil, err
		}
		if allBlank(got) {
			logCtx.Warn("No text from document detection, retrying with text detection.", "start", start, "end", end)
			if got, err = e.annotateWindow(ctx, logCtx, content, pages, featureText); err != nil {
				return nil, err
			}
		}
		copy(texts[start-1:end], got)
	}

	logCtx.Info("Text extraction complete.", "emptyPages", countBlank(texts))
	return texts, nil
}

// window returns the base64 PDF content for pages start..end and the page
// numbers to request from it.
func (e *VisionExtractor) window(pdfPath string, whole []byte, start, end int) (string, []int64, error) {
	if whole != nil {
		pages := make([]int64, 0, end-start+1)
		for p := start; p <= end; p++ {
			pages = append(pages, int64(p))
		}
		return base64.StdEncoding.EncodeToString(whole), pages, nil
	}

	tmp, err := os.CreateTemp("", "docflow-window-*.pdf")
	if err != nil {
		return "", nil, fmt.Errorf("%w: failed to create temp window: %w", models.ErrConvert, err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.TrimFile(pdfPath, tmpPath, []string{fmt.Sprintf("%d-%d", start, end)}, conf); err != nil {
		return "", nil, fmt.Errorf("%w: failed to trim pages %d-%d: %w", models.ErrConvert, start, end, err)
	}
	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", models.ErrConvert, err)
	}
	pages := make([]int64, 0, end-start+1)
	for p := 1; p <= end-start+1; p++ {
		pages = append(pages, int64(p))
	}
	return base64.StdEncoding.EncodeToString(data), pages, nil
}

func (e *VisionExtractor) annotateWindow(ctx context.Context, logCtx *slog.Logger, content string, pages []int64, feature string) ([]string, error) {
	req := &vision.BatchAnnotateFilesRequest{
		Requests: []*vision.AnnotateFileRequest{{
			InputConfig: &vision.InputConfig{Content: content, MimeType: "application/pdf"},
			Features:    []*vision.Feature{{Type: feature, Model: visionModel}},
			Pages:       pages,
		}},
	}
	if e.config.LanguageHint != "" {
		req.Requests[0].ImageContext = &vision.ImageContext{LanguageHints: []string{e.config.LanguageHint}}
	}

	var resp *vision.BatchAnnotateFilesResponse
	err := withRetry(ctx, logCtx, "Vision annotate", e.config.MaxRetries, func(ctx context.Context) error {
		var err error
		resp, err = e.annotate(ctx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: vision %s: %w", models.ErrAPI, feature, err)
	}

	out := make([]string, len(pages))
	if resp == nil || len(resp.Responses) == 0 {
		return out, nil
	}
	file := resp.Responses[0]
	if file.Error != nil && file.Error.Code != 0 {
		return nil, fmt.Errorf("%w: vision %s: %s", models.ErrAPI, feature, file.Error.Message)
	}

	index := make(map[int64]int, len(pages))
	for i, p := range pages {
		index[p] = i
	}
	for i, page := range file.Responses {
		if page == nil {
			continue
		}
		slot := i
		if page.Context != nil && page.Context.PageNumber > 0 {
			if j, ok := index[page.Context.PageNumber]; ok {
				slot = j
			}
		}
		if slot >= len(out) {
			continue
		}
		if page.Error != nil && page.Error.Code != 0 {
			logCtx.Warn("Vision page error", "page", pages[slot], "error", page.Error.Message)
			continue
		}
		if page.FullTextAnnotation != nil {
			out[slot] = page.FullTextAnnotation.Text
		}
	}
	return out, nil
}

func allBlank(texts []string) bool {
	return countBlank(texts) == len(texts)
}

func countBlank(texts []string) int {
	n := 0
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			n++
		}
	}
	return n
}
