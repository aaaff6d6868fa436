package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"

	"github.com/Lllllllleong/legaldocflow/internal/models"
)

// --- Rename Model Prompts ---

const RenameSystemPrompt = "You are a legal document clerk. You read the first page of a court filing or case document and report its metadata. You must output your response as a single valid JSON object."

const RenameUserPrompt = `Analyze the first page of this legal document and return ONLY a JSON object with these fields:
{
  "date": "YYYYMMDD format - document date or filing date",
  "party": "Party acronym (e.g. the filing party's initials, Court, Clerk)",
  "case": "Case number acronym (9c1, 9c2, 3c1, 3c2, etc.) if found",
  "description": "Short hyphenated description (2-4 words, use hyphens not spaces)"
}

Examples of good descriptions:
- "Motion-Venue-Change"
- "Appraisal-Demand"
- "Answer-Counterclaim"
- "Hearing-Transcript"

Leave a field empty when the page does not show it. Return ONLY valid JSON, no explanations.`

// --- Format Model Prompts ---

const FormatSystemPrompt = "You are an expert legal proofreader. You correct OCR output of scanned legal documents. Accuracy, completeness and preservation of legal terminology are of utmost importance."

const FormatUserPrompt = `You are correcting OCR output for a legal document. Your task is to:
1. Fix OCR errors and preserve legal terminology
2. CRITICAL: Preserve ALL page markers EXACTLY as they appear: '[BEGIN PDF Page N]' with blank lines before and after
3. NEVER remove or modify page markers, especially [BEGIN PDF Page 1] - it MUST be preserved
4. Format with lines under 65 characters and proper paragraph breaks
5. Return only the corrected text with ALL page markers intact

IMPORTANT: The first page marker [BEGIN PDF Page 1] must appear at the start of the document body. Do not remove it.`

const formatMaxOutputTokens = 65536

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// VertexConfig selects the project and the models for each task.
type VertexConfig struct {
	ProjectID   string
	Location    string
	RenameModel string
	FormatModel string
	MaxRetries  int
}

// VertexClient holds the pre-configured generative models of the pipeline.
type VertexClient struct {
	RenameModel *genai.GenerativeModel
	FormatModel *genai.GenerativeModel
	baseClient  *genai.Client
	maxRetries  int
	logger      *slog.Logger
}

// NewVertexClient creates a client holding the rename and format models.
func NewVertexClient(ctx context.Context, cfg VertexConfig, logger *slog.Logger, opts ...option.ClientOption) (*VertexClient, error) {
	if cfg.ProjectID == "" || cfg.Location == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and location cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	baseClient, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Location, opts...)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	// --- Configure the rename model ---
	renameModel := baseClient.GenerativeModel(cfg.RenameModel)
	renameModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(RenameSystemPrompt)},
	}
	renameModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	renameModel.SafetySettings = safetySettings()

	// --- Configure the format model ---
	formatModel := baseClient.GenerativeModel(cfg.FormatModel)
	formatModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(FormatSystemPrompt)},
	}
	formatModel.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr[float32](0.1),
		MaxOutputTokens: genai.Ptr[int32](formatMaxOutputTokens),
	}
	// Court filings routinely describe violence and abuse.
	formatModel.SafetySettings = safetySettings()

	return &VertexClient{
		RenameModel: renameModel,
		FormatModel: formatModel,
		baseClient:  baseClient,
		maxRetries:  cfg.MaxRetries,
		logger:      logger,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// ExtractMetadata reads date, party, case and description from the PDF of
// a document's first page.
func (c *VertexClient) ExtractMetadata(ctx context.Context, pdf []byte) (models.DocumentMetadata, error) {
	logCtx := c.logger.With("model", "rename")
	var meta models.DocumentMetadata

	err := withRetry(ctx, logCtx, "Metadata extraction", c.maxRetries, func(ctx context.Context) error {
		resp, err := c.RenameModel.GenerateContent(ctx,
			genai.Blob{MIMEType: "application/pdf", Data: pdf},
			genai.Text(RenameUserPrompt),
		)
		if err != nil {
			return fmt.Errorf("failed to generate metadata from gemini: %w", err)
		}
		meta, err = parseMetadata(extractText(resp))
		return err
	})
	if err != nil {
		return models.DocumentMetadata{}, fmt.Errorf("%w: %w", models.ErrAPI, err)
	}
	logCtx.Debug("Metadata extraction complete.", "date", meta.Date, "description", meta.Description)
	return meta, nil
}

// Cleanup sends one document body (or chunk of it) through the format
// model and returns the corrected text.
func (c *VertexClient) Cleanup(ctx context.Context, body string) (string, error) {
	logCtx := c.logger.With("model", "format", "inputChars", len(body))
	var cleaned string

	err := withRetry(ctx, logCtx, "Cleanup", c.maxRetries, func(ctx context.Context) error {
		resp, err := c.FormatModel.GenerateContent(ctx, genai.Text(FormatUserPrompt+"\n\n"+body))
		if err != nil {
			return fmt.Errorf("%w: failed to generate cleaned content from gemini: %w", models.ErrAPI, err)
		}
		cleaned = extractText(resp)
		if cleaned == "" {
			return fmt.Errorf("%w: gemini returned no text", models.ErrFormat)
		}
		if err := checkRefusal(cleaned); err != nil {
			logCtx.Error("LLM refusal detected", "error", err, "response", truncate(cleaned, 200))
			return permanent(err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	logCtx.Debug("Cleanup complete.", "outputChars", len(cleaned))
	return cleaned, nil
}

func safetySettings() []*genai.SafetySetting {
	return []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}
}

// extractText concatenates the text parts of the first candidate and strips
// a surrounding markdown fence.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	var contentBuilder strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			contentBuilder.WriteString(string(txt))
		}
	}
	return trimFences(contentBuilder.String())
}

func trimFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	// Drop the opening fence line, including any language tag.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func checkRefusal(text string) error {
	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return fmt.Errorf("%w: gemini response indicates refusal (%q)", models.ErrFormat, phrase)
		}
	}
	return nil
}

// parseMetadata reads the JSON object out of a model answer. Dates are
// normalized to YYYYMMDD.
func parseMetadata(text string) (models.DocumentMetadata, error) {
	start, end := strings.IndexByte(text, '{'), strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return models.DocumentMetadata{}, fmt.Errorf("no JSON object in model response")
	}
	var meta models.DocumentMetadata
	if err := json.Unmarshal([]byte(text[start:end+1]), &meta); err != nil {
		return models.DocumentMetadata{}, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	meta.Date = strings.NewReplacer("-", "", "/", "", ".", "").Replace(strings.TrimSpace(meta.Date))
	meta.Description = strings.TrimSpace(meta.Description)
	return meta, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
