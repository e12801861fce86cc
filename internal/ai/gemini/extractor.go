package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/ai"
	"github.com/spigell/job-radar/internal/posting"
	"github.com/spigell/job-radar/internal/utils"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

//go:embed prompt.md
var promptTemplate string

const defaultMaxLogLength = 200

// Extractor turns batches of posting or resume texts into structured fields
// via prompt-based extraction.
type Extractor struct {
	generator contentGenerator
	batchSize int
	logger    *zap.Logger
	maxLogLen int
}

var _ ai.Extractor = (*Extractor)(nil)

// NewExtractor builds an Extractor on top of a content generator. batchSize
// bounds how many texts travel in one provider request.
func NewExtractor(generator contentGenerator, batchSize, maxLogLength int, logger *zap.Logger) *Extractor {
	if batchSize <= 0 {
		batchSize = ai.DefaultPolicy().MaxBatchSize
	}
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Extractor{
		generator: generator,
		batchSize: batchSize,
		logger:    logger,
		maxLogLen: maxLogLength,
	}
}

// ExtractFields processes the texts batch by batch. Results are
// order-preserving. Permanent provider errors abort the whole call; every
// other failure is confined to the affected batch's items.
func (e *Extractor) ExtractFields(ctx context.Context, texts []string) ([]ai.FieldsResult, error) {
	results := make([]ai.FieldsResult, len(texts))

	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch := texts[start:end]

		prompt, err := buildExtractionPrompt(batch)
		if err != nil {
			for i := start; i < end; i++ {
				results[i] = ai.FieldsResult{Err: err}
			}
			continue
		}

		e.logger.Debug("extraction request",
			zap.Int("batch_size", len(batch)),
			zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
			zap.String("prompt_preview", utils.TruncateForLog(prompt, e.maxLogLen)),
		)

		raw, err := e.generator.GenerateContent(ctx, prompt)
		if err != nil {
			if ai.IsPermanent(err) {
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			// Retries exhausted or the response never materialized: the
			// failure belongs to this batch's items, not to the run.
			for i := start; i < end; i++ {
				results[i] = ai.FieldsResult{Err: err}
			}
			continue
		}

		e.logger.Debug("extraction response",
			zap.Int("response_length", utf8.RuneCountInString(raw)),
			zap.String("response_preview", utils.TruncateForLog(raw, e.maxLogLen)),
		)

		copy(results[start:end], parseBatchResponse(raw, len(batch)))
	}

	return results, nil
}

func buildExtractionPrompt(texts []string) (string, error) {
	payload, err := json.Marshal(texts)
	if err != nil {
		return "", ai.Parse("extract", fmt.Errorf("marshal batch payload: %w", err))
	}

	prompt := strings.ReplaceAll(promptTemplate, "{{COUNT}}", strconv.Itoa(len(texts)))
	prompt = strings.ReplaceAll(prompt, "{{POSTINGS_JSON}}", string(payload))

	return prompt, nil
}

// parseBatchResponse splits the model's JSON array answer into per-item
// results. A malformed array fails every item of the batch; a malformed
// element fails only that element.
func parseBatchResponse(raw string, n int) []ai.FieldsResult {
	results := make([]ai.FieldsResult, n)

	cleaned := extractJSON(raw)

	var elements []json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &elements); err != nil {
		failAll(results, ai.Parse("extract", fmt.Errorf("response is not a JSON array: %w", err)))
		return results
	}

	if len(elements) != n {
		failAll(results, ai.Parse("extract", fmt.Errorf("expected %d elements, got %d", n, len(elements))))
		return results
	}

	for i, element := range elements {
		fields, err := parseFields(element)
		if err != nil {
			results[i] = ai.FieldsResult{Err: err}
			continue
		}
		results[i] = ai.FieldsResult{Fields: fields}
	}

	return results
}

func failAll(results []ai.FieldsResult, err error) {
	for i := range results {
		results[i] = ai.FieldsResult{Err: err}
	}
}

func parseFields(element json.RawMessage) (*posting.Fields, error) {
	var data map[string]any
	if err := json.Unmarshal(element, &data); err != nil {
		return nil, ai.Parse("extract", fmt.Errorf("element is not an object: %w", err))
	}

	minYears := coerceFloat(data["experience_min"])
	maxYears := coerceFloat(data["experience_max"])
	if math.IsNaN(minYears) || minYears < 0 {
		minYears = 0
	}
	if math.IsNaN(maxYears) || maxYears < minYears {
		maxYears = minYears
	}

	return &posting.Fields{
		Skills:        coerceStringSlice(data["skills"]),
		ExperienceMin: minYears,
		ExperienceMax: maxYears,
		Seniority:     posting.ParseSeniority(coerceString(data["seniority"])),
	}, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		if v == nil {
			return ""
		}
		return fmt.Sprintf("%v", v)
	}
}

func coerceStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}

	result := make([]string, 0, len(items))
	for _, item := range items {
		if s := coerceString(item); s != "" {
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}

	return result
}
