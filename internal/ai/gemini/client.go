// Package gemini implements the extraction and embedding providers on top of
// the Google GenAI API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/job-radar/internal/ai"
	"github.com/spigell/job-radar/internal/logger"
)

const (
	defaultModel              = "gemini-2.5-flash"
	defaultEmbeddingModel     = "gemini-embedding-001"
	defaultEmbeddingDimension = 1536
)

// Config holds the Gemini provider settings.
type Config struct {
	APIKey             string
	Model              string
	EmbeddingModel     string
	EmbeddingDimension int
	Policy             ai.Policy
}

// Client wraps the GenAI client. Every call flows through one shared
// ai.Caller so extraction and embedding draw from the same rate budget.
type Client struct {
	client         *genai.Client
	model          string
	embeddingModel string
	embeddingDim   int
	caller         *ai.Caller
	logger         *zap.Logger
}

// NewClient creates a new Client configured for the Gemini API backend.
func NewClient(ctx context.Context, cfg Config, log *zap.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	embeddingModel := strings.TrimSpace(cfg.EmbeddingModel)
	if embeddingModel == "" {
		embeddingModel = defaultEmbeddingModel
	}

	dim := cfg.EmbeddingDimension
	if dim <= 0 {
		dim = defaultEmbeddingDimension
	}

	log = logger.WithProviderFields(log, "gemini", model)

	return &Client{
		client:         client,
		model:          model,
		embeddingModel: embeddingModel,
		embeddingDim:   dim,
		caller:         ai.NewCaller(cfg.Policy, log),
		logger:         log,
	}, nil
}

// GenerateContent sends the prompt to Gemini under the call policy and
// returns the first textual response.
func (c *Client) GenerateContent(ctx context.Context, prompt string) (string, error) {
	if c == nil || c.client == nil {
		return "", ai.Permanent("generate", errors.New("gemini client is not initialized"))
	}

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", ai.Permanent("generate", errors.New("prompt must not be empty"))
	}

	var output string
	err := c.caller.Do(ctx, "generate", func(ctx context.Context) error {
		resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
		if err != nil {
			return classify("generate", err)
		}

		var builder strings.Builder
		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				text := strings.TrimSpace(part.Text)
				if text == "" {
					continue
				}
				if builder.Len() > 0 {
					builder.WriteString("\n")
				}
				builder.WriteString(text)
			}
		}

		output = strings.TrimSpace(builder.String())
		if output == "" {
			return ai.Parse("generate", errors.New("gemini api returned empty response"))
		}

		return nil
	})
	if err != nil {
		return "", err
	}

	return output, nil
}

// EmbedBatch embeds the texts in one provider request under the call policy.
// One vector is returned per input, in order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c == nil || c.client == nil {
		return nil, ai.Permanent("embed", errors.New("gemini client is not initialized"))
	}
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
	}

	cfg := &genai.EmbedContentConfig{}
	if c.embeddingDim > 0 {
		dim := int32(c.embeddingDim)
		cfg.OutputDimensionality = &dim
	}

	var vectors [][]float32
	err := c.caller.Do(ctx, "embed", func(ctx context.Context) error {
		resp, err := c.client.Models.EmbedContent(ctx, c.embeddingModel, contents, cfg)
		if err != nil {
			return classify("embed", err)
		}

		if len(resp.Embeddings) != len(texts) {
			return ai.Parse("embed", fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings)))
		}

		vectors = make([][]float32, len(resp.Embeddings))
		for i, embedding := range resp.Embeddings {
			if embedding == nil {
				return ai.Parse("embed", fmt.Errorf("embedding %d is missing", i))
			}
			vectors[i] = embedding.Values
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return vectors, nil
}

// Model returns the generation model identifier.
func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}

// EmbeddingModel returns the embedding model identifier.
func (c *Client) EmbeddingModel() string {
	if c == nil {
		return ""
	}
	return c.embeddingModel
}

// EmbeddingDimension returns the configured vector dimensionality.
func (c *Client) EmbeddingDimension() int {
	if c == nil {
		return 0
	}
	return c.embeddingDim
}

// Policy returns the normalized call policy in effect.
func (c *Client) Policy() ai.Policy { return c.caller.Policy() }

// classify maps GenAI transport errors onto the retry taxonomy: rate limits,
// timeouts and server errors are retryable; the rest of the 4xx range means
// the request itself is wrong and retrying cannot help.
func classify(op string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests,
			apiErr.Code == http.StatusRequestTimeout,
			apiErr.Code >= 500:
			return ai.Transient(op, err)
		default:
			return ai.Permanent(op, err)
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ai.Transient(op, err)
	}

	// Anything else is assumed to be a network hiccup.
	return ai.Transient(op, err)
}
