package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"google.golang.org/genai"
)

// GeminiConfig configures a GeminiClient.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	Logger      *slog.Logger
}

type generateFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// GeminiClient implements Generator using Google's Gemini API.
type GeminiClient struct {
	model       string
	temperature float32
	logger      *slog.Logger
	generate    generateFunc
}

// ResolveAPIKey returns key, or the GOOGLE_API_KEY / GEMINI_API_KEY
// environment variables when key is empty.
func ResolveAPIKey(key string) string {
	if key != "" {
		return key
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		return v
	}
	return os.Getenv("GEMINI_API_KEY")
}

// NewGeminiClient creates a Gemini-backed generator.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	apiKey := ResolveAPIKey(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: %w (set llm.api_key or GOOGLE_API_KEY)", ErrMissingAPIKey)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return newGeminiClient(cfg, client.Models.GenerateContent), nil
}

func newGeminiClient(cfg GeminiConfig, fn generateFunc) *GeminiClient {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &GeminiClient{
		model:       model,
		temperature: cfg.Temperature,
		logger:      logger,
		generate:    fn,
	}
}

// Model returns the default model name of the client.
func (c *GeminiClient) Model() string {
	return c.model
}

// Generate sends prompt to Gemini and returns the first candidate's text.
func (c *GeminiClient) Generate(ctx context.Context, prompt string, opts Options) (*Response, error) {
	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}
	temp := c.temperature
	if opts.Temperature != nil {
		temp = *opts.Temperature
	}

	c.logger.Debug("generating content",
		slog.String("model", model),
		slog.Float64("temperature", float64(temp)),
		slog.Int("prompt_chars", len(prompt)))

	resp, err := c.generate(ctx, model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:    genai.Ptr(temp),
		CandidateCount: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	out := &Response{Model: model}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.AnswerTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if len(resp.Candidates) == 0 {
		return out, fmt.Errorf("%w: no candidates returned", ErrIncompleteResponse)
	}

	out.Text = resp.Text()
	out.FinishReason = string(resp.Candidates[0].FinishReason)
	if resp.Candidates[0].FinishReason != genai.FinishReasonStop {
		return out, fmt.Errorf("%w: finish reason %s", ErrIncompleteResponse, out.FinishReason)
	}

	c.logger.Debug("content generated",
		slog.Int("prompt_tokens", out.PromptTokens),
		slog.Int("answer_tokens", out.AnswerTokens))

	return out, nil
}

var _ Generator = (*GeminiClient)(nil)
