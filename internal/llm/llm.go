// Package llm wraps generative model APIs behind a small Generator interface
// and provides helpers for pulling JSON out of model answers.
package llm

import (
	"context"
	"errors"
)

// Default generation settings.
const (
	DefaultModel       = "gemini-2.0-flash"
	DefaultTemperature = 0.1
)

// FinishReasonStop is the finish reason of a complete answer.
const FinishReasonStop = "STOP"

var (
	// ErrIncompleteResponse is returned when the model stopped for any reason
	// other than a natural end of answer. The partial Response is still returned.
	ErrIncompleteResponse = errors.New("model response incomplete")

	// ErrNoJSON is returned when no JSON object can be found in an answer.
	ErrNoJSON = errors.New("no JSON object found in response")

	// ErrMissingAPIKey is returned when no API key is configured.
	ErrMissingAPIKey = errors.New("no API key configured")
)

// Options controls a single generation call.
type Options struct {
	// Temperature is passed through as-is; nil uses the client default.
	Temperature *float32
	// Model overrides the client's model for this call.
	Model string
}

// Response is the text answer of a model plus its accounting.
type Response struct {
	Text         string
	Model        string
	PromptTokens int
	AnswerTokens int
	FinishReason string
}

// Generator produces a text answer for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (*Response, error)
}

// Temperature returns a pointer for Options.Temperature.
func Temperature(t float32) *float32 {
	return &t
}
