// Package llmtest provides a scripted llm.Generator for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/leapstack-labs/leapgraph/internal/llm"
)

// Call records one Generate invocation.
type Call struct {
	Prompt string
	Opts   llm.Options
}

// Reply is a canned answer. A non-nil Err is returned alongside Response.
type Reply struct {
	Response *llm.Response
	Err      error
}

// Generator replays Replies in order and records every call. Once the
// replies run out, Fallback (when set) answers every further prompt.
type Generator struct {
	mu       sync.Mutex
	Replies  []Reply
	Fallback func(prompt string) Reply
	Calls    []Call
}

// Text returns a Reply that completed normally with the given text.
func Text(text string) Reply {
	return Reply{Response: &llm.Response{
		Text:         text,
		Model:        "test-model",
		PromptTokens: 10,
		AnswerTokens: len(text),
		FinishReason: llm.FinishReasonStop,
	}}
}

// Generate implements llm.Generator.
func (g *Generator) Generate(_ context.Context, prompt string, opts llm.Options) (*llm.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.Calls = append(g.Calls, Call{Prompt: prompt, Opts: opts})
	idx := len(g.Calls) - 1
	if idx < len(g.Replies) {
		r := g.Replies[idx]
		return r.Response, r.Err
	}
	if g.Fallback != nil {
		r := g.Fallback(prompt)
		return r.Response, r.Err
	}
	return nil, fmt.Errorf("llmtest: unexpected call %d", idx+1)
}

// Prompts returns the prompts received so far.
func (g *Generator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.Calls))
	for i, c := range g.Calls {
		out[i] = c.Prompt
	}
	return out
}

var _ llm.Generator = (*Generator)(nil)
