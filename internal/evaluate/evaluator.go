// Package evaluate asks a model to review the lineage stored in the graph
// against the SQL it was extracted from, and summarizes the resulting report.
package evaluate

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/leapgraph/internal/graph"
	"github.com/leapstack-labs/leapgraph/internal/llm"
)

// DefaultReport is the default report file name.
const DefaultReport = "EVALUATOR_OUTPUT.txt"

//go:embed prompt.txt
var promptTemplate string

// LineageSource lists scripts and their stored lineage. graph.Loader
// implements it.
type LineageSource interface {
	ScriptNames(ctx context.Context) ([]string, error)
	ScriptLineage(ctx context.Context, script string) (*graph.ScriptLineage, error)
}

// Config configures an Evaluator.
type Config struct {
	Generator llm.Generator
	Source    LineageSource
	Model     string
	Logger    *slog.Logger
}

// Stats counts what a run did.
type Stats struct {
	Evaluated    int
	Skipped      int
	Failed       int
	PromptTokens int
	AnswerTokens int
}

// Evaluator reviews every script in the graph.
type Evaluator struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an Evaluator.
func New(cfg Config) *Evaluator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Evaluator{cfg: cfg, logger: logger}
}

// Run evaluates every script and writes one "<script>:\n<result>" block per
// script to out. Scripts that fail are logged and left out of the report.
func (e *Evaluator) Run(ctx context.Context, out io.Writer) (*Stats, error) {
	scripts, err := e.cfg.Source.ScriptNames(ctx)
	if err != nil {
		return nil, err
	}
	e.logger.Info("evaluating scripts", slog.Int("count", len(scripts)))

	stats := &Stats{}
	for _, script := range scripts {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		lineage, err := e.cfg.Source.ScriptLineage(ctx, script)
		if err != nil {
			e.logger.Warn("skipping script", slog.String("script", script), slog.String("error", err.Error()))
			stats.Failed++
			continue
		}
		if lineage.SQL == "" && len(lineage.Transformations) == 0 {
			e.logger.Warn("no lineage stored for script", slog.String("script", script))
			stats.Skipped++
			continue
		}

		resp, err := e.cfg.Generator.Generate(ctx, Prompt(lineage), llm.Options{
			Temperature: llm.Temperature(0),
			Model:       e.cfg.Model,
		})
		if resp != nil {
			stats.PromptTokens += resp.PromptTokens
			stats.AnswerTokens += resp.AnswerTokens
		}
		if err != nil {
			e.logger.Warn("evaluation failed", slog.String("script", script), slog.String("error", err.Error()))
			stats.Failed++
			continue
		}

		if _, err := fmt.Fprintf(out, "%s:\n%s\n\n", script, strings.TrimSpace(resp.Text)); err != nil {
			return stats, fmt.Errorf("failed to write report: %w", err)
		}
		stats.Evaluated++
	}
	return stats, nil
}

// Prompt renders the review prompt of one script.
func Prompt(l *graph.ScriptLineage) string {
	sql := l.SQL
	if sql == "" {
		sql = "SQL content not found."
	}

	items := make([]string, 0, len(l.Transformations))
	for _, t := range l.Transformations {
		items = append(items, fmt.Sprintf(
			"  - Reads From: %s\n    Writes To: %s\n    Transformation Type: %s\n    Transformation Logic: %s",
			orNA(t.ReadsFrom), orNA(t.WritesTo), orNA(t.Type), orNA(t.Logic)))
	}
	transformations := strings.Join(items, "\n\n")
	if transformations == "" {
		transformations = "No column-level transformation details extracted or found."
	}

	return strings.NewReplacer(
		"{script_name}", l.Script,
		"{sql_content}", sql,
		"{transformations}", transformations,
	).Replace(promptTemplate)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
