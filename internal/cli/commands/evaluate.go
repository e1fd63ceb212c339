package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/leapgraph/internal/cli/output"
	"github.com/leapstack-labs/leapgraph/internal/evaluate"
	"github.com/spf13/cobra"
)

// NewEvaluateCommand creates the evaluate command.
func NewEvaluateCommand() *cobra.Command {
	var reportPath string

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Review the loaded lineage of every script with the model",
		Long: `Read back the column transformations of every script in the graph and
ask the model to review them against the script's SQL.

The answers are written to the report file as one "<script>:" block per
script. Summarize the report with 'leapgraph summarize'.`,
		Example: `  leapgraph evaluate
  leapgraph evaluate --report review.txt`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEvaluate(cmd, reportPath)
		},
	}

	cmd.Flags().StringVar(&reportPath, "report", "", "Report file (default: evaluate.report)")

	return cmd
}

func runEvaluate(cmd *cobra.Command, reportPath string) error {
	cmdCtx, cleanup := NewCommandContext(cmd)
	defer cleanup()

	cfg := cmdCtx.Cfg
	ctx := cmd.Context()
	r := cmdCtx.Renderer

	if reportPath == "" {
		reportPath = cfg.Evaluate.Report
	}

	gen, err := cmdCtx.NewGenerator(ctx)
	if err != nil {
		return err
	}
	_, loader, err := cmdCtx.OpenGraph(ctx)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(reportPath); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	f, err := os.Create(reportPath) //nolint:gosec // path comes from config or flags
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	defer func() { _ = f.Close() }()

	stats, runErr := evaluate.New(evaluate.Config{
		Generator: gen,
		Source:    loader,
		Model:     cfg.LLM.Model,
		Logger:    cmdCtx.Logger,
	}).Run(ctx, f)
	if stats == nil {
		return runErr
	}

	if r.EffectiveMode() == output.ModeJSON {
		if err := r.JSON(map[string]any{
			"report":        reportPath,
			"evaluated":     stats.Evaluated,
			"skipped":       stats.Skipped,
			"failed":        stats.Failed,
			"prompt_tokens": stats.PromptTokens,
			"answer_tokens": stats.AnswerTokens,
		}); err != nil {
			return err
		}
		return runErr
	}

	r.Header(1, "Evaluation")
	r.Println(output.FormatKeyValue("Report", reportPath))
	r.Println(output.FormatKeyValue("Evaluated", fmt.Sprint(stats.Evaluated)))
	r.Println(output.FormatKeyValue("Skipped", fmt.Sprint(stats.Skipped)))
	r.Println(output.FormatKeyValue("Failed", fmt.Sprint(stats.Failed)))
	r.Println(output.FormatKeyValue("Tokens", fmt.Sprintf("%d query, %d answer", stats.PromptTokens, stats.AnswerTokens)))
	return runErr
}

// NewSummarizeCommand creates the summarize command.
func NewSummarizeCommand() *cobra.Command {
	var details bool

	cmd := &cobra.Command{
		Use:   "summarize [report]",
		Short: "Summarize an evaluation report",
		Long: `Parse an evaluation report and show, per script, how many columns were
reviewed and which of them have issues. Use --details to list every issue.`,
		Example: `  leapgraph summarize
  leapgraph summarize EVALUATOR_OUTPUT.txt --details --output json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup := NewCommandContext(cmd)
			defer cleanup()

			path := cmdCtx.Cfg.Evaluate.Report
			if len(args) > 0 {
				path = args[0]
			}
			data, err := os.ReadFile(path) //nolint:gosec // user-provided report path
			if err != nil {
				return fmt.Errorf("failed to read report: %w", err)
			}
			return renderSummary(cmdCtx.Renderer, evaluate.ParseReport(string(data)), details)
		},
	}

	cmd.Flags().BoolVar(&details, "details", false, "List every issue")

	return cmd
}

// SummaryOutput is the JSON output of the summarize command.
type SummaryOutput struct {
	Scripts []ScriptSummaryOutput `json:"scripts"`
	Totals  SummaryTotals         `json:"totals"`
	Issues  []evaluate.Issue      `json:"issues,omitempty"`
}

// ScriptSummaryOutput is one script in SummaryOutput.
type ScriptSummaryOutput struct {
	Script       string   `json:"script"`
	ErrorColumns []string `json:"error_columns"`
	ErrorCount   int      `json:"error_count"`
	TotalColumns int      `json:"total_columns"`
	OKColumns    int      `json:"ok_columns"`
	ParseError   string   `json:"parse_error,omitempty"`
}

// SummaryTotals aggregates SummaryOutput.
type SummaryTotals struct {
	Scripts    int `json:"scripts"`
	Columns    int `json:"columns"`
	OK         int `json:"ok"`
	WithIssues int `json:"with_issues"`
}

func renderSummary(r *output.Renderer, summaries []evaluate.ScriptSummary, details bool) error {
	totals := evaluate.Total(summaries)

	if r.EffectiveMode() == output.ModeJSON {
		out := SummaryOutput{
			Scripts: make([]ScriptSummaryOutput, 0, len(summaries)),
			Totals:  SummaryTotals(totals),
		}
		for _, s := range summaries {
			out.Scripts = append(out.Scripts, ScriptSummaryOutput{
				Script:       s.Script,
				ErrorColumns: nonNil(s.ErrorColumns),
				ErrorCount:   s.ErrorCount,
				TotalColumns: s.TotalColumns,
				OKColumns:    s.OKColumns,
				ParseError:   s.ParseError,
			})
		}
		if details {
			out.Issues = evaluate.DetailedIssues(summaries)
		}
		return r.JSON(out)
	}

	if len(summaries) == 0 {
		r.Warning("No script blocks found in report")
		return nil
	}

	r.Header(1, "Evaluation Summary")
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		errCols := strings.Join(s.ErrorColumns, ", ")
		if s.ParseError != "" {
			errCols = s.ParseError
		}
		rows = append(rows, []string{
			s.Script,
			fmt.Sprint(s.TotalColumns),
			fmt.Sprint(s.OKColumns),
			fmt.Sprint(s.ErrorCount),
			errCols,
		})
	}
	r.Table([]string{"Script", "Columns", "OK", "Issues", "Columns With Issues"}, rows)
	r.Println("")

	r.Header(2, "Totals")
	r.Println(output.FormatKeyValue("Scripts", fmt.Sprint(totals.Scripts)))
	r.Println(output.FormatKeyValue("Columns", fmt.Sprint(totals.Columns)))
	r.Println(output.FormatKeyValue("OK", fmt.Sprint(totals.OK)))
	r.Println(output.FormatKeyValue("With issues", fmt.Sprint(totals.WithIssues)))

	if details {
		issues := evaluate.DetailedIssues(summaries)
		if len(issues) > 0 {
			r.Println("")
			r.Header(2, "Issues")
			rows := make([][]string, 0, len(issues))
			for _, is := range issues {
				rows = append(rows, []string{is.Script, is.Column, is.Description})
			}
			r.Table([]string{"Script", "Column", "Issue"}, rows)
		}
	}
	return nil
}
