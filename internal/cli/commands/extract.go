package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/leapstack-labs/leapgraph/internal/cli/output"
	"github.com/leapstack-labs/leapgraph/internal/extract"
	"github.com/leapstack-labs/leapgraph/internal/llm"
	"github.com/leapstack-labs/leapgraph/internal/pipeline"
	"github.com/leapstack-labs/leapgraph/pkg/core"
	"github.com/spf13/cobra"
)

// ExtractOptions holds options for the extract command.
type ExtractOptions struct {
	Templates   []string
	Force       bool
	Concurrency int
	Delay       time.Duration
}

// NewExtractCommand creates the extract command.
func NewExtractCommand() *cobra.Command {
	opts := &ExtractOptions{}

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract column lineage from SQL with prompt templates",
		Long: `Apply every prompt template to every SQL file and save the model answers.

Each template gets a new numbered execution directory under the output
directory holding one answer_<script>_<timestamp>.json per SQL file and a
_metadata_run.json with token usage. Pairs of SQL file and template that
already have a saved answer are skipped unless --force is given.`,
		Example: `  # Extract with every template in templates/
  leapgraph extract

  # Only one template, re-extracting everything
  leapgraph extract --template lineage_v2 --force`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExtract(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Templates, "template", nil, "Only run these templates (by name)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Re-extract files that already have an answer")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "Templates processed in parallel (default from config)")
	cmd.Flags().DurationVar(&opts.Delay, "delay", -1, "Pause between model calls (default from config)")

	return cmd
}

func runExtract(cmd *cobra.Command, opts *ExtractOptions) error {
	cmdCtx, cleanup := NewCommandContext(cmd)
	defer cleanup()

	cfg := cmdCtx.Cfg
	r := cmdCtx.Renderer
	ctx := cmd.Context()

	templates, err := extract.LoadTemplates(cfg.TemplatesDir)
	if err != nil {
		return err
	}
	templates = selectTemplates(templates, opts.Templates)
	if len(templates) == 0 {
		return fmt.Errorf("no prompt templates found in %s", cfg.TemplatesDir)
	}

	files, err := pipeline.DiscoverSQL(cfg.SQLDir, cmdCtx.Logger)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		r.Warning(fmt.Sprintf("No SQL files found in %s", cfg.SQLDir))
		return nil
	}

	gen, err := cmdCtx.NewGenerator(ctx)
	if err != nil {
		return err
	}
	store, err := cmdCtx.OpenStore()
	if err != nil {
		return err
	}

	concurrency := cfg.LLM.Concurrency
	if opts.Concurrency > 0 {
		concurrency = opts.Concurrency
	}
	delay := cfg.LLM.Delay
	if opts.Delay >= 0 {
		delay = opts.Delay
	}

	ex := extract.New(extract.Config{
		Generator:   gen,
		OutputDir:   cfg.OutputDir,
		Delay:       delay,
		Concurrency: concurrency,
		Temperature: float32(cfg.LLM.Temperature),
		Model:       cfg.LLM.Model,
		Store:       store,
		Force:       opts.Force,
		Logger:      cmdCtx.Logger,
	})
	runs, runErr := ex.Run(ctx, templates, pipeline.SortedSQL(files))

	runs = slices.DeleteFunc(runs, func(tr *extract.TemplateRun) bool { return tr == nil })
	if err := renderExtractRuns(r, runs); err != nil {
		return err
	}
	return runErr
}

// selectTemplates keeps the templates named in names, or all when names is empty.
func selectTemplates(templates []*extract.Template, names []string) []*extract.Template {
	if len(names) == 0 {
		return templates
	}
	var out []*extract.Template
	for _, t := range templates {
		if slices.Contains(names, t.Name) {
			out = append(out, t)
		}
	}
	return out
}

// ExtractRunOutput is the JSON output of one template run.
type ExtractRunOutput struct {
	Template        string `json:"template"`
	ExecutionNumber int    `json:"execution_number,omitempty"`
	Dir             string `json:"dir,omitempty"`
	Saved           int    `json:"saved"`
	Failed          int    `json:"failed"`
	Skipped         int    `json:"skipped"`
	PromptTokens    int    `json:"prompt_tokens"`
	AnswerTokens    int    `json:"answer_tokens"`
}

func renderExtractRuns(r *output.Renderer, runs []*extract.TemplateRun) error {
	switch r.EffectiveMode() {
	case output.ModeJSON:
		out := make([]ExtractRunOutput, 0, len(runs))
		for _, tr := range runs {
			out = append(out, ExtractRunOutput(*tr))
		}
		return r.JSON(out)
	default:
		r.Header(1, "Extraction")
		rows := make([][]string, 0, len(runs))
		for _, tr := range runs {
			rows = append(rows, []string{
				tr.Template,
				executionLabel(tr),
				fmt.Sprint(tr.Saved),
				fmt.Sprint(tr.Failed),
				fmt.Sprint(tr.Skipped),
				fmt.Sprint(tr.PromptTokens),
				fmt.Sprint(tr.AnswerTokens),
			})
		}
		r.Table([]string{"Template", "Execution", "Saved", "Failed", "Skipped", "Query Tokens", "Answer Tokens"}, rows)
		return nil
	}
}

func executionLabel(tr *extract.TemplateRun) string {
	if tr.ExecutionNumber == 0 {
		return "-"
	}
	return fmt.Sprint(tr.ExecutionNumber)
}

// AnalyzeOptions holds options for the analyze command.
type AnalyzeOptions struct {
	OutputDir string
	NoContext bool
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand() *cobra.Command {
	opts := &AnalyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze [sql-file...]",
		Short: "Extract lineage with the three-stage agent",
		Long: `Analyze SQL files in three stages: identify the statement and the
tables it needs context for, gather their columns from the warehouse, then
ask for the lineage document with that context.

Without arguments every SQL file in the SQL directory is analyzed. Documents
are written as <script>.json to the lineage directory.`,
		Example: `  # Analyze every script
  leapgraph analyze

  # Analyze one file without warehouse lookups
  leapgraph analyze sql/load_customer.sql --no-context`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.OutputDir, "out", "", "Directory for lineage documents (default: lineage_dir)")
	cmd.Flags().BoolVar(&opts.NoContext, "no-context", false, "Do not connect to the warehouse for column context")

	return cmd
}

func runAnalyze(cmd *cobra.Command, opts *AnalyzeOptions, args []string) error {
	cmdCtx, cleanup := NewCommandContext(cmd)
	defer cleanup()

	cfg := cmdCtx.Cfg
	ctx := cmd.Context()

	gen, err := cmdCtx.NewGenerator(ctx)
	if err != nil {
		return err
	}

	agentCfg := extract.AgentConfig{
		Generator:   gen,
		OutputDir:   cfg.LineageDir,
		Model:       cfg.LLM.Model,
		Temperature: float32(cfg.LLM.Temperature),
		Delay:       cfg.LLM.Delay,
		Logger:      cmdCtx.Logger,
	}
	if opts.OutputDir != "" {
		agentCfg.OutputDir = opts.OutputDir
	}
	if !opts.NoContext {
		adp, err := cmdCtx.OpenWarehouse(ctx)
		if err != nil {
			cmdCtx.Renderer.Warning(fmt.Sprintf("Warehouse unavailable, analyzing without column context: %v", err))
		} else {
			agentCfg.Columns = adp
		}
	}
	agent := extract.NewAgent(agentCfg)

	var results []*extract.AgentResult
	if len(args) == 0 {
		results, err = agent.AnalyzeAll(ctx, cfg.SQLDir)
	} else {
		for _, path := range args {
			res, aerr := agent.Analyze(ctx, path)
			results = append(results, res)
			if aerr != nil && ctx.Err() != nil {
				err = ctx.Err()
				break
			}
		}
	}

	if rerr := renderAgentResults(cmdCtx.Renderer, results); rerr != nil {
		return rerr
	}
	if err != nil {
		return err
	}
	if n := countFailed(results); n > 0 {
		return fmt.Errorf("%d of %d files failed", n, len(results))
	}
	return nil
}

func countFailed(results []*extract.AgentResult) int {
	n := 0
	for _, res := range results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// AgentResultOutput is the JSON output of one analyzed file.
type AgentResultOutput struct {
	SQLFile       string   `json:"sql_file"`
	StatementType string   `json:"statement_type,omitempty"`
	ContextTables []string `json:"context_tables,omitempty"`
	OutputFile    string   `json:"output_file,omitempty"`
	Columns       int      `json:"columns"`
	PromptTokens  int      `json:"prompt_tokens"`
	AnswerTokens  int      `json:"answer_tokens"`
	Error         string   `json:"error,omitempty"`
}

func agentOutput(res *extract.AgentResult) AgentResultOutput {
	out := AgentResultOutput{
		SQLFile:      res.SQLFile,
		OutputFile:   res.OutputFile,
		PromptTokens: res.PromptTokens,
		AnswerTokens: res.AnswerTokens,
	}
	if res.Identification != nil {
		out.StatementType = res.Identification.StatementType
		out.ContextTables = res.Identification.TablesRequiringContext
	}
	if res.Document != nil {
		out.Columns = len(res.Document.Lineage)
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

func renderAgentResults(r *output.Renderer, results []*extract.AgentResult) error {
	if r.EffectiveMode() == output.ModeJSON {
		out := make([]AgentResultOutput, 0, len(results))
		for _, res := range results {
			out = append(out, agentOutput(res))
		}
		return r.JSON(out)
	}

	r.Header(1, "Agent Analysis")
	for _, res := range results {
		o := agentOutput(res)
		if o.Error != "" {
			r.StatusLine(o.SQLFile, "error", o.Error)
			continue
		}
		detail := fmt.Sprintf("%s, %d columns -> %s", o.StatementType, o.Columns, o.OutputFile)
		r.StatusLine(o.SQLFile, "success", detail)
	}
	r.Println("")
	r.Println(r.Muted(fmt.Sprintf("%d analyzed, %d failed", len(results)-countFailed(results), countFailed(results))))
	return nil
}

// ReverseOptions holds options for the reverse command.
type ReverseOptions struct {
	OutputDir string
}

// NewReverseCommand creates the reverse command.
func NewReverseCommand() *cobra.Command {
	opts := &ReverseOptions{}

	cmd := &cobra.Command{
		Use:   "reverse [lineage-file...]",
		Short: "Reconstruct SQL from lineage documents",
		Long: `Ask the model for a SQL statement that produces each lineage document.

Reconstructed statements are written as <script>.reconstructed.sql. Without
arguments every document in the lineage directory is processed.`,
		Example: `  leapgraph reverse
  leapgraph reverse lineage/load_customer.json --out reconstructed/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReverse(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.OutputDir, "out", "", "Directory for reconstructed SQL (default: output_dir/reconstructed)")

	return cmd
}

func runReverse(cmd *cobra.Command, opts *ReverseOptions, args []string) error {
	cmdCtx, cleanup := NewCommandContext(cmd)
	defer cleanup()

	cfg := cmdCtx.Cfg
	r := cmdCtx.Renderer
	ctx := cmd.Context()

	docs, err := reverseInputs(cfg.LineageDir, args, cmdCtx.Logger)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		r.Warning("No lineage documents found")
		return nil
	}

	gen, err := cmdCtx.NewGenerator(ctx)
	if err != nil {
		return err
	}
	outDir := opts.OutputDir
	if outDir == "" {
		outDir = filepath.Join(cfg.OutputDir, "reconstructed")
	}

	var errs []error
	for i, df := range docs {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.LLM.Delay):
			}
		}
		stem := df.Stem
		sql, _, err := extract.ReverseEngineer(ctx, gen, df.Doc, llm.Options{
			Temperature: llm.Temperature(float32(cfg.LLM.Temperature)),
			Model:       cfg.LLM.Model,
		})
		if err != nil {
			r.StatusLine(stem, "error", err.Error())
			errs = append(errs, fmt.Errorf("%s: %w", stem, err))
			continue
		}
		path, err := extract.WriteReconstructed(outDir, stem, sql)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		cmdCtx.Logger.Debug("reconstructed sql", slog.String("script", stem), slog.String("path", path))
		r.StatusLine(stem, "success", path)
	}
	return errors.Join(errs...)
}

func reverseInputs(dir string, args []string, logger *slog.Logger) ([]pipeline.DocumentFile, error) {
	if len(args) == 0 {
		files, skipped, err := pipeline.LoadDocuments(dir)
		if err != nil {
			return nil, err
		}
		for _, sk := range skipped {
			logger.Warn("skipping lineage file", slog.String("file", sk.Path), slog.String("reason", sk.Reason))
		}
		return files, nil
	}

	out := make([]pipeline.DocumentFile, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path) //nolint:gosec // user-provided lineage path
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		doc, err := core.ParseDocument(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		base := filepath.Base(path)
		out = append(out, pipeline.DocumentFile{
			Path: path,
			Stem: strings.TrimSuffix(base, filepath.Ext(base)),
			Doc:  doc,
		})
	}
	return out, nil
}
