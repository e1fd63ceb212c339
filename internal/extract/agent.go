package extract

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/leapstack-labs/leapgraph/internal/llm"
	"github.com/leapstack-labs/leapgraph/internal/pipeline"
	"github.com/leapstack-labs/leapgraph/pkg/core"
)

//go:embed prompts/*.txt
var promptFS embed.FS

// Prompt placeholders of the agent stages.
const (
	sqlPlaceholder     = "{sql_content}"
	contextPlaceholder = "{context_json}"
	lineagePlaceholder = "{lineage_json}"
)

// StatementCopy is the statement type of COPY ... FROM file statements.
const StatementCopy = "COPY"

// ErrMissingCopyTarget is returned when a COPY statement needs column context
// but the identify stage named no table.
var ErrMissingCopyTarget = errors.New("COPY statement without a target table")

func mustPrompt(name string) string {
	b, err := promptFS.ReadFile("prompts/" + name)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// DefaultTemplate returns the built-in lineage extraction template.
func DefaultTemplate() string {
	return mustPrompt("lineage.txt")
}

// ColumnSource looks up warehouse table metadata. Warehouse adapters
// implement it.
type ColumnSource interface {
	GetTableMetadata(ctx context.Context, table string) (*core.TableMetadata, error)
}

// Identification is the answer of the identify stage.
type Identification struct {
	StatementType          string   `json:"statement_type"`
	ContextNeeded          bool     `json:"context_needed"`
	Reason                 string   `json:"reason,omitempty"`
	TablesRequiringContext []string `json:"tables_requiring_context"`
}

// ColumnInfo is a column as handed to the analyze prompt.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// GatheredContext holds the warehouse columns of the tables the SQL needs.
type GatheredContext struct {
	Schemas map[string][]ColumnInfo `json:"schemas"`
	Errors  map[string]string       `json:"errors,omitempty"`
}

// AgentResult is the outcome of analyzing one SQL file.
type AgentResult struct {
	SQLFile        string
	Identification *Identification
	Context        *GatheredContext
	Document       *core.Document
	OutputFile     string
	PromptTokens   int
	AnswerTokens   int
	Err            error
}

// AgentConfig configures an Agent.
type AgentConfig struct {
	Generator   llm.Generator
	Columns     ColumnSource
	OutputDir   string
	Model       string
	Temperature float32
	// Delay separates two files in AnalyzeAll.
	Delay  time.Duration
	Logger *slog.Logger
}

// Agent extracts lineage in three stages: identify what the SQL is, gather
// the warehouse columns it relies on, then analyze it with that context.
type Agent struct {
	cfg      AgentConfig
	logger   *slog.Logger
	identify string
	analyze  string
}

// NewAgent creates an Agent with the built-in prompts.
func NewAgent(cfg AgentConfig) *Agent {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Agent{
		cfg:      cfg,
		logger:   cfg.Logger,
		identify: mustPrompt("identify.txt"),
		analyze:  mustPrompt("analyze.txt"),
	}
}

func (a *Agent) generate(ctx context.Context, res *AgentResult, prompt string) (string, error) {
	resp, err := a.cfg.Generator.Generate(ctx, prompt, llm.Options{
		Temperature: llm.Temperature(a.cfg.Temperature),
		Model:       a.cfg.Model,
	})
	if resp != nil {
		res.PromptTokens += resp.PromptTokens
		res.AnswerTokens += resp.AnswerTokens
	}
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Analyze runs the three stages for one SQL file and saves the document as
// <output>/<stem>.json. The returned result carries whatever stages finished.
func (a *Agent) Analyze(ctx context.Context, sqlPath string) (*AgentResult, error) {
	res := &AgentResult{SQLFile: filepath.Base(sqlPath)}
	fail := func(err error) (*AgentResult, error) {
		res.Err = err
		return res, err
	}
	logger := a.logger.With(slog.String("sql", res.SQLFile))

	content, err := os.ReadFile(sqlPath) //nolint:gosec // user-provided SQL path
	if err != nil {
		return fail(fmt.Errorf("failed to read SQL file: %w", err))
	}
	sql := string(content)

	ident, err := a.Identify(ctx, res, sql)
	if err != nil {
		return fail(fmt.Errorf("identify: %w", err))
	}
	res.Identification = ident
	logger.Debug("identified statement",
		slog.String("type", ident.StatementType),
		slog.Bool("context_needed", ident.ContextNeeded),
		slog.Int("tables", len(ident.TablesRequiringContext)))

	gathered := &GatheredContext{Schemas: map[string][]ColumnInfo{}}
	if ident.ContextNeeded {
		if len(ident.TablesRequiringContext) == 0 && strings.EqualFold(ident.StatementType, StatementCopy) {
			return fail(ErrMissingCopyTarget)
		}
		gathered = a.Gather(ctx, ident.TablesRequiringContext)
		if len(gathered.Errors) > 0 {
			logger.Warn("context lookups failed", slog.Any("errors", gathered.Errors))
		}
	}
	res.Context = gathered

	doc, err := a.Lineage(ctx, res, sql, gathered)
	if err != nil {
		return fail(fmt.Errorf("analyze: %w", err))
	}
	res.Document = doc

	if a.cfg.OutputDir != "" {
		if err := os.MkdirAll(a.cfg.OutputDir, 0o750); err != nil {
			return fail(fmt.Errorf("failed to create output dir: %w", err))
		}
		out := filepath.Join(a.cfg.OutputDir, strings.TrimSuffix(res.SQLFile, filepath.Ext(res.SQLFile))+".json")
		if err := writeJSON(out, doc); err != nil {
			return fail(err)
		}
		res.OutputFile = out
	}
	return res, nil
}

// Identify asks the model what kind of statement sql is and which tables it
// needs column context for.
func (a *Agent) Identify(ctx context.Context, res *AgentResult, sql string) (*Identification, error) {
	text, err := a.generate(ctx, res, strings.ReplaceAll(a.identify, sqlPlaceholder, sql))
	if err != nil {
		return nil, err
	}
	raw, err := llm.ExtractJSONObject(text)
	if err != nil {
		return nil, err
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, fmt.Errorf("failed to decode identification: %w", err)
	}
	for _, k := range []string{"statement_type", "context_needed"} {
		if _, ok := keys[k]; !ok {
			return nil, fmt.Errorf("identification is missing %q", k)
		}
	}

	var ident Identification
	if err := json.Unmarshal([]byte(raw), &ident); err != nil {
		return nil, fmt.Errorf("failed to decode identification: %w", err)
	}
	return &ident, nil
}

// Gather fetches the columns of every table. Lookup failures are collected
// per table rather than returned.
func (a *Agent) Gather(ctx context.Context, tables []string) *GatheredContext {
	gc := &GatheredContext{Schemas: map[string][]ColumnInfo{}, Errors: map[string]string{}}
	if a.cfg.Columns == nil {
		gc.Errors["general"] = "no warehouse configured"
		return gc
	}
	for _, table := range tables {
		meta, err := a.cfg.Columns.GetTableMetadata(ctx, table)
		if err != nil {
			gc.Errors[table] = err.Error()
			continue
		}
		if len(meta.Columns) == 0 {
			gc.Errors[table] = "no columns found"
			continue
		}
		cols := make([]ColumnInfo, 0, len(meta.Columns))
		for _, c := range meta.Columns {
			cols = append(cols, ColumnInfo{Name: c.Name, Type: c.Type})
		}
		gc.Schemas[table] = cols
	}
	return gc
}

// Lineage asks the model for the lineage document of sql given the gathered
// context.
func (a *Agent) Lineage(ctx context.Context, res *AgentResult, sql string, gathered *GatheredContext) (*core.Document, error) {
	ctxJSON, err := json.MarshalIndent(gathered, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode context: %w", err)
	}
	prompt := strings.NewReplacer(contextPlaceholder, string(ctxJSON), sqlPlaceholder, sql).Replace(a.analyze)

	text, err := a.generate(ctx, res, prompt)
	if err != nil {
		return nil, err
	}
	raw, err := llm.ExtractJSONObject(text)
	if err != nil {
		return nil, err
	}
	return core.ParseDocument([]byte(raw))
}

// AnalyzeAll runs Analyze for every SQL file under dir, in name order.
// Per-file failures are reported in the results.
func (a *Agent) AnalyzeAll(ctx context.Context, dir string) ([]*AgentResult, error) {
	files, err := pipeline.DiscoverSQL(dir, a.logger)
	if err != nil {
		return nil, err
	}

	var results []*AgentResult
	for i, f := range pipeline.SortedSQL(files) {
		if i > 0 {
			if err := sleep(ctx, a.cfg.Delay); err != nil {
				return results, err
			}
		}
		res, err := a.Analyze(ctx, f.Path)
		if err != nil {
			a.logger.Warn("agent analysis failed", slog.String("sql", f.Name), slog.String("error", err.Error()))
			if ctx.Err() != nil {
				results = append(results, res)
				return results, ctx.Err()
			}
		}
		results = append(results, res)
	}
	return results, nil
}
