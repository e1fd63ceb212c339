package extract

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leapstack-labs/leapgraph/internal/llm"
	"github.com/leapstack-labs/leapgraph/internal/llm/llmtest"
	"github.com/leapstack-labs/leapgraph/internal/pipeline"
	"github.com/leapstack-labs/leapgraph/internal/testutil"
	"github.com/leapstack-labs/leapgraph/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validAnswer = "```json\n" + `{"target_table": "wh_db.DimCustomer", "lineage": {"name": {"transformation_type": "DIRECT", "sources": [{"source_identifier": "stg.customer.name"}]}}}` + "\n```"

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC)

func sqlFiles() []pipeline.SQLFile {
	return []pipeline.SQLFile{
		{Name: "dim_customer.sql", Content: "INSERT INTO wh_db.DimCustomer SELECT name FROM stg.customer", Hash: "h1"},
		{Name: "fact_sales.sql", Content: "INSERT INTO wh_db.FactSales SELECT 1", Hash: "h2"},
	}
}

func mustTemplate(t *testing.T, name string) *Template {
	t.Helper()
	tpl, err := NewTemplate(name, "Lineage please:\n"+Placeholder)
	require.NoError(t, err)
	return tpl
}

func readMetadata(t *testing.T, dir string) RunMetadata {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	require.NoError(t, err)
	var meta RunMetadata
	require.NoError(t, json.Unmarshal(data, &meta))
	return meta
}

func TestFileTimestamp(t *testing.T) {
	assert.Equal(t, "20250314_092653_589793", fileTimestamp(fixedNow))
}

func TestExtractor_Run(t *testing.T) {
	gen := &llmtest.Generator{Replies: []llmtest.Reply{
		llmtest.Text(validAnswer),
		llmtest.Text("I could not figure this one out"),
	}}
	out := t.TempDir()
	ex := New(Config{
		Generator:   gen,
		OutputDir:   out,
		Temperature: 0.1,
		Logger:      testutil.NewTestLogger(t),
		Now:         func() time.Time { return fixedNow },
	})

	runs, err := ex.Run(context.Background(), []*Template{mustTemplate(t, "v1")}, sqlFiles())
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run := runs[0]
	assert.Equal(t, 1, run.ExecutionNumber)
	assert.Equal(t, 1, run.Saved)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, 20, run.PromptTokens)

	require.Len(t, gen.Calls, 2)
	assert.Contains(t, gen.Calls[0].Prompt, "SELECT name FROM stg.customer")
	assert.NotContains(t, gen.Calls[0].Prompt, Placeholder)
	require.NotNil(t, gen.Calls[0].Opts.Temperature)
	assert.InDelta(t, 0.1, *gen.Calls[0].Opts.Temperature, 1e-6)

	answer := filepath.Join(run.Dir, "answer_dim_customer_20250314_092653_589793.json")
	data, err := os.ReadFile(answer)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "{\n    \"target_table\""), "answer should be pretty printed: %s", data)
	doc, err := core.ParseDocument(data)
	require.NoError(t, err)
	assert.Equal(t, "wh_db.DimCustomer", doc.TargetTable)

	raw, err := os.ReadFile(filepath.Join(run.Dir, "answer_fact_sales_20250314_092653_589793.raw.txt"))
	require.NoError(t, err)
	assert.Equal(t, "I could not figure this one out", string(raw))

	meta := readMetadata(t, run.Dir)
	assert.Equal(t, "v1", meta.TemplateName)
	assert.Equal(t, 1, meta.ExecutionNumber)
	require.Len(t, meta.Prompts, 2)

	first := meta.Prompts[0]
	assert.Equal(t, "dim_customer", first.PromptDetails.SQLFileName)
	assert.Equal(t, "20250314_092653_589793", first.PromptDetails.Timestamp)
	assert.NotEmpty(t, first.PromptDetails.PromptHash)
	assert.Equal(t, "test-model", first.ModelUsed)
	require.NotNil(t, first.Usage)
	assert.Equal(t, 10, first.Usage.QueryTokensUsed)
	assert.True(t, first.ResponseSummary.AnswerSaved)
	assert.Equal(t, "answer_dim_customer_20250314_092653_589793.json", first.ResponseSummary.AnswerFile)

	second := meta.Prompts[1]
	assert.False(t, second.ResponseSummary.AnswerSaved)
	assert.Contains(t, second.ResponseSummary.Error, "not a lineage document")

	// A second run gets the next execution number.
	gen.Replies = nil
	gen.Fallback = func(string) llmtest.Reply { return llmtest.Text(validAnswer) }
	runs, err = ex.Run(context.Background(), []*Template{mustTemplate(t, "v1")}, sqlFiles())
	require.NoError(t, err)
	assert.Equal(t, 2, runs[0].ExecutionNumber)
	assert.Equal(t, 2, runs[0].Saved)
}

func TestExtractor_GeneratorErrorContinues(t *testing.T) {
	gen := &llmtest.Generator{Replies: []llmtest.Reply{
		{Err: errors.New("quota exceeded")},
		llmtest.Text(validAnswer),
	}}
	ex := New(Config{Generator: gen, OutputDir: t.TempDir(), Logger: testutil.NewTestLogger(t)})

	runs, err := ex.Run(context.Background(), []*Template{mustTemplate(t, "v1")}, sqlFiles())
	require.NoError(t, err)
	assert.Equal(t, 1, runs[0].Saved)
	assert.Equal(t, 1, runs[0].Failed)

	meta := readMetadata(t, runs[0].Dir)
	assert.Nil(t, meta.Prompts[0].Usage)
	assert.Equal(t, "quota exceeded", meta.Prompts[0].ResponseSummary.Error)
}

func TestExtractor_IncompleteAnswerSavedRaw(t *testing.T) {
	partial := llmtest.Text(`{"target_table": "wh_db.Dim`)
	partial.Response.FinishReason = "MAX_TOKENS"
	partial.Err = llm.ErrIncompleteResponse

	gen := &llmtest.Generator{Replies: []llmtest.Reply{partial}}
	ex := New(Config{Generator: gen, OutputDir: t.TempDir(), Now: func() time.Time { return fixedNow }})

	runs, err := ex.Run(context.Background(), []*Template{mustTemplate(t, "v1")}, sqlFiles()[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, runs[0].Failed)
	assert.FileExists(t, filepath.Join(runs[0].Dir, "answer_dim_customer_20250314_092653_589793.raw.txt"))
}

func TestExtractor_Cancelled(t *testing.T) {
	gen := &llmtest.Generator{Fallback: func(string) llmtest.Reply { return llmtest.Text(validAnswer) }}
	ex := New(Config{Generator: gen, OutputDir: t.TempDir(), Delay: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := ex.Run(ctx, []*Template{mustTemplate(t, "v1")}, sqlFiles())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, gen.Calls, 1)
}

func TestExtractor_MultipleTemplatesConcurrently(t *testing.T) {
	gen := &llmtest.Generator{Fallback: func(string) llmtest.Reply { return llmtest.Text(validAnswer) }}
	out := t.TempDir()
	ex := New(Config{Generator: gen, OutputDir: out, Concurrency: 2})

	runs, err := ex.Run(context.Background(), []*Template{mustTemplate(t, "v1"), mustTemplate(t, "v2")}, sqlFiles())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "v1", runs[0].Template)
	assert.Equal(t, "v2", runs[1].Template)
	assert.Len(t, gen.Calls, 4)
	assert.FileExists(t, filepath.Join(out, "v2", "1", MetadataFile))
}

type memoryRecorder struct {
	done    map[string]bool
	results []*core.ExtractionResult
	status  core.RunStatus
}

func (m *memoryRecorder) CreateExtractionRun(template string, n int) (*core.ExtractionRun, error) {
	return &core.ExtractionRun{ID: "run-1", Template: template, ExecutionNumber: n, Status: core.RunStatusRunning}, nil
}

func (m *memoryRecorder) CompleteExtractionRun(_ string, status core.RunStatus) error {
	m.status = status
	return nil
}

func (m *memoryRecorder) RecordExtractionResult(r *core.ExtractionResult) error {
	m.results = append(m.results, r)
	return nil
}

func (m *memoryRecorder) HasSuccessfulExtraction(sqlHash, templateHash string) (bool, error) {
	return m.done[sqlHash+"/"+templateHash], nil
}

func TestExtractor_Incremental(t *testing.T) {
	tpl := mustTemplate(t, "v1")
	store := &memoryRecorder{done: map[string]bool{"h1/" + tpl.Hash: true}}
	gen := &llmtest.Generator{Fallback: func(string) llmtest.Reply { return llmtest.Text(validAnswer) }}
	out := t.TempDir()

	ex := New(Config{Generator: gen, OutputDir: out, Store: store})
	runs, err := ex.Run(context.Background(), []*Template{tpl}, sqlFiles())
	require.NoError(t, err)

	assert.Equal(t, 1, runs[0].Skipped)
	assert.Equal(t, 1, runs[0].Saved)
	require.Len(t, gen.Calls, 1)
	assert.Contains(t, gen.Calls[0].Prompt, "FactSales")

	require.Len(t, store.results, 1)
	assert.Equal(t, "run-1", store.results[0].RunID)
	assert.Equal(t, "h2", store.results[0].SQLHash)
	assert.Equal(t, core.RunStatusCompleted, store.results[0].Status)
	assert.Equal(t, core.RunStatusCompleted, store.status)

	// Everything done: no execution directory is created.
	store.done["h2/"+tpl.Hash] = true
	runs, err = ex.Run(context.Background(), []*Template{tpl}, sqlFiles())
	require.NoError(t, err)
	assert.Equal(t, 2, runs[0].Skipped)
	assert.Empty(t, runs[0].Dir)
	assert.NoDirExists(t, filepath.Join(out, "v1", "2"))

	// Force ignores the store.
	forced := New(Config{Generator: gen, OutputDir: out, Store: store, Force: true})
	runs, err = forced.Run(context.Background(), []*Template{tpl}, sqlFiles())
	require.NoError(t, err)
	assert.Equal(t, 2, runs[0].Saved)
}
