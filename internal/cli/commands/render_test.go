package commands

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/leapstack-labs/leapgraph/internal/cli/testutil"
	"github.com/leapstack-labs/leapgraph/internal/etl"
	"github.com/leapstack-labs/leapgraph/internal/extract"
	"github.com/leapstack-labs/leapgraph/internal/graph"
	"github.com/leapstack-labs/leapgraph/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRunResult() *etl.Result {
	return &etl.Result{
		RunID: "run-1",
		Seeds: 2,
		Scripts: []etl.ScriptResult{
			{Script: "load_customer.sql", Status: core.RunStatusCompleted, RowsAffected: 10, LineageRunID: "ol-1", Duration: time.Second},
			{Script: "fact_sales.sql", Status: core.RunStatusFailed, Err: errors.New("table not found")},
			{Script: "report.sql", Status: core.RunStatusSkipped, Reason: "upstream script failed"},
		},
	}
}

func TestRenderRunResult(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		tr := testutil.NewTestRendererJSON()
		require.NoError(t, renderRunResult(tr.Renderer, sampleRunResult(), 2*time.Second))

		var got RunOutput
		require.NoError(t, json.Unmarshal(tr.Out.Bytes(), &got))
		assert.Equal(t, "run-1", got.RunID)
		assert.Equal(t, 1, got.Completed)
		assert.Equal(t, 1, got.Failed)
		assert.Equal(t, 1, got.Skipped)
		assert.Equal(t, "ol-1", got.Scripts[0].LineageRunID)
		assert.Equal(t, "table not found", got.Scripts[1].Error)
		assert.Equal(t, "upstream script failed", got.Scripts[2].Reason)
		testutil.AssertNoANSI(t, tr.Output())
	})

	t.Run("markdown", func(t *testing.T) {
		tr := testutil.NewTestRendererMarkdown()
		require.NoError(t, renderRunResult(tr.Renderer, sampleRunResult(), 2*time.Second))

		out := tr.Output()
		testutil.AssertContains(t, out, "# ETL Run")
		testutil.AssertContains(t, out, "load_customer.sql")
		testutil.AssertContains(t, out, "upstream script failed")
		testutil.AssertContains(t, tr.ErrorOutput(), "1 completed, 1 failed, 1 skipped")
		testutil.AssertValidMarkdown(t, out)
	})
}

func TestRenderBatchReport(t *testing.T) {
	report := &graph.BatchReport{
		Loaded:        1,
		Skipped:       1,
		PipelineLinks: 2,
		Files: []graph.FileOutcome{
			{File: "lineage/load_customer.json", Script: "load_customer.sql", Pipeline: "sales", Outcome: graph.OutcomeLoaded, Stats: graph.LoadStats{Columns: 4}},
			{File: "lineage/orphan.json", Outcome: graph.OutcomeSkipped, Message: "no matching script in pipeline mapping"},
		},
	}

	tr := testutil.NewTestRendererJSON()
	require.NoError(t, renderBatchReport(tr.Renderer, report))
	var got LoadOutput
	require.NoError(t, json.Unmarshal(tr.Out.Bytes(), &got))
	assert.Equal(t, 1, got.Loaded)
	assert.Equal(t, 2, got.PipelineLinks)
	require.Len(t, got.Files, 2)
	assert.Equal(t, 4, got.Files[0].Columns)
	assert.Equal(t, "skipped", got.Files[1].Outcome)

	md := testutil.NewTestRendererMarkdown()
	require.NoError(t, renderBatchReport(md.Renderer, report))
	testutil.AssertContains(t, md.Output(), "lineage/orphan.json")
	testutil.AssertContains(t, md.Output(), "- **Loaded:** 1")
	testutil.AssertNoANSI(t, md.Output())
}

func TestRenderExtractRuns(t *testing.T) {
	runs := []*extract.TemplateRun{
		{Template: "lineage", ExecutionNumber: 3, Dir: "llm_answers/lineage/3", Saved: 2, Failed: 1, PromptTokens: 900, AnswerTokens: 300},
		{Template: "lineage_v2", Skipped: 3},
	}

	tr := testutil.NewTestRendererJSON()
	require.NoError(t, renderExtractRuns(tr.Renderer, runs))
	var got []ExtractRunOutput
	require.NoError(t, json.Unmarshal(tr.Out.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].ExecutionNumber)
	assert.Equal(t, 3, got[1].Skipped)

	md := testutil.NewTestRendererMarkdown()
	require.NoError(t, renderExtractRuns(md.Renderer, runs))
	testutil.AssertContains(t, md.Output(), "| lineage_v2 | - |")
}

func TestRenderDoctor(t *testing.T) {
	out := &DoctorOutput{
		ConfigFile: "/p/leapgraph.yaml",
		Checks: []HealthCheck{
			{Name: "config", Status: CheckPass},
			{Name: "graph", Status: CheckFail, Detail: "connection refused"},
		},
		Failed: 1,
	}

	md := testutil.NewTestRendererMarkdown()
	require.NoError(t, renderDoctor(md.Renderer, out))
	testutil.AssertContains(t, md.Output(), "# Doctor")
	testutil.AssertContains(t, md.Output(), "| graph | fail | connection refused |")

	js := testutil.NewTestRendererJSON()
	require.NoError(t, renderDoctor(js.Renderer, out))
	var got DoctorOutput
	require.NoError(t, json.Unmarshal(js.Out.Bytes(), &got))
	assert.Equal(t, 1, got.Failed)

	text := testutil.NewTestRendererText()
	require.NoError(t, renderDoctor(text.Renderer, out))
	testutil.AssertContains(t, text.Output(), "graph")
	testutil.AssertContains(t, text.ErrorOutput(), "1 checks failed")
}

func TestSelectTemplates(t *testing.T) {
	all := []*extract.Template{{Name: "a"}, {Name: "b"}, {Name: "c"}}

	assert.Len(t, selectTemplates(all, nil), 3)
	got := selectTemplates(all, []string{"c", "a", "missing"})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "c", got[1].Name)
}

func TestRunOptions(t *testing.T) {
	dir := setupProject(t, map[string]string{
		"seeds/customer.csv": "id\n1\n",
	})
	cfg := getConfig()

	o := runOptions(cfg.SQLDir, cfg.LineageDir, cfg.Pipelines.ScriptDependencies, cfg.SeedsDir, &RunOptions{Select: []string{"a"}})
	assert.Empty(t, o.ScriptDeps, "missing dependency file is not passed on")
	assert.Equal(t, cfg.SeedsDir, o.SeedsDir)
	assert.Equal(t, []string{"a"}, o.Select)

	o = runOptions(cfg.SQLDir, cfg.LineageDir, cfg.Pipelines.ScriptDependencies, cfg.SeedsDir, &RunOptions{NoSeeds: true})
	assert.Empty(t, o.SeedsDir)
	assert.Contains(t, cfg.SQLDir, dir)
}
