package etl_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/leapstack-labs/leapgraph/internal/etl"
	"github.com/leapstack-labs/leapgraph/internal/openlineage"
	"github.com/leapstack-labs/leapgraph/internal/state"
	"github.com/leapstack-labs/leapgraph/internal/testutil"
	"github.com/leapstack-labs/leapgraph/pkg/adapters/duckdb"
	"github.com/leapstack-labs/leapgraph/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryTransport struct {
	mu     sync.Mutex
	events []*openlineage.RunEvent
}

func (m *memoryTransport) Emit(_ context.Context, ev *openlineage.RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memoryTransport) ofType(kind openlineage.EventType) []*openlineage.RunEvent {
	var out []*openlineage.RunEvent
	for _, ev := range m.events {
		if ev.EventType == kind {
			out = append(out, ev)
		}
	}
	return out
}

type project struct {
	dir       string
	sqlDir    string
	lineage   string
	deps      string
	seeds     string
	transport *memoryTransport
	store     *state.SQLiteStore
	runner    *etl.Runner
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func setupProject(t *testing.T, scripts map[string]string, deps string) *project {
	t.Helper()
	dir := t.TempDir()
	p := &project{
		dir:       dir,
		sqlDir:    filepath.Join(dir, "sql"),
		lineage:   filepath.Join(dir, "lineage"),
		deps:      filepath.Join(dir, "script_dependencies.json"),
		seeds:     filepath.Join(dir, "seeds"),
		transport: &memoryTransport{},
	}
	for name, sql := range scripts {
		write(t, filepath.Join(p.sqlDir, name), sql)
	}
	write(t, p.deps, deps)
	write(t, filepath.Join(p.seeds, "raw_customer.csv"), "id,name\n1,alice\n2,bob\n")
	write(t, filepath.Join(p.lineage, "answer_dim_customer_20250101_120000_000001.json"), `{
		"target_table": "main.dim_customer",
		"sources_summary": [{"name": "main.raw_customer", "type": "TABLE"}],
		"lineage": {
			"id": {"transformation_type": "DIRECT", "sources": [{"source_identifier": "main.raw_customer.id"}]},
			"name": {"transformation_type": "EXPRESSION", "transformation_logic": "upper(name)", "sources": [{"source_identifier": "main.raw_customer.name"}]}
		}
	}`)

	ctx := context.Background()
	adp := duckdb.New(testutil.NewTestLogger(t))
	require.NoError(t, adp.Connect(ctx, core.AdapterConfig{Path: ":memory:"}))
	t.Cleanup(func() { _ = adp.Close() })

	p.store = state.NewSQLiteStore(testutil.NewTestLogger(t))
	require.NoError(t, p.store.Open(":memory:"))
	require.NoError(t, p.store.InitSchema())
	t.Cleanup(func() { _ = p.store.Close() })

	logger := testutil.NewTestLogger(t)
	client := openlineage.NewClient(openlineage.ClientConfig{Namespace: "test", Transport: p.transport, Logger: logger})
	p.runner = etl.NewRunner(etl.Config{
		Adapter: adp,
		Store:   p.store,
		Tracker: openlineage.NewTracker(client, logger),
		Logger:  logger,
	}, client)
	return p
}

func (p *project) options() etl.Options {
	return etl.Options{SQLDir: p.sqlDir, LineageDir: p.lineage, ScriptDeps: p.deps, SeedsDir: p.seeds}
}

func statuses(res *etl.Result) map[string]core.RunStatus {
	out := make(map[string]core.RunStatus)
	for _, s := range res.Scripts {
		out[s.Script] = s.Status
	}
	return out
}

func TestRunner_Run(t *testing.T) {
	p := setupProject(t, map[string]string{
		"dim_customer.sql": "CREATE TABLE dim_customer AS SELECT id, upper(name) AS name FROM raw_customer",
		"fact_orders.sql":  "CREATE TABLE fact_orders AS SELECT id AS customer_id, 10 AS amount FROM dim_customer",
	}, `{"fact_orders": ["dim_customer"]}`)

	res, err := p.runner.Run(context.Background(), p.options())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Seeds)
	require.Len(t, res.Scripts, 2)
	assert.Equal(t, "dim_customer.sql", res.Scripts[0].Script)
	assert.Equal(t, "fact_orders.sql", res.Scripts[1].Script)
	assert.Equal(t, 2, res.Count(core.RunStatusCompleted))
	assert.Equal(t, int64(2), res.Scripts[0].RowsAffected)
	assert.NotEmpty(t, res.Scripts[0].LineageRunID)

	run, err := p.store.GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusCompleted, run.Status)

	scriptRuns, err := p.store.GetScriptRunsForRun(res.RunID)
	require.NoError(t, err)
	require.Len(t, scriptRuns, 2)
	assert.Equal(t, res.Scripts[0].LineageRunID, scriptRuns[0].OpenLineageRunID)
	assert.Equal(t, int64(2), scriptRuns[0].RowsAffected)

	assert.Len(t, p.transport.ofType(openlineage.EventStart), 2)
	completes := p.transport.ofType(openlineage.EventComplete)
	require.Len(t, completes, 2)

	dim := completes[0]
	assert.Equal(t, "dim_customer", dim.Job.Name)
	require.Len(t, dim.Inputs, 1)
	assert.Equal(t, "main.raw_customer", dim.Inputs[0].Name)
	require.Len(t, dim.Outputs, 1)
	assert.Equal(t, "main.dim_customer", dim.Outputs[0].Name)
	assert.Equal(t, int64(2), dim.Outputs[0].OutputFacets.OutputStatistics.RowCount)
	require.NotNil(t, dim.Outputs[0].Facets.ColumnLineage)
	assert.Contains(t, dim.Outputs[0].Facets.ColumnLineage.Fields, "name")

	// No lineage document: the job still completes, without outputs.
	assert.Empty(t, completes[1].Outputs)
}

func TestRunner_FailureSkipsDownstream(t *testing.T) {
	scripts := map[string]string{
		"a_stage.sql":   "CREATE TABLE stage AS SELECT * FROM raw_customer",
		"b_broken.sql":  "INSERT INTO missing_table SELECT 1",
		"c_report.sql":  "CREATE TABLE report AS SELECT 1 AS x",
		"d_summary.sql": "CREATE TABLE summary AS SELECT count(*) AS n FROM stage",
	}
	deps := `{"b_broken": ["a_stage"], "c_report": ["b_broken"], "d_summary": ["a_stage"]}`

	t.Run("stop at first failure", func(t *testing.T) {
		p := setupProject(t, scripts, deps)
		res, err := p.runner.Run(context.Background(), p.options())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "b_broken.sql")

		assert.Equal(t, map[string]core.RunStatus{
			"a_stage.sql":   core.RunStatusCompleted,
			"b_broken.sql":  core.RunStatusFailed,
			"c_report.sql":  core.RunStatusSkipped,
			"d_summary.sql": core.RunStatusSkipped,
		}, statuses(res))

		run, err := p.store.GetRun(res.RunID)
		require.NoError(t, err)
		assert.Equal(t, core.RunStatusFailed, run.Status)

		fails := p.transport.ofType(openlineage.EventFail)
		require.Len(t, fails, 1)
		assert.Equal(t, "b_broken", fails[0].Job.Name)
		assert.NotEmpty(t, fails[0].Run.Facets.ErrorMessage.Message)
	})

	t.Run("continue on error", func(t *testing.T) {
		p := setupProject(t, scripts, deps)
		opts := p.options()
		opts.ContinueOnError = true

		res, err := p.runner.Run(context.Background(), opts)
		require.Error(t, err)
		assert.Equal(t, map[string]core.RunStatus{
			"a_stage.sql":   core.RunStatusCompleted,
			"b_broken.sql":  core.RunStatusFailed,
			"c_report.sql":  core.RunStatusSkipped,
			"d_summary.sql": core.RunStatusCompleted,
		}, statuses(res))
	})
}

func TestRunner_Plan(t *testing.T) {
	p := setupProject(t, map[string]string{
		"a.sql": "SELECT 1",
		"b.sql": "SELECT 2",
		"c.sql": "SELECT 3",
	}, `{"b": ["a"], "c": ["b"]}`)

	opts := p.options()
	opts.Select = []string{"b"}
	g, err := p.runner.Plan(opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.sql"}, g.Names())

	opts.IncludeDownstream = true
	g, err = p.runner.Plan(opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.sql", "c.sql"}, g.Names())

	opts.Select = []string{"nope"}
	_, err = p.runner.Plan(opts)
	assert.Error(t, err)

	write(t, p.deps, `{"a": ["c"], "b": ["a"], "c": ["b"]}`)
	_, err = p.runner.Plan(p.options())
	assert.ErrorContains(t, err, "cycle")
}
