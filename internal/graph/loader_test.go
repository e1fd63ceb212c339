package graph_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/leapstack-labs/leapgraph/internal/graph"
	"github.com/leapstack-labs/leapgraph/internal/graph/graphtest"
	"github.com/leapstack-labs/leapgraph/internal/pipeline"
	"github.com/leapstack-labs/leapgraph/internal/testutil"
	"github.com/leapstack-labs/leapgraph/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const customerDoc = `{
  "target_table": "wh_db.DimCustomer",
  "sources_summary": [
    {"name": "data/batch1/Customer.csv", "type": "FILE"},
    {"name": "staging.customer", "type": "TABLE"}
  ],
  "lineage": {
    "sk_customer_id": {
      "transformation_type": "EXPRESSION",
      "transformation_logic": "ROW_NUMBER()",
      "sources": [{
        "source_identifier": "staging.customer.id",
        "role": "key",
        "path": "staging -> dim",
        "join_info": {"type": "LEFT"}
      }]
    },
    "name": {
      "transformation_type": "DIRECT",
      "transformation_logic": "COPY from file",
      "notes": "raw",
      "sources": [
        {"source_identifier": "file.name"},
        {"source_identifier": "bogus"}
      ]
    }
  }
}`

func parseDoc(t *testing.T, raw string) *core.Document {
	t.Helper()
	doc, err := core.ParseDocument([]byte(raw))
	require.NoError(t, err)
	return doc
}

func newLoader(t *testing.T, rec *graphtest.Recorder, flavor graph.Flavor) *graph.Loader {
	t.Helper()
	return graph.NewLoader(rec, graph.LoaderConfig{Flavor: flavor, Logger: testutil.NewTestLogger(t)})
}

func TestLoadLineage_MissingContext(t *testing.T) {
	rec := &graphtest.Recorder{}
	l := newLoader(t, rec, "")

	_, err := l.LoadLineage(context.Background(), parseDoc(t, customerDoc), "", "customers")
	assert.ErrorIs(t, err, graph.ErrMissingContext)
	_, err = l.LoadLineage(context.Background(), parseDoc(t, customerDoc), "dim_customer.sql", "")
	assert.ErrorIs(t, err, graph.ErrMissingContext)
	assert.Empty(t, rec.Calls)
}

func TestLoadLineage_Document(t *testing.T) {
	rec := &graphtest.Recorder{}
	l := newLoader(t, rec, "")

	stats, err := l.LoadLineage(context.Background(), parseDoc(t, customerDoc), "dim_customer.sql", "customers")
	require.NoError(t, err)
	assert.Equal(t, graph.LoadStats{Columns: 2, Sources: 2, Skipped: 1}, stats)

	for _, c := range rec.Calls {
		assert.Equal(t, "write", c.Mode)
	}

	pipelines := rec.Matching("MERGE (p:Pipeline")
	require.NotEmpty(t, pipelines)
	assert.Equal(t, "customers", pipelines[0].Params["pipeline_name"])

	fileTables := rec.Matching("t.type = 'FILE'")
	require.Len(t, fileTables, 1)
	assert.Equal(t, "data.batch1", fileTables[0].Params["schema_name"])
	assert.Equal(t, "data.batch1.Customer.csv", fileTables[0].Params["table_full_name"])
	assert.Equal(t, "Customer.csv", fileTables[0].Params["table_name"])

	targetCols := rec.Matching("MATCH (t:Table {full_name: $table_full_name})", "c.name = $col_name")
	require.Len(t, targetCols, 2)
	assert.Equal(t, "wh_db.DimCustomer.name", targetCols[0].Params["col_full_name"])
	assert.Equal(t, "wh_db.DimCustomer.sk_customer_id", targetCols[1].Params["col_full_name"])

	derived := rec.Matching("DERIVED_FROM")
	require.Len(t, derived, 2)

	assert.Equal(t, "data.batch1.Customer.csv.name", derived[0].Params["src_col_full_name"])
	assert.Equal(t, map[string]any{
		"transformation_type":  core.TransformFileLoad,
		"transformation_logic": "COPY from file",
		"notes":                "raw",
	}, derived[0].Params["props"])

	assert.Equal(t, "staging.customer.id", derived[1].Params["src_col_full_name"])
	assert.Equal(t, "wh_db.DimCustomer.sk_customer_id", derived[1].Params["tgt_col_full_name"])
	assert.Equal(t, map[string]any{
		"transformation_type":  "EXPRESSION",
		"transformation_logic": "ROW_NUMBER()",
		"role":                 "key",
		"path":                 `["staging -> dim"]`,
		"join_info":            `{"type":"LEFT"}`,
	}, derived[1].Params["props"])

	scriptLinks := rec.Matching("READS_FROM", "GENERATES")
	require.Len(t, scriptLinks, 2)
	assert.Equal(t, "dim_customer.sql", scriptLinks[0].Params["script_name"])
}

func TestLoadLineage_Idempotent(t *testing.T) {
	rec := &graphtest.Recorder{}
	l := newLoader(t, rec, "")
	doc := parseDoc(t, customerDoc)

	_, err := l.LoadLineage(context.Background(), doc, "dim_customer.sql", "customers")
	require.NoError(t, err)
	first := append([]graphtest.Call(nil), rec.Calls...)
	rec.Reset()

	_, err = l.LoadLineage(context.Background(), doc, "dim_customer.sql", "customers")
	require.NoError(t, err)
	assert.Equal(t, first, rec.Calls, "a reload must issue the same MERGE statements")
	for _, c := range rec.Calls {
		assert.NotContains(t, c.Cypher, "CREATE (", "only MERGE upserts are allowed")
	}
}

func TestLoadLineage_TargetSkipped(t *testing.T) {
	rec := &graphtest.Recorder{}
	l := newLoader(t, rec, "")

	stats, err := l.LoadLineage(context.Background(),
		parseDoc(t, `{"target_table": "", "lineage": {"a": {"sources": []}}}`),
		"x.sql", "p")
	require.NoError(t, err)
	assert.True(t, stats.TargetSkipped)
	assert.Empty(t, rec.Matching("DERIVED_FROM"))
	assert.Len(t, rec.Calls, 2, "pipeline and script are still merged")
}

func TestLoadLineage_BareTargetUsesMainSchema(t *testing.T) {
	rec := &graphtest.Recorder{}
	l := newLoader(t, rec, "")

	_, err := l.LoadLineage(context.Background(),
		parseDoc(t, `{"target_table": "orders", "lineage": {"id": {"sources": [{"source_identifier": "raw.orders.id"}]}}}`),
		"orders.sql", "p")
	require.NoError(t, err)

	tables := rec.Matching("MERGE (t:Table {full_name: $table_full_name})", "ON CREATE SET t.name = $table_name\n")
	require.NotEmpty(t, tables)
	assert.Equal(t, "main.orders", tables[0].Params["table_full_name"])
	assert.Equal(t, "main", tables[0].Params["schema_name"])
}

func TestLoadLineage_WriteFailures(t *testing.T) {
	t.Run("source failure is counted", func(t *testing.T) {
		rec := &graphtest.Recorder{FailWrite: func(cypher string, params map[string]any) error {
			if strings.Contains(cypher, "DERIVED_FROM") && params["src_col_full_name"] == "staging.customer.id" {
				return errors.New("boom")
			}
			return nil
		}}
		stats, err := newLoader(t, rec, "").LoadLineage(context.Background(), parseDoc(t, customerDoc), "s.sql", "p")
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Sources)
		assert.Equal(t, 1, stats.Failed)
	})

	t.Run("file source failure is logged", func(t *testing.T) {
		rec := &graphtest.Recorder{FailWrite: func(cypher string, _ map[string]any) error {
			if strings.Contains(cypher, "t.type = 'FILE'") {
				return errors.New("boom")
			}
			return nil
		}}
		stats, err := newLoader(t, rec, "").LoadLineage(context.Background(), parseDoc(t, customerDoc), "s.sql", "p")
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Columns)
		assert.NotEmpty(t, rec.Matching("DERIVED_FROM"))
	})

	t.Run("pipeline failure aborts", func(t *testing.T) {
		rec := &graphtest.Recorder{FailWrite: func(cypher string, _ map[string]any) error {
			if strings.Contains(cypher, "MERGE (p:Pipeline") {
				return errors.New("down")
			}
			return nil
		}}
		_, err := newLoader(t, rec, "").LoadLineage(context.Background(), parseDoc(t, customerDoc), "s.sql", "p")
		require.Error(t, err)
		assert.Len(t, rec.Calls, 1)
	})
}

func TestEnsureConstraints(t *testing.T) {
	tests := []struct {
		name      string
		flavor    graph.Flavor
		fail      func(string, map[string]any) error
		wantCalls int
		wantErr   bool
	}{
		{name: "memgraph", flavor: graph.FlavorMemgraph, wantCalls: 10},
		{name: "neo4j", flavor: graph.FlavorNeo4j, wantCalls: 5},
		{
			name:   "existing constraints are ignored",
			flavor: graph.FlavorMemgraph,
			fail: func(string, map[string]any) error {
				return errors.New("Constraint already exists")
			},
			wantCalls: 10,
		},
		{
			name:   "other errors are returned",
			flavor: graph.FlavorMemgraph,
			fail: func(cypher string, _ map[string]any) error {
				if strings.Contains(cypher, ":Script") {
					return errors.New("permission denied")
				}
				return nil
			},
			wantCalls: 10,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &graphtest.Recorder{FailWrite: tt.fail}
			err := newLoader(t, rec, tt.flavor).EnsureConstraints(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, rec.Calls, tt.wantCalls)
			for _, c := range rec.Calls {
				assert.Equal(t, "exec", c.Mode)
			}
		})
	}
}

func TestImportTableSchema(t *testing.T) {
	rec := &graphtest.Recorder{}
	meta := &core.TableMetadata{
		Schema:  "wh_db",
		Name:    "DimCustomer",
		Comment: "customers",
		Columns: []core.Column{
			{Name: "sk_customer_id", Type: "INTEGER", PrimaryKey: true},
			{Name: "tier", Type: "VARCHAR", Comment: "loyalty tier"},
		},
	}

	require.NoError(t, newLoader(t, rec, "").ImportTableSchema(context.Background(), meta))
	require.Len(t, rec.Calls, 3)

	assert.Contains(t, rec.Calls[0].Cypher, "SET t.comment = $table_comment")
	assert.Equal(t, "customers", rec.Calls[0].Params["table_comment"])

	assert.Contains(t, rec.Calls[1].Cypher, "SET c.description = $col_desc")
	assert.NotContains(t, rec.Calls[1].Cypher, "c.comment")
	assert.Equal(t, "Primary Key: true", rec.Calls[1].Params["col_desc"])
	assert.Equal(t, "wh_db.DimCustomer.sk_customer_id", rec.Calls[1].Params["col_full_name"])

	assert.Contains(t, rec.Calls[2].Cypher, "SET c.comment = $col_comment")
	assert.NotContains(t, rec.Calls[2].Cypher, "c.description")
	assert.Contains(t, rec.Calls[2].Cypher, "MERGE (c)-[:IN_TABLE]->(t)")
}

func scriptNamesReader(names ...string) func(string, map[string]any) ([]graph.Record, error) {
	return func(cypher string, _ map[string]any) ([]graph.Record, error) {
		if !strings.Contains(cypher, "RETURN DISTINCT s.name") {
			return nil, nil
		}
		out := make([]graph.Record, 0, len(names))
		for _, n := range names {
			out = append(out, graph.Record{"script_name": n})
		}
		return out, nil
	}
}

func TestUpdateScripts(t *testing.T) {
	rec := &graphtest.Recorder{OnRead: scriptNamesReader("dim_customer.sql")}
	files := map[string]pipeline.SQLFile{
		"dim_customer.sql": {Name: "dim_customer.sql", Path: "/sql/dim_customer.sql", Content: "SELECT 1", Hash: "abc"},
		"orphan.sql":       {Name: "orphan.sql"},
	}

	updated, notFound, err := newLoader(t, rec, "").UpdateScripts(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)
	assert.Equal(t, 1, notFound)

	calls := rec.Matching("SET s.path_to_sql")
	require.Len(t, calls, 1)
	assert.Equal(t, "SELECT 1", calls[0].Params["sql_content"])
	assert.Equal(t, "/sql/dim_customer.sql", calls[0].Params["path_to_sql"])
	assert.Equal(t, "abc", calls[0].Params["content_hash"])
}

func TestLinkDependencies(t *testing.T) {
	rec := &graphtest.Recorder{Counters: graph.Counters{RelationshipsCreated: 1}}
	l := newLoader(t, rec, "")

	created, err := l.LinkDependencies(context.Background(), graph.LabelScript, []pipeline.Edge{
		{From: "fact.sql", To: "dim.sql"},
		{From: "dim.sql", To: "stage.sql"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	require.Len(t, rec.Calls, 2)
	assert.Contains(t, rec.Calls[0].Cypher, "MATCH (a:Script {name: $from})")
	assert.Contains(t, rec.Calls[0].Cypher, "MERGE (a)-[:DEPENDS_ON]->(b)")
	assert.Equal(t, "fact.sql", rec.Calls[0].Params["from"])

	_, err = l.LinkDependencies(context.Background(), graph.LabelColumn, nil)
	assert.Error(t, err)
}

func TestScriptLineage(t *testing.T) {
	rec := &graphtest.Recorder{OnRead: func(string, map[string]any) ([]graph.Record, error) {
		return []graph.Record{
			{"sql_content": "INSERT INTO dim SELECT * FROM stage", "reads_from": nil},
			{"sql_content": nil, "reads_from": "stage.c.id", "writes_to": "dim.c.id",
				"transformation_type": "EXPRESSION", "transformation_logic": "id + 1"},
		}, nil
	}}

	sl, err := newLoader(t, rec, "").ScriptLineage(context.Background(), "dim.sql")
	require.NoError(t, err)
	assert.Equal(t, "dim.sql", sl.Script)
	assert.Equal(t, "INSERT INTO dim SELECT * FROM stage", sl.SQL)
	assert.Equal(t, []graph.Transformation{{
		ReadsFrom: "stage.c.id", WritesTo: "dim.c.id", Type: "EXPRESSION", Logic: "id + 1",
	}}, sl.Transformations)

	require.Len(t, rec.Calls, 1)
	assert.Contains(t, rec.Calls[0].Cypher, "<> 'DIRECT INPUT'")
	assert.Equal(t, "dim.sql", rec.Calls[0].Params["script_name"])
}

func TestScriptNamesAndReset(t *testing.T) {
	rec := &graphtest.Recorder{
		OnRead:   scriptNamesReader("b.sql", "a.sql"),
		Counters: graph.Counters{NodesDeleted: 7},
	}
	l := newLoader(t, rec, "")

	names, err := l.ScriptNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.sql", "b.sql"}, names)

	c, err := l.Reset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, c.NodesDeleted)
	assert.Len(t, rec.Matching("DETACH DELETE"), 1)
}
