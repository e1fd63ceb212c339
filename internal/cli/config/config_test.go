package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	// Import adapter packages to ensure adapters are registered via init()
	_ "github.com/leapstack-labs/leapgraph/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/leapgraph/pkg/adapters/postgres"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "leapgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// TestExpandEnvVars tests the expandEnvVars function.
func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR_ONE", "value_one")
	t.Setenv("TEST_VAR_TWO", "value_two")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "single variable", input: "${TEST_VAR_ONE}", expected: "value_one"},
		{name: "multiple variables", input: "${TEST_VAR_ONE}/${TEST_VAR_TWO}", expected: "value_one/value_two"},
		{name: "unset variable stays as-is", input: "${UNSET_VARIABLE}", expected: "${UNSET_VARIABLE}"},
		{name: "no variables", input: "plain string", expected: "plain string"},
		{name: "empty string", input: "", expected: ""},
		{name: "mixed set and unset", input: "${TEST_VAR_ONE}:${UNSET_VAR}", expected: "value_one:${UNSET_VAR}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, expandEnvVars(tt.input))
		})
	}
}

// TestMergeTargetConfig tests the MergeTargetConfig function.
func TestMergeTargetConfig(t *testing.T) {
	t.Run("nil base returns override", func(t *testing.T) {
		override := &TargetConfig{Type: "duckdb"}
		assert.Same(t, override, MergeTargetConfig(nil, override))
	})

	t.Run("nil override returns base", func(t *testing.T) {
		base := &TargetConfig{Type: "duckdb"}
		assert.Same(t, base, MergeTargetConfig(base, nil))
	})

	t.Run("override wins field by field", func(t *testing.T) {
		base := &TargetConfig{
			Type:    "postgres",
			Host:    "localhost",
			Port:    5432,
			User:    "etl",
			Options: map[string]string{"sslmode": "disable"},
			Params:  map[string]any{"a": 1},
		}
		override := &TargetConfig{
			Host:    "prod-db",
			Options: map[string]string{"sslmode": "require"},
			Params:  map[string]any{"b": 2},
		}

		merged := MergeTargetConfig(base, override)
		assert.Equal(t, "postgres", merged.Type)
		assert.Equal(t, "prod-db", merged.Host)
		assert.Equal(t, 5432, merged.Port)
		assert.Equal(t, "etl", merged.User)
		assert.Equal(t, "require", merged.Options["sslmode"])
		assert.Equal(t, map[string]any{"a": 1, "b": 2}, merged.Params)

		// base must not be mutated
		assert.Equal(t, "disable", base.Options["sslmode"])
	})
}

func TestLoadConfig_Defaults(t *testing.T) {
	ResetConfig()
	cfgPath := writeConfig(t, "target:\n  type: duckdb\n")
	root := filepath.Dir(cfgPath)

	cfg, err := LoadConfig(cfgPath, nil)
	require.NoError(t, err)

	assert.Equal(t, root, cfg.ProjectRoot)
	assert.Equal(t, filepath.Join(root, DefaultSQLDir), cfg.SQLDir)
	assert.Equal(t, filepath.Join(root, DefaultLineageDir), cfg.LineageDir)
	assert.Equal(t, filepath.Join(root, DefaultStateFile), cfg.StatePath)
	assert.Equal(t, filepath.Join(root, "pipeline_mapping.json"), cfg.Pipelines.Mapping)
	assert.Equal(t, filepath.Join(root, "EVALUATOR_OUTPUT.txt"), cfg.Evaluate.Report)
	assert.Equal(t, DefaultGraphURI, cfg.Graph.URI)
	assert.Equal(t, "memgraph", cfg.Graph.Flavor)
	assert.Equal(t, uint64(5), cfg.Graph.MaxRetries)
	assert.Equal(t, DefaultLLMModel, cfg.LLM.Model)
	assert.InDelta(t, 0.1, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, 5*time.Second, cfg.LLM.Delay)
	assert.Equal(t, 1, cfg.LLM.Concurrency)
	assert.Equal(t, "main", cfg.Target.Schema)
	assert.Equal(t, "file", cfg.OpenLineage.Transport.Type)
	assert.Equal(t, cfgPath, GetConfigFileUsed())
	assert.Same(t, cfg, GetCurrentConfig())
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_FileValues(t *testing.T) {
	ResetConfig()
	t.Setenv("TEST_GRAPH_PASSWORD", "s3cret")
	cfgPath := writeConfig(t, `sql_dir: scripts
target:
  type: postgres
  database: dwh
  user: etl
  password: ${TEST_GRAPH_PASSWORD}
graph:
  uri: neo4j+s://graph.example.com
  flavor: neo4j
  password: ${TEST_GRAPH_PASSWORD}
llm:
  delay: 250ms
  concurrency: 3
openlineage:
  enabled: true
  namespace: warehouse
  transport:
    type: http
    url: http://marquez:5000
`)

	cfg, err := LoadConfig(cfgPath, nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(filepath.Dir(cfgPath), "scripts"), cfg.SQLDir)
	assert.Equal(t, "postgres", cfg.Target.Type)
	assert.Equal(t, "public", cfg.Target.Schema)
	assert.Equal(t, 5432, cfg.Target.Port)
	assert.Equal(t, "dwh", cfg.Target.Database, "postgres database names are not paths")
	assert.Equal(t, "s3cret", cfg.Target.Password)
	assert.Equal(t, "s3cret", cfg.Graph.Password)
	assert.Equal(t, 250*time.Millisecond, cfg.LLM.Delay)
	assert.Equal(t, 3, cfg.LLM.Concurrency)
	assert.True(t, cfg.OpenLineage.Enabled)
	assert.Equal(t, "http", cfg.OpenLineage.Transport.Type)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigWithTarget(t *testing.T) {
	cfgPath := writeConfig(t, `target:
  type: duckdb
  database: dev.duckdb
targets:
  prod:
    database: /data/prod.duckdb
    params:
      settings:
        threads: 8
`)

	t.Run("named target merged", func(t *testing.T) {
		ResetConfig()
		cfg, err := LoadConfigWithTarget(cfgPath, "prod", nil)
		require.NoError(t, err)
		assert.Equal(t, "duckdb", cfg.Target.Type)
		assert.Equal(t, "/data/prod.duckdb", cfg.Target.Database)
		assert.NotEmpty(t, cfg.Target.Params["settings"])
	})

	t.Run("base target path resolved", func(t *testing.T) {
		ResetConfig()
		cfg, err := LoadConfig(cfgPath, nil)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(filepath.Dir(cfgPath), "dev.duckdb"), cfg.Target.Database)
	})

	t.Run("unknown target", func(t *testing.T) {
		ResetConfig()
		_, err := LoadConfigWithTarget(cfgPath, "staging", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "staging")
	})
}

// TestLoadConfig_Precedence checks flags > env vars > config file.
func TestLoadConfig_Precedence(t *testing.T) {
	cfgPath := writeConfig(t, "output: markdown\ngraph:\n  uri: bolt://from-file:7687\n")

	t.Run("env overrides file", func(t *testing.T) {
		ResetConfig()
		t.Setenv("LEAPGRAPH_OUTPUT", "json")
		t.Setenv("LEAPGRAPH_GRAPH__URI", "bolt://from-env:7687")

		cfg, err := LoadConfig(cfgPath, nil)
		require.NoError(t, err)
		assert.Equal(t, "json", cfg.OutputFormat)
		assert.Equal(t, "bolt://from-env:7687", cfg.Graph.URI)
	})

	t.Run("flag overrides env", func(t *testing.T) {
		ResetConfig()
		t.Setenv("LEAPGRAPH_OUTPUT", "json")

		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		flags.String("output", "", "")
		flags.String("sql-dir", "", "")
		flags.Bool("verbose", false, "")
		require.NoError(t, flags.Set("output", "text"))
		require.NoError(t, flags.Set("sql-dir", "relative/sql"))

		cfg, err := LoadConfig(cfgPath, flags)
		require.NoError(t, err)
		assert.Equal(t, "text", cfg.OutputFormat)
		assert.False(t, cfg.Verbose, "unset flags must not override")

		want, err := filepath.Abs("relative/sql")
		require.NoError(t, err)
		assert.Equal(t, want, cfg.SQLDir, "flag paths resolve against the working directory")
	})
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Target:      &TargetConfig{Type: "duckdb"},
			Graph:       GraphConfig{URI: "bolt://localhost:7687", Flavor: "memgraph"},
			OpenLineage: OpenLineageConfig{Transport: TransportConfig{Type: "file"}},
		}
	}

	tests := []struct {
		name      string
		mutate    func(c *Config)
		errSubstr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "neo4j+ssc scheme", mutate: func(c *Config) { c.Graph.URI = "neo4j+ssc://host:7687" }},
		{name: "unknown target", mutate: func(c *Config) { c.Target.Type = "oracle" }, errSubstr: "unknown adapter type"},
		{name: "unknown transport", mutate: func(c *Config) { c.OpenLineage.Transport.Type = "kafka" }, errSubstr: "transport"},
		{name: "http graph uri", mutate: func(c *Config) { c.Graph.URI = "http://localhost:7474" }, errSubstr: "scheme"},
		{name: "unknown flavor", mutate: func(c *Config) { c.Graph.Flavor = "neptune" }, errSubstr: "flavor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.errSubstr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}
