package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/leapgraph/pkg/adapter"
	"github.com/leapstack-labs/leapgraph/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/leapstack-labs/leapgraph/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/leapgraph/pkg/adapters/postgres"
)

func TestApplyTargetDefaults(t *testing.T) {
	tests := []struct {
		name   string
		target core.TargetConfig
		want   core.TargetConfig
	}{
		{
			name:   "duckdb",
			target: core.TargetConfig{Type: "DuckDB"},
			want:   core.TargetConfig{Type: "duckdb", Schema: "main"},
		},
		{
			name:   "postgres",
			target: core.TargetConfig{Type: "postgres"},
			want:   core.TargetConfig{Type: "postgres", Schema: "public", Host: "localhost", Port: 5432},
		},
		{
			name:   "alias resolves to registered name",
			target: core.TargetConfig{Type: "PostgreSQL"},
			want:   core.TargetConfig{Type: "postgres", Schema: "public", Host: "localhost", Port: 5432},
		},
		{
			name:   "explicit values kept",
			target: core.TargetConfig{Type: "postgres", Schema: "wh", Host: "db", Port: 6543},
			want:   core.TargetConfig{Type: "postgres", Schema: "wh", Host: "db", Port: 6543},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.target
			ApplyTargetDefaults(&got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateTarget(t *testing.T) {
	assert.NoError(t, ValidateTarget(nil))
	assert.NoError(t, ValidateTarget(&core.TargetConfig{Type: "duckdb"}))
	assert.NoError(t, ValidateTarget(&core.TargetConfig{Type: "pg"}))
	assert.Error(t, ValidateTarget(&core.TargetConfig{}))

	err := ValidateTarget(&core.TargetConfig{Type: "oracle"})
	var unknown *adapter.UnknownAdapterError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "oracle", unknown.Type)
}

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	assert.Empty(t, FindProjectRoot(nested, 3))

	require.NoError(t, os.WriteFile(filepath.Join(root, ConfigFileNameAlt), []byte("sql_dir: sql\n"), 0o600))
	assert.Equal(t, root, FindProjectRoot(nested, 3))
	assert.Empty(t, FindProjectRoot(nested, 2))
	assert.Equal(t, filepath.Join(root, ConfigFileNameAlt), FindConfigFile(root))
}
