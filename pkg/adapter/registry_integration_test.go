package adapter_test

import (
	"context"
	"testing"

	"github.com/leapstack-labs/leapgraph/pkg/adapter"
	"github.com/leapstack-labs/leapgraph/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/leapstack-labs/leapgraph/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/leapgraph/pkg/adapters/postgres"
)

func TestBuiltinAdaptersRegistered(t *testing.T) {
	tests := []struct {
		name    string
		dialect string
	}{
		{"duckdb", "duckdb"},
		{"postgres", "postgres"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.True(t, adapter.IsRegistered(tt.name))

			adp, err := adapter.NewAdapter(core.AdapterConfig{Type: tt.name}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.dialect, adp.DialectName())
		})
	}

	assert.False(t, adapter.IsRegistered("unknown_db"))
}

func TestNewAdapter_ConnectsInMemoryDuckDB(t *testing.T) {
	ctx := context.Background()
	cfg := core.AdapterConfig{Type: "duckdb", Path: ":memory:"}

	adp, err := adapter.NewAdapter(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, adp.Connect(ctx, cfg))
	defer func() { _ = adp.Close() }()

	require.NoError(t, adp.Exec(ctx, "CREATE TABLE t (id INTEGER)"))
	meta, err := adp.GetTableMetadata(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, "main", meta.Schema)
	require.Len(t, meta.Columns, 1)
	assert.Equal(t, "id", meta.Columns[0].Name)
}

func TestNewAdapter_UnknownTypeListsAvailable(t *testing.T) {
	_, err := adapter.NewAdapter(core.AdapterConfig{Type: "unknown_adapter"}, nil)
	require.Error(t, err)

	var unknownErr *adapter.UnknownAdapterError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "unknown_adapter", unknownErr.Type)
	assert.Contains(t, unknownErr.Available, "duckdb")
	assert.Contains(t, unknownErr.Available, "postgres")
}
