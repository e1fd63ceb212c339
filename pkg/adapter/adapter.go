// Package adapter provides the warehouse adapter contract used by leapgraph
// to introspect tables and execute ETL scripts.
//
// Concrete adapter implementations are in pkg/adapters/ subdirectories and
// register themselves with the registry in their init() functions.
package adapter

import (
	"context"

	"github.com/leapstack-labs/leapgraph/pkg/core"
)

// Type aliases for the shared warehouse types defined in pkg/core.
type (
	// Config is an alias for core.AdapterConfig.
	Config = core.AdapterConfig

	// Column is an alias for core.Column.
	Column = core.Column

	// Metadata is an alias for core.TableMetadata.
	Metadata = core.TableMetadata

	// Rows is an alias for core.Rows.
	Rows = core.Rows
)

// Adapter defines the interface that all warehouse adapters must implement.
type Adapter interface {
	// Connect establishes a connection to the warehouse using the provided config.
	Connect(ctx context.Context, cfg Config) error

	// Close closes the connection and releases resources.
	Close() error

	// Exec executes SQL that doesn't return rows. Adapters accept
	// multi-statement scripts where the driver allows it.
	Exec(ctx context.Context, sql string) error

	// Query executes a SQL statement that returns rows.
	Query(ctx context.Context, sql string) (*Rows, error)

	// GetTableMetadata retrieves columns, comments, keys and the row count of
	// a schema-qualified table.
	GetTableMetadata(ctx context.Context, table string) (*Metadata, error)

	// LoadCSV loads data from a CSV file into a table, replacing it.
	LoadCSV(ctx context.Context, tableName string, filePath string) error

	// DialectName returns the SQL dialect spoken by the warehouse.
	DialectName() string
}
