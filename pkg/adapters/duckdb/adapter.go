// Package duckdb provides the DuckDB warehouse adapter.
//
// Import this package with a blank identifier to register the adapter:
//
//	import _ "github.com/leapstack-labs/leapgraph/pkg/adapters/duckdb"
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapgraph/pkg/adapter"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// DefaultSchema is the schema DuckDB places unqualified tables in.
const DefaultSchema = "main"

// Adapter implements the adapter.Adapter interface for DuckDB.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new DuckDB adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// DialectName returns the SQL dialect for this adapter.
func (a *Adapter) DialectName() string {
	return "duckdb"
}

// Connect establishes a connection to DuckDB.
// Use ":memory:" (or an empty path) for an in-memory database.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	params, err := ParseParams(cfg.Params)
	if err != nil {
		return err
	}

	path := cfg.Path
	if path == "" {
		path = cfg.Database
	}
	if path == "" {
		path = ":memory:"
	}

	dsn := path
	if params.ReadOnly && path != ":memory:" {
		dsn = path + "?access_mode=read_only"
	}

	a.Logger.Debug("connecting to duckdb", slog.String("path", path), slog.Bool("read_only", params.ReadOnly))

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	a.DB = db
	a.Cfg = cfg

	if err := a.applyParams(ctx, params); err != nil {
		_ = db.Close()
		a.DB = nil
		return err
	}

	return nil
}

// applyParams installs extensions and applies session settings.
func (a *Adapter) applyParams(ctx context.Context, p *Params) error {
	for _, ext := range p.Extensions {
		a.Logger.Debug("loading extension", slog.String("extension", ext))
		if err := a.Exec(ctx, fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
			return fmt.Errorf("failed to load extension %s: %w", ext, err)
		}
	}

	keys := make([]string, 0, len(p.Settings))
	for k := range p.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		stmt := fmt.Sprintf("SET %s = '%s'", k, escapeLiteral(p.Settings[k]))
		if err := a.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply setting %s: %w", k, err)
		}
	}
	return nil
}

// GetTableMetadata retrieves columns (with primary key flags and comments),
// the table comment and the row count of a table.
func (a *Adapter) GetTableMetadata(ctx context.Context, table string) (*adapter.Metadata, error) {
	if a.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}

	schema, tableName := adapter.ParseQualifiedName(table, DefaultSchema)
	qualified := schema + "." + tableName

	//nolint:gosec // the table name is passed as an escaped string literal
	rows, err := a.DB.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info('%s')", escapeLiteral(qualified)))
	if err != nil {
		return nil, fmt.Errorf("table %s not found: %w", qualified, err)
	}
	defer func() { _ = rows.Close() }()

	var columns []adapter.Column
	for rows.Next() {
		var (
			cid     int
			col     adapter.Column
			notNull bool
			dflt    sql.NullString
			pk      bool
		)
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Position = cid + 1
		col.Nullable = !notNull
		col.PrimaryKey = pk
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s not found", qualified)
	}

	comments, err := a.columnComments(ctx, schema, tableName)
	if err != nil {
		a.Logger.Debug("column comments unavailable", slog.String("table", qualified), slog.String("error", err.Error()))
	}
	for i := range columns {
		columns[i].Comment = comments[columns[i].Name]
	}

	return &adapter.Metadata{
		Schema:   schema,
		Name:     tableName,
		Comment:  a.tableComment(ctx, schema, tableName),
		Columns:  columns,
		RowCount: a.CountRows(ctx, schema, tableName),
	}, nil
}

func (a *Adapter) columnComments(ctx context.Context, schema, table string) (map[string]string, error) {
	comments := make(map[string]string)
	rows, err := a.DB.QueryContext(ctx, `
		SELECT column_name, comment
		FROM duckdb_columns()
		WHERE database_name = current_database()
		  AND schema_name = ? AND table_name = ?`, schema, table)
	if err != nil {
		return comments, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var name string
		var comment sql.NullString
		if err := rows.Scan(&name, &comment); err != nil {
			return comments, err
		}
		if comment.Valid {
			comments[name] = comment.String
		}
	}
	return comments, rows.Err()
}

func (a *Adapter) tableComment(ctx context.Context, schema, table string) string {
	var comment sql.NullString
	err := a.DB.QueryRowContext(ctx, `
		SELECT comment
		FROM duckdb_tables()
		WHERE database_name = current_database()
		  AND schema_name = ? AND table_name = ?`, schema, table).Scan(&comment)
	if err != nil {
		return ""
	}
	return comment.String
}

// LoadCSV loads data from a CSV file into a table.
// DuckDB will automatically infer the schema from the CSV file.
func (a *Adapter) LoadCSV(ctx context.Context, tableName string, filePath string) error {
	if a.DB == nil {
		return fmt.Errorf("database connection not established")
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	if schema, _, ok := strings.Cut(tableName, "."); ok {
		if err := a.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	query := fmt.Sprintf(
		"CREATE OR REPLACE TABLE %s AS SELECT * FROM read_csv_auto('%s', header=true)",
		tableName,
		escapeLiteral(absPath),
	)

	if err := a.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to load CSV: %w", err)
	}

	return nil
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
