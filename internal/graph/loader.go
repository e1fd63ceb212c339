package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapgraph/internal/pipeline"
	"github.com/leapstack-labs/leapgraph/pkg/core"
	"github.com/leapstack-labs/leapgraph/pkg/identifier"
)

// ErrMissingContext is returned by LoadLineage when the script or pipeline
// name is empty.
var ErrMissingContext = errors.New("script and pipeline name are required")

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	Flavor Flavor
	Logger *slog.Logger
}

// Loader writes lineage facts through an Executor.
type Loader struct {
	exec   Executor
	flavor Flavor
	logger *slog.Logger
}

// NewLoader creates a loader on top of exec.
func NewLoader(exec Executor, cfg LoaderConfig) *Loader {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	flavor := cfg.Flavor
	if flavor == "" {
		flavor = FlavorMemgraph
	}
	return &Loader{exec: exec, flavor: flavor, logger: logger}
}

// LoadStats counts what LoadLineage did with one document.
type LoadStats struct {
	Columns int // target columns merged
	Sources int // source links merged
	Skipped int // sources with unusable identifiers
	Failed  int // sources whose writes failed
	// TargetSkipped is set when the document had no usable target table.
	TargetSkipped bool
}

// EnsureConstraints creates uniqueness constraints and indexes on the
// identifying property of every label. Statements failing because the
// constraint or index already exists are ignored.
func (l *Loader) EnsureConstraints(ctx context.Context) error {
	var errs []error
	for _, stmt := range schemaStatements(l.flavor) {
		if _, err := l.exec.Exec(ctx, stmt, nil); err != nil {
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "already exists") || strings.Contains(msg, "constraint requires") {
				l.logger.Debug("constraint or index already exists", slog.String("statement", stmt))
				continue
			}
			errs = append(errs, fmt.Errorf("%s: %w", stmt, err))
		}
	}
	return errors.Join(errs...)
}

// LoadLineage merges one lineage document into the graph under the given
// script and pipeline.
func (l *Loader) LoadLineage(ctx context.Context, doc *core.Document, script, pipelineName string) (LoadStats, error) {
	var stats LoadStats
	if script == "" || pipelineName == "" {
		return stats, ErrMissingContext
	}

	if _, err := l.exec.Write(ctx, mergePipeline, map[string]any{"pipeline_name": pipelineName}); err != nil {
		return stats, fmt.Errorf("failed to merge pipeline %s: %w", pipelineName, err)
	}
	if _, err := l.exec.Write(ctx, mergeScript, map[string]any{
		"pipeline_name": pipelineName,
		"script_name":   script,
	}); err != nil {
		return stats, fmt.Errorf("failed to merge script %s: %w", script, err)
	}

	file, _ := identifier.ParseFileSource(doc)
	if file != nil {
		if _, err := l.exec.Write(ctx, mergeFileTable, map[string]any{
			"schema_name":     file.Schema,
			"table_full_name": file.FullName,
			"table_name":      file.Table,
		}); err != nil {
			l.logger.Error("failed to merge file source",
				slog.String("script", script), slog.String("table", file.FullName), slog.String("error", err.Error()))
		}
	}

	target := identifier.NormalizeTableName(doc.TargetTable)
	schema, table, ok := identifier.SplitQualified(target)
	if !ok {
		l.logger.Warn("skipping document without a usable target table",
			slog.String("script", script), slog.String("target_table", doc.TargetTable))
		stats.TargetSkipped = true
		return stats, nil
	}

	if _, err := l.exec.Write(ctx, mergeTargetTable, map[string]any{
		"schema_name":     schema,
		"table_full_name": target,
		"table_name":      table,
	}); err != nil {
		return stats, fmt.Errorf("failed to merge target table %s: %w", target, err)
	}

	for _, colName := range doc.Columns() {
		col := doc.Lineage[colName]
		tgtCol := target + "." + colName

		if _, err := l.exec.Write(ctx, mergeTargetColumn, map[string]any{
			"table_full_name": target,
			"col_full_name":   tgtCol,
			"col_name":        colName,
		}); err != nil {
			l.logger.Error("failed to merge target column",
				slog.String("column", tgtCol), slog.String("error", err.Error()))
			stats.Failed += len(col.Sources)
			continue
		}
		stats.Columns++

		for _, src := range col.Sources {
			switch err := l.loadSource(ctx, script, tgtCol, col, src, file); {
			case err == nil:
				stats.Sources++
			case errors.Is(err, identifier.ErrInvalidIdentifier):
				l.logger.Warn("skipping source", slog.String("target", tgtCol), slog.String("error", err.Error()))
				stats.Skipped++
			default:
				l.logger.Error("failed to load source",
					slog.String("target", tgtCol),
					slog.String("source", src.SourceIdentifier),
					slog.String("error", err.Error()))
				stats.Failed++
			}
		}
	}

	l.logger.Debug("loaded lineage document",
		slog.String("script", script),
		slog.String("target", target),
		slog.Int("columns", stats.Columns),
		slog.Int("sources", stats.Sources))
	return stats, nil
}

func (l *Loader) loadSource(ctx context.Context, script, tgtCol string, col core.ColumnLineage, src core.SourceRef, file *identifier.FileSource) error {
	id := src.SourceIdentifier
	if id == "" {
		return fmt.Errorf("%w: missing source_identifier", identifier.ErrInvalidIdentifier)
	}

	schema, table, column, err := identifier.ParseIdentifier(id, file)
	if err != nil {
		return err
	}
	fromFile := file != nil && identifier.IsFilePlaceholder(id)
	if strings.Count(id, ".") == 1 && !fromFile {
		l.logger.Warn("source identifier has no schema, assuming main", slog.String("source", id))
	}

	srcTable := schema + "." + table
	srcCol := srcTable + "." + column

	if _, err := l.exec.Write(ctx, mergeSourceColumn, map[string]any{
		"src_schema_name":     schema,
		"src_full_table_name": srcTable,
		"src_table_name":      table,
		"src_col_full_name":   srcCol,
		"src_col_name":        column,
	}); err != nil {
		return fmt.Errorf("failed to merge source column %s: %w", srcCol, err)
	}

	if _, err := l.exec.Write(ctx, mergeDerivedFrom, map[string]any{
		"src_col_full_name": srcCol,
		"tgt_col_full_name": tgtCol,
		"props":             derivationProps(col, src),
	}); err != nil {
		return fmt.Errorf("failed to merge DERIVED_FROM %s -> %s: %w", tgtCol, srcCol, err)
	}

	if _, err := l.exec.Write(ctx, mergeScriptColumns, map[string]any{
		"script_name":       script,
		"src_col_full_name": srcCol,
		"tgt_col_full_name": tgtCol,
	}); err != nil {
		return fmt.Errorf("failed to link script %s: %w", script, err)
	}
	return nil
}

// derivationProps builds the DERIVED_FROM properties. Empty values are left
// out so ON MATCH SET r += $props never erases what an earlier load stored.
func derivationProps(col core.ColumnLineage, src core.SourceRef) map[string]any {
	props := make(map[string]any)
	put := func(k, v string) {
		if v != "" {
			props[k] = v
		}
	}

	logic := src.EffectiveLogic(col)
	put("transformation_type", src.EffectiveType(col))
	put("transformation_logic", logic)
	put("notes", src.EffectiveNotes(col))
	put("role", src.Role)

	if len(src.Path) > 0 {
		if b, err := marshalText([]string(src.Path)); err == nil {
			props["path"] = b
		}
	}
	if src.HasJoinInfo() {
		props["join_info"] = compactJSON(src.JoinInfo)
	}

	if identifier.IsFilePlaceholder(src.SourceIdentifier) && strings.Contains(logic, "COPY from file") {
		props["transformation_type"] = core.TransformFileLoad
	}
	return props
}

func compactJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	b, err := marshalText(v)
	if err != nil {
		return string(raw)
	}
	return b
}

// marshalText encodes v as compact JSON without HTML escaping, so SQL
// operators like <> and -> stay readable in the graph.
func marshalText(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// ImportTableSchema merges a warehouse table, its columns, their types,
// primary key flags and comments.
func (l *Loader) ImportTableSchema(ctx context.Context, meta *core.TableMetadata) error {
	full := meta.FullName()

	query := mergeSchemaTable
	params := map[string]any{
		"schema_name":     meta.Schema,
		"table_full_name": full,
		"table_name":      meta.Name,
	}
	if meta.Comment != "" {
		query += setTableComment
		params["table_comment"] = meta.Comment
	}
	if _, err := l.exec.Write(ctx, query, params); err != nil {
		return fmt.Errorf("failed to merge table %s: %w", full, err)
	}

	for _, c := range meta.Columns {
		query := mergeSchemaColumn
		params := map[string]any{
			"table_full_name": full,
			"col_full_name":   full + "." + c.Name,
			"col_name":        c.Name,
			"col_type":        c.Type,
		}
		if c.PrimaryKey {
			query += setColumnDescription
			params["col_desc"] = "Primary Key: true"
		}
		if c.Comment != "" {
			query += setColumnComment
			params["col_comment"] = c.Comment
		}
		query += mergeColumnInTable

		if _, err := l.exec.Write(ctx, query, params); err != nil {
			return fmt.Errorf("failed to merge column %s.%s: %w", full, c.Name, err)
		}
	}

	l.logger.Debug("imported table schema", slog.String("table", full), slog.Int("columns", len(meta.Columns)))
	return nil
}

// UpdateScripts stores path, SQL text and content hash on the Script nodes
// matching files by name. Files without a Script node count as notFound.
func (l *Loader) UpdateScripts(ctx context.Context, files map[string]pipeline.SQLFile) (updated, notFound int, err error) {
	known, err := l.ScriptNames(ctx)
	if err != nil {
		return 0, 0, err
	}
	knownSet := make(map[string]bool, len(known))
	for _, n := range known {
		knownSet[n] = true
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !knownSet[name] {
			notFound++
			continue
		}
		f := files[name]
		if _, err := l.exec.Write(ctx, updateScript, map[string]any{
			"script_name":  name,
			"path_to_sql":  f.Path,
			"sql_content":  f.Content,
			"content_hash": f.Hash,
		}); err != nil {
			return updated, notFound, fmt.Errorf("failed to update script %s: %w", name, err)
		}
		updated++
	}
	return updated, notFound, nil
}

// LinkDependencies merges DEPENDS_ON edges between nodes of label, which must
// be Pipeline or Script. It returns the number of edges created.
func (l *Loader) LinkDependencies(ctx context.Context, label Label, edges []pipeline.Edge) (int, error) {
	if label != LabelPipeline && label != LabelScript {
		return 0, fmt.Errorf("dependencies are not supported between %s nodes", label)
	}
	query := fmt.Sprintf(dependsOnTemplate, label)

	created := 0
	var errs []error
	for _, e := range edges {
		c, err := l.exec.Write(ctx, query, map[string]any{"from": e.From, "to": e.To})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s -> %s: %w", e.From, e.To, err))
			continue
		}
		created += c.RelationshipsCreated
	}
	return created, errors.Join(errs...)
}

// ScriptNames returns the names of all Script nodes, sorted.
func (l *Loader) ScriptNames(ctx context.Context) ([]string, error) {
	records, err := l.exec.Read(ctx, scriptNames, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list scripts: %w", err)
	}
	names := make([]string, 0, len(records))
	for _, r := range records {
		if n := r.String("script_name"); n != "" {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Transformation is one DERIVED_FROM edge produced by a script.
type Transformation struct {
	ReadsFrom string
	WritesTo  string
	Type      string
	Logic     string
}

// ScriptLineage is a script's SQL text and its non-trivial transformations.
type ScriptLineage struct {
	Script          string
	SQL             string
	Transformations []Transformation
}

// ScriptLineage fetches the SQL and every transformation of script except
// DIRECT INPUT pass-throughs.
func (l *Loader) ScriptLineage(ctx context.Context, script string) (*ScriptLineage, error) {
	records, err := l.exec.Read(ctx, scriptLineage, map[string]any{"script_name": script})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch lineage of %s: %w", script, err)
	}

	out := &ScriptLineage{Script: script}
	for _, r := range records {
		if sql := r.String("sql_content"); sql != "" && out.SQL == "" {
			out.SQL = sql
		}
		if from := r.String("reads_from"); from != "" {
			out.Transformations = append(out.Transformations, Transformation{
				ReadsFrom: from,
				WritesTo:  r.String("writes_to"),
				Type:      r.String("transformation_type"),
				Logic:     r.String("transformation_logic"),
			})
		}
	}
	return out, nil
}

// Reset deletes every node and relationship.
func (l *Loader) Reset(ctx context.Context) (Counters, error) {
	c, err := l.exec.Write(ctx, deleteAll, nil)
	if err != nil {
		return c, fmt.Errorf("failed to reset graph: %w", err)
	}
	return c, nil
}

// String returns the value of key as a string, or "" when absent or not a string.
func (r Record) String(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}
