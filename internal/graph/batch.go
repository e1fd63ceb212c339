package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leapstack-labs/leapgraph/internal/pipeline"
	"github.com/leapstack-labs/leapgraph/pkg/core"
	"github.com/leapstack-labs/leapgraph/pkg/identifier"
)

// MetadataSource provides warehouse table metadata for schema import.
type MetadataSource interface {
	GetTableMetadata(ctx context.Context, table string) (*core.TableMetadata, error)
}

// BatchOptions configures LoadDirectory.
type BatchOptions struct {
	LineageDir string
	// SQLDir, when set, is scanned to update Script node properties.
	SQLDir       string
	Mapping      *pipeline.Mapping
	PipelineDeps []pipeline.Edge
	ScriptDeps   []pipeline.Edge
	// Warehouse, when set, is used to import the schema of every table a
	// document references.
	Warehouse MetadataSource
	// SkipConstraints leaves constraints and indexes untouched.
	SkipConstraints bool
}

// Outcome values of a FileOutcome.
const (
	OutcomeLoaded  = "loaded"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// FileOutcome is what happened to one lineage file.
type FileOutcome struct {
	File     string
	Script   string
	Pipeline string
	Outcome  string
	Message  string
	Stats    LoadStats
}

// BatchReport summarizes LoadDirectory.
type BatchReport struct {
	Loaded          int
	Skipped         int
	Failed          int
	SchemasImported int
	ScriptsUpdated  int
	ScriptsNotFound int
	PipelineLinks   int
	ScriptLinks     int
	Files           []FileOutcome
	Duration        time.Duration
}

func (r *BatchReport) add(o FileOutcome) {
	switch o.Outcome {
	case OutcomeLoaded:
		r.Loaded++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
	r.Files = append(r.Files, o)
}

// LoadDirectory loads every lineage document in opts.LineageDir, then
// ensures constraints, updates script properties and links dependencies.
// A failing document is recorded in the report and does not stop the batch.
func (l *Loader) LoadDirectory(ctx context.Context, opts BatchOptions) (*BatchReport, error) {
	if opts.Mapping == nil {
		return nil, fmt.Errorf("pipeline mapping is required")
	}
	start := time.Now()
	report := &BatchReport{}

	docs, skipped, err := pipeline.LoadDocuments(opts.LineageDir)
	if err != nil {
		return nil, err
	}
	for _, s := range skipped {
		l.logger.Warn("skipping unreadable lineage file", slog.String("file", s.Path), slog.String("reason", s.Reason))
		report.add(FileOutcome{File: s.Path, Outcome: OutcomeFailed, Message: s.Reason})
	}

	imported := make(map[string]bool)
	for _, df := range docs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.add(l.loadFile(ctx, df, opts, imported))
	}
	report.SchemasImported = len(imported)

	var errs []error
	if !opts.SkipConstraints {
		if err := l.EnsureConstraints(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to ensure constraints: %w", err))
		}
	}

	if opts.SQLDir != "" {
		files, err := pipeline.DiscoverSQL(opts.SQLDir, l.logger)
		if err != nil {
			errs = append(errs, err)
		} else {
			report.ScriptsUpdated, report.ScriptsNotFound, err = l.UpdateScripts(ctx, files)
			if err != nil {
				errs = append(errs, err)
			}
		}
	}

	if report.PipelineLinks, err = l.LinkDependencies(ctx, LabelPipeline, opts.PipelineDeps); err != nil {
		errs = append(errs, fmt.Errorf("failed to link pipeline dependencies: %w", err))
	}
	if report.ScriptLinks, err = l.LinkDependencies(ctx, LabelScript, opts.ScriptDeps); err != nil {
		errs = append(errs, fmt.Errorf("failed to link script dependencies: %w", err))
	}

	report.Duration = time.Since(start)
	l.logger.Info("lineage load completed",
		slog.Int("loaded", report.Loaded),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Int64("duration_ms", report.Duration.Milliseconds()))

	return report, errors.Join(errs...)
}

func (l *Loader) loadFile(ctx context.Context, df pipeline.DocumentFile, opts BatchOptions, imported map[string]bool) FileOutcome {
	out := FileOutcome{File: df.Path}
	identifier.RewriteDocumentSources(df.Doc)

	script, pipelineName, ok := opts.Mapping.Resolve(df.Stem)
	if !ok {
		l.logger.Warn("no script or pipeline matches lineage file", slog.String("file", df.Path))
		out.Outcome = OutcomeSkipped
		out.Message = "no matching script in pipeline mapping"
		return out
	}
	out.Script, out.Pipeline = script, pipelineName

	if opts.Warehouse != nil {
		l.importSchemas(ctx, df.Doc, opts.Warehouse, imported)
	}

	stats, err := l.LoadLineage(ctx, df.Doc, script, pipelineName)
	out.Stats = stats
	switch {
	case err != nil:
		out.Outcome = OutcomeFailed
		out.Message = err.Error()
	case stats.TargetSkipped:
		out.Outcome = OutcomeSkipped
		out.Message = "no usable target table"
	default:
		out.Outcome = OutcomeLoaded
		if stats.Skipped+stats.Failed > 0 {
			out.Message = fmt.Sprintf("%d sources skipped, %d failed", stats.Skipped, stats.Failed)
		}
	}
	return out
}

// importSchemas imports each warehouse table doc references once per batch.
// File sources and generic CSV tables have no warehouse counterpart.
func (l *Loader) importSchemas(ctx context.Context, doc *core.Document, src MetadataSource, imported map[string]bool) {
	files := make(map[string]bool)
	for _, s := range doc.SourcesSummary {
		if s.Type == core.SourceTypeFile {
			files[identifier.NormalizeTableName(s.Name)] = true
		}
	}

	for _, table := range identifier.DocumentTables(doc) {
		if imported[table] || files[table] ||
			strings.HasPrefix(table, identifier.CSVFilesSchema+".") ||
			!strings.Contains(table, ".") {
			continue
		}
		meta, err := src.GetTableMetadata(ctx, table)
		if err != nil {
			l.logger.Warn("schema import skipped", slog.String("table", table), slog.String("error", err.Error()))
			continue
		}
		if err := l.ImportTableSchema(ctx, meta); err != nil {
			l.logger.Warn("schema import failed", slog.String("table", table), slog.String("error", err.Error()))
			continue
		}
		imported[table] = true
	}
}
