// Package etl executes SQL scripts against the warehouse in dependency
// order, emitting OpenLineage events for every script.
package etl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/leapstack-labs/leapgraph/internal/dag"
	"github.com/leapstack-labs/leapgraph/internal/openlineage"
	"github.com/leapstack-labs/leapgraph/internal/pipeline"
	"github.com/leapstack-labs/leapgraph/pkg/adapter"
	"github.com/leapstack-labs/leapgraph/pkg/core"
	"github.com/leapstack-labs/leapgraph/pkg/identifier"
)

// RunStore records runs and script runs. core.Store implements it.
type RunStore interface {
	CreateRun() (*core.Run, error)
	CompleteRun(id string, status core.RunStatus, errMsg string) error
	RecordScriptRun(sr *core.ScriptRun) error
	UpdateScriptRun(id string, status core.RunStatus, rowsAffected int64, errMsg string) error
	SetScriptRunLineageID(id, lineageRunID string) error
}

// Config configures a Runner.
type Config struct {
	Adapter adapter.Adapter
	// Store is optional; without it runs are not recorded.
	Store RunStore
	// Tracker is optional; without it no events are emitted.
	Tracker *openlineage.Tracker
	Logger  *slog.Logger
}

// Options select what a run executes.
type Options struct {
	SQLDir string
	// LineageDir holds the lineage documents attached as column lineage.
	LineageDir string
	// ScriptDeps is a {"script": ["dependency", ...]} file. Without it scripts
	// run in name order.
	ScriptDeps string
	// SeedsDir CSV files are loaded into tables named after the file first.
	SeedsDir string
	// Select restricts the run to these scripts.
	Select []string
	// IncludeDownstream adds everything depending on Select.
	IncludeDownstream bool
	ContinueOnError   bool
}

// ScriptResult is the outcome of one script.
type ScriptResult struct {
	Script       string
	Status       core.RunStatus
	RowsAffected int64
	LineageRunID string
	Duration     time.Duration
	// Reason explains why a skipped script did not run.
	Reason string
	Err    error
}

// Result summarizes a run.
type Result struct {
	RunID   string
	Scripts []ScriptResult
	Seeds   int
}

// Count returns how many scripts ended with status.
func (r *Result) Count(status core.RunStatus) int {
	n := 0
	for _, s := range r.Scripts {
		if s.Status == status {
			n++
		}
	}
	return n
}

// Runner executes ETL scripts.
type Runner struct {
	adapter adapter.Adapter
	store   RunStore
	tracker *openlineage.Tracker
	client  *openlineage.Client
	logger  *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg Config, client *openlineage.Client) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if client == nil {
		client = openlineage.NewClient(openlineage.ClientConfig{Logger: logger})
	}
	tracker := cfg.Tracker
	if tracker == nil {
		tracker = openlineage.NewTracker(client, logger)
	}
	return &Runner{adapter: cfg.Adapter, store: cfg.Store, tracker: tracker, client: client, logger: logger}
}

// Plan loads the scripts of opts and returns the graph restricted to the
// selection.
func (r *Runner) Plan(opts Options) (*dag.Graph[pipeline.SQLFile], error) {
	files, err := pipeline.DiscoverSQL(opts.SQLDir, r.logger)
	if err != nil {
		return nil, err
	}

	var edges []pipeline.Edge
	if opts.ScriptDeps != "" {
		edges, err = pipeline.LoadDependencies(opts.ScriptDeps)
		if err != nil {
			return nil, err
		}
	}
	g, err := pipeline.BuildGraph(files, edges, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to order scripts: %w", err)
	}

	if len(opts.Select) == 0 {
		return g, nil
	}
	selected := make([]string, 0, len(opts.Select))
	for _, s := range opts.Select {
		name := s
		if !g.Has(name) && g.Has(name+".sql") {
			name += ".sql"
		}
		if !g.Has(name) {
			return nil, fmt.Errorf("unknown script %q", s)
		}
		selected = append(selected, name)
	}
	if opts.IncludeDownstream {
		selected = g.Downstream(selected...)
	}
	return g.Subgraph(selected), nil
}

// Run executes the planned scripts. It returns the per-script results along
// with the first script error (or all of them with ContinueOnError).
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	if r.adapter == nil {
		return nil, fmt.Errorf("no warehouse adapter configured")
	}

	g, err := r.Plan(opts)
	if err != nil {
		return nil, err
	}
	order, err := g.Order()
	if err != nil {
		return nil, err
	}

	docs := r.documents(opts.LineageDir, g.Names())

	result := &Result{}
	if r.store != nil {
		run, err := r.store.CreateRun()
		if err != nil {
			return nil, fmt.Errorf("failed to create run: %w", err)
		}
		result.RunID = run.ID
	}
	r.logger.Info("starting run", "run_id", result.RunID, "scripts", len(order))

	if opts.SeedsDir != "" {
		n, err := r.LoadSeeds(ctx, opts.SeedsDir)
		result.Seeds = n
		if err != nil {
			r.complete(result.RunID, err)
			return result, err
		}
	}

	var (
		errs    []error
		blocked = make(map[string]bool)
		stop    bool
	)
	for _, name := range order {
		if stop || blocked[name] {
			reason := "upstream script failed"
			if stop {
				reason = "run aborted"
			}
			result.Scripts = append(result.Scripts, r.skip(result.RunID, name, reason))
			continue
		}

		f, _ := g.Get(name)
		sr := r.execute(ctx, result.RunID, f, docs[name])
		result.Scripts = append(result.Scripts, sr)

		if sr.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, sr.Err))
			for _, d := range g.Downstream(name) {
				if d != name {
					blocked[d] = true
				}
			}
			if !opts.ContinueOnError || ctx.Err() != nil {
				stop = true
			}
		}
	}

	runErr := errors.Join(errs...)
	r.complete(result.RunID, runErr)
	if runErr != nil {
		r.logger.Info("run failed", "run_id", result.RunID, "failed", len(errs))
	} else {
		r.logger.Info("run completed", "run_id", result.RunID)
	}
	return result, runErr
}

func (r *Runner) complete(runID string, err error) {
	if r.store == nil || runID == "" {
		return
	}
	status, msg := core.RunStatusCompleted, ""
	if err != nil {
		status, msg = core.RunStatusFailed, err.Error()
	}
	if cerr := r.store.CompleteRun(runID, status, msg); cerr != nil {
		r.logger.Warn("failed to complete run", "run_id", runID, "error", cerr.Error())
	}
}

// documents maps script names to their lineage documents. A missing or
// unreadable lineage dir yields no documents.
func (r *Runner) documents(dir string, scripts []string) map[string]*core.Document {
	out := make(map[string]*core.Document)
	if dir == "" {
		return out
	}
	files, skipped, err := pipeline.LoadDocuments(dir)
	if err != nil {
		r.logger.Warn("lineage documents unavailable", "dir", dir, "error", err.Error())
		return out
	}
	for _, s := range skipped {
		r.logger.Warn("skipping lineage file", "path", s.Path, "reason", s.Reason)
	}

	mapping := pipeline.NewMapping(map[string][]string{"": scripts})
	for _, f := range files {
		script, _, ok := mapping.Resolve(f.Stem)
		if !ok {
			continue
		}
		if _, dup := out[script]; !dup {
			out[script] = f.Doc
		}
	}
	return out
}

func (r *Runner) skip(runID, script, reason string) ScriptResult {
	r.logger.Info("skipping script", "script", script, "reason", reason)
	if r.store != nil && runID != "" {
		sr := &core.ScriptRun{RunID: runID, Script: script, Status: core.RunStatusSkipped, Error: reason}
		if err := r.store.RecordScriptRun(sr); err != nil {
			r.logger.Warn("failed to record script run", "script", script, "error", err.Error())
		}
	}
	return ScriptResult{Script: script, Status: core.RunStatusSkipped, Reason: reason}
}

func (r *Runner) execute(ctx context.Context, runID string, f pipeline.SQLFile, doc *core.Document) ScriptResult {
	res := ScriptResult{Script: f.Name}
	start := time.Now()

	var sr *core.ScriptRun
	if r.store != nil && runID != "" {
		sr = &core.ScriptRun{RunID: runID, Script: f.Name}
		if err := r.store.RecordScriptRun(sr); err != nil {
			r.logger.Warn("failed to record script run", "script", f.Name, "error", err.Error())
			sr = nil
		}
	}

	job := openlineage.JobInfo{Name: f.Stem(), SQL: f.Content, SourcePath: f.Path, Nominal: start}
	target := ""
	if doc != nil {
		target = identifier.NormalizeTableName(doc.TargetTable)
		for _, t := range identifier.DocumentTables(doc) {
			if t != target {
				job.Inputs = append(job.Inputs, t)
			}
		}
	}

	r.logger.Debug("executing script", "script", f.Name, "target", target)
	lineageID, err := r.tracker.Track(ctx, job, func(ctx context.Context) (*openlineage.Outcome, error) {
		if err := r.adapter.Exec(ctx, f.Content); err != nil {
			return nil, err
		}
		if target == "" {
			return &openlineage.Outcome{}, nil
		}
		meta, err := r.adapter.GetTableMetadata(ctx, target)
		if err != nil {
			r.logger.Warn("target metadata unavailable", "table", target, "error", err.Error())
			return &openlineage.Outcome{}, nil
		}
		res.RowsAffected = meta.RowCount
		return &openlineage.Outcome{Outputs: []openlineage.OutputDataset{r.client.OutputDataset(meta, doc)}}, nil
	})

	res.LineageRunID = lineageID
	res.Duration = time.Since(start)
	res.Err = err
	res.Status = core.RunStatusCompleted
	msg := ""
	if err != nil {
		res.Status = core.RunStatusFailed
		msg = err.Error()
		r.logger.Error("script failed", "script", f.Name, "error", msg)
	} else {
		r.logger.Info("script completed", "script", f.Name, "rows", res.RowsAffected, "duration", res.Duration)
	}

	if sr != nil {
		if lerr := r.store.SetScriptRunLineageID(sr.ID, lineageID); lerr != nil {
			r.logger.Warn("failed to record lineage run id", "script", f.Name, "error", lerr.Error())
		}
		if uerr := r.store.UpdateScriptRun(sr.ID, res.Status, res.RowsAffected, msg); uerr != nil {
			r.logger.Warn("failed to update script run", "script", f.Name, "error", uerr.Error())
		}
	}
	return res
}

// LoadSeeds loads every CSV file in dir into a table named after the file.
// A missing dir loads nothing.
func (r *Runner) LoadSeeds(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read seeds directory: %w", err)
	}

	n := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".csv") {
			continue
		}
		table := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		path := filepath.Join(dir, entry.Name())

		r.logger.Debug("loading seed file", "table", table, "path", path)
		if err := r.adapter.LoadCSV(ctx, table, path); err != nil {
			return n, fmt.Errorf("failed to load seed %s: %w", entry.Name(), err)
		}
		n++
	}
	return n, nil
}
