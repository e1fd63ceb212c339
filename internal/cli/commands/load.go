package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/leapgraph/internal/cli/output"
	"github.com/leapstack-labs/leapgraph/internal/graph"
	"github.com/leapstack-labs/leapgraph/pkg/core"
	"github.com/spf13/cobra"
)

// LoadOptions holds options for the load command.
type LoadOptions struct {
	LineageDir      string
	ImportSchemas   bool
	SkipConstraints bool
}

// NewLoadCommand creates the load command.
func NewLoadCommand() *cobra.Command {
	opts := &LoadOptions{}

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load lineage documents into the graph database",
		Long: `Load every lineage document of the lineage directory into the graph.

Each file is matched to its script and pipeline through the pipeline mapping,
then its tables, columns and derivations are merged. Afterwards constraints
are ensured, Script nodes get their SQL text and hash, and pipeline and script
dependencies are linked. Loading is idempotent.`,
		Example: `  # Load lineage/ into the graph
  leapgraph load

  # Also import warehouse schemas of referenced tables
  leapgraph load --import-schemas`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoad(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.LineageDir, "lineage-dir", "", "Directory of lineage documents (default: lineage_dir)")
	cmd.Flags().BoolVar(&opts.ImportSchemas, "import-schemas", false, "Import warehouse schemas of referenced tables")
	cmd.Flags().BoolVar(&opts.SkipConstraints, "skip-constraints", false, "Do not create constraints and indexes")

	return cmd
}

func runLoad(cmd *cobra.Command, opts *LoadOptions) error {
	cmdCtx, cleanup := NewCommandContext(cmd)
	defer cleanup()

	cfg := cmdCtx.Cfg
	ctx := cmd.Context()
	started := time.Now()

	mapping, err := cmdCtx.LoadMapping()
	if err != nil {
		return err
	}
	pipelineDeps, err := loadEdges(cfg.Pipelines.PipelineDependencies)
	if err != nil {
		return err
	}
	scriptDeps, err := loadEdges(cfg.Pipelines.ScriptDependencies)
	if err != nil {
		return err
	}

	_, loader, err := cmdCtx.OpenGraph(ctx)
	if err != nil {
		return err
	}

	batch := graph.BatchOptions{
		LineageDir:      cfg.LineageDir,
		SQLDir:          cfg.SQLDir,
		Mapping:         mapping,
		PipelineDeps:    pipelineDeps,
		ScriptDeps:      scriptDeps,
		SkipConstraints: opts.SkipConstraints,
	}
	if opts.LineageDir != "" {
		batch.LineageDir = opts.LineageDir
	}
	if opts.ImportSchemas {
		adp, err := cmdCtx.OpenWarehouse(ctx)
		if err != nil {
			return err
		}
		batch.Warehouse = adp
	}

	report, loadErr := loader.LoadDirectory(ctx, batch)
	if report == nil {
		return loadErr
	}

	if store, err := cmdCtx.OpenStore(); err != nil {
		cmdCtx.Logger.Warn("load run not recorded", slog.String("error", err.Error()))
	} else if err := store.RecordLoadRun(&core.LoadRun{
		StartedAt:   started,
		CompletedAt: time.Now(),
		Loaded:      report.Loaded,
		Skipped:     report.Skipped,
		Failed:      report.Failed,
	}); err != nil {
		cmdCtx.Logger.Warn("load run not recorded", slog.String("error", err.Error()))
	}

	if err := renderBatchReport(cmdCtx.Renderer, report); err != nil {
		return err
	}
	if loadErr != nil {
		return loadErr
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d lineage files failed to load", report.Failed)
	}
	return nil
}

// LoadOutput is the JSON output of the load command.
type LoadOutput struct {
	Loaded          int              `json:"loaded"`
	Skipped         int              `json:"skipped"`
	Failed          int              `json:"failed"`
	SchemasImported int              `json:"schemas_imported"`
	ScriptsUpdated  int              `json:"scripts_updated"`
	ScriptsNotFound int              `json:"scripts_not_found"`
	PipelineLinks   int              `json:"pipeline_links"`
	ScriptLinks     int              `json:"script_links"`
	DurationMS      int64            `json:"duration_ms"`
	Files           []LoadFileOutput `json:"files"`
}

// LoadFileOutput is one lineage file in LoadOutput.
type LoadFileOutput struct {
	File     string `json:"file"`
	Script   string `json:"script,omitempty"`
	Pipeline string `json:"pipeline,omitempty"`
	Outcome  string `json:"outcome"`
	Message  string `json:"message,omitempty"`
	Columns  int    `json:"columns"`
}

func renderBatchReport(r *output.Renderer, report *graph.BatchReport) error {
	if r.EffectiveMode() == output.ModeJSON {
		out := LoadOutput{
			Loaded:          report.Loaded,
			Skipped:         report.Skipped,
			Failed:          report.Failed,
			SchemasImported: report.SchemasImported,
			ScriptsUpdated:  report.ScriptsUpdated,
			ScriptsNotFound: report.ScriptsNotFound,
			PipelineLinks:   report.PipelineLinks,
			ScriptLinks:     report.ScriptLinks,
			DurationMS:      report.Duration.Milliseconds(),
			Files:           make([]LoadFileOutput, 0, len(report.Files)),
		}
		for _, f := range report.Files {
			out.Files = append(out.Files, LoadFileOutput{
				File:     f.File,
				Script:   f.Script,
				Pipeline: f.Pipeline,
				Outcome:  f.Outcome,
				Message:  f.Message,
				Columns:  f.Stats.Columns,
			})
		}
		return r.JSON(out)
	}

	r.Header(1, "Lineage Load")
	for _, f := range report.Files {
		name := f.Script
		if name == "" {
			name = f.File
		}
		r.StatusLine(name, f.Outcome, f.Message)
	}
	r.Println("")
	r.Header(2, "Summary")
	r.Println(output.FormatKeyValue("Loaded", fmt.Sprint(report.Loaded)))
	r.Println(output.FormatKeyValue("Skipped", fmt.Sprint(report.Skipped)))
	r.Println(output.FormatKeyValue("Failed", fmt.Sprint(report.Failed)))
	r.Println(output.FormatKeyValue("Schemas imported", fmt.Sprint(report.SchemasImported)))
	r.Println(output.FormatKeyValue("Scripts updated", fmt.Sprintf("%d (%d without a node)", report.ScriptsUpdated, report.ScriptsNotFound)))
	r.Println(output.FormatKeyValue("Dependency links", fmt.Sprintf("%d pipeline, %d script", report.PipelineLinks, report.ScriptLinks)))
	r.Println(output.FormatKeyValue("Duration", report.Duration.Round(time.Millisecond).String()))
	return nil
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema <table>...",
		Short: "Import warehouse table schemas into the graph",
		Long: `Read columns, types, primary keys and comments of schema-qualified
warehouse tables and merge them into the graph as Schema, Table and Column
nodes.`,
		Example: `  leapgraph schema wh_db.DimCustomer wh_db.FactSales`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(cmd, args)
		},
	}
}

func runSchema(cmd *cobra.Command, tables []string) error {
	cmdCtx, cleanup := NewCommandContext(cmd)
	defer cleanup()

	ctx := cmd.Context()
	r := cmdCtx.Renderer

	adp, err := cmdCtx.OpenWarehouse(ctx)
	if err != nil {
		return err
	}
	_, loader, err := cmdCtx.OpenGraph(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, table := range tables {
		meta, err := adp.GetTableMetadata(ctx, table)
		if err != nil {
			r.StatusLine(table, "failed", err.Error())
			errs = append(errs, err)
			continue
		}
		if err := loader.ImportTableSchema(ctx, meta); err != nil {
			r.StatusLine(table, "failed", err.Error())
			errs = append(errs, err)
			continue
		}
		r.StatusLine(meta.FullName(), "loaded", fmt.Sprintf("%d columns", len(meta.Columns)))
	}
	return errors.Join(errs...)
}

// NewGraphCommand creates the graph command group.
func NewGraphCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Graph database maintenance",
	}
	cmd.AddCommand(newGraphConstraintsCommand(), newGraphResetCommand(), newGraphPingCommand())
	return cmd
}

func newGraphConstraintsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "constraints",
		Short: "Create uniqueness constraints and indexes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup := NewCommandContext(cmd)
			defer cleanup()

			_, loader, err := cmdCtx.OpenGraph(cmd.Context())
			if err != nil {
				return err
			}
			if err := loader.EnsureConstraints(cmd.Context()); err != nil {
				return err
			}
			cmdCtx.Renderer.Success(fmt.Sprintf("Constraints ensured (%s)", cmdCtx.Cfg.Graph.Flavor))
			return nil
		},
	}
}

func newGraphResetCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every node and relationship",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to reset the graph without --yes")
			}
			cmdCtx, cleanup := NewCommandContext(cmd)
			defer cleanup()

			_, loader, err := cmdCtx.OpenGraph(cmd.Context())
			if err != nil {
				return err
			}
			c, err := loader.Reset(cmd.Context())
			if err != nil {
				return err
			}
			cmdCtx.Renderer.Success(fmt.Sprintf("Deleted %d nodes and %d relationships", c.NodesDeleted, c.RelationshipsDeleted))
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deleting the whole graph")
	return cmd
}

func newGraphPingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check graph database connectivity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup := NewCommandContext(cmd)
			defer cleanup()

			client, _, err := cmdCtx.OpenGraph(cmd.Context())
			if err != nil {
				return err
			}
			if err := client.Health(cmd.Context()); err != nil {
				return err
			}
			cmdCtx.Renderer.Success("Connected to " + client.URI())
			return nil
		},
	}
}
