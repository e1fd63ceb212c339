package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/leapstack-labs/leapgraph/internal/cli/output"
	"github.com/leapstack-labs/leapgraph/internal/etl"
	"github.com/leapstack-labs/leapgraph/internal/openlineage"
	"github.com/leapstack-labs/leapgraph/pkg/core"
	"github.com/spf13/cobra"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	Select          []string
	Downstream      bool
	ContinueOnError bool
	NoSeeds         bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute ETL scripts against the warehouse",
		Long: `Execute SQL scripts in dependency order against the configured target.

Scripts are ordered by the script dependency file; independent scripts run in
name order. Seeds are loaded first. Each script is tracked in the state
database and, when openlineage.enabled is set, emits START and COMPLETE or
FAIL events carrying its SQL, output schema and column lineage.

A failing script blocks everything downstream of it. Without
--continue-on-error the remaining scripts are skipped.`,
		Example: `  # Run every script
  leapgraph run

  # Run one script and everything depending on it
  leapgraph run --select load_customer --downstream`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Select, "select", "s", nil, "Scripts to run (comma-separated)")
	cmd.Flags().BoolVar(&opts.Downstream, "downstream", false, "Include downstream dependents when using --select")
	cmd.Flags().BoolVar(&opts.ContinueOnError, "continue-on-error", false, "Keep running independent scripts after a failure")
	cmd.Flags().BoolVar(&opts.NoSeeds, "no-seeds", false, "Do not load seed CSV files")

	return cmd
}

// runOptions translates configuration and flags into runner options.
func runOptions(cfgSQLDir, lineageDir, scriptDeps, seedsDir string, opts *RunOptions) etl.Options {
	o := etl.Options{
		SQLDir:            cfgSQLDir,
		LineageDir:        lineageDir,
		Select:            opts.Select,
		IncludeDownstream: opts.Downstream,
		ContinueOnError:   opts.ContinueOnError,
	}
	if _, err := os.Stat(scriptDeps); err == nil {
		o.ScriptDeps = scriptDeps
	}
	if !opts.NoSeeds {
		if info, err := os.Stat(seedsDir); err == nil && info.IsDir() {
			o.SeedsDir = seedsDir
		}
	}
	return o
}

func runRun(cmd *cobra.Command, opts *RunOptions) error {
	cmdCtx, cleanup := NewCommandContext(cmd)
	defer cleanup()

	cfg := cmdCtx.Cfg
	ctx := cmd.Context()
	start := time.Now()

	adp, err := cmdCtx.OpenWarehouse(ctx)
	if err != nil {
		return err
	}
	store, err := cmdCtx.OpenStore()
	if err != nil {
		return err
	}
	client, err := cmdCtx.NewLineageClient(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	runner := etl.NewRunner(etl.Config{
		Adapter: adp,
		Store:   store,
		Tracker: openlineage.NewTracker(client, cmdCtx.Logger),
		Logger:  cmdCtx.Logger,
	}, client)

	result, runErr := runner.Run(ctx, runOptions(cfg.SQLDir, cfg.LineageDir, cfg.Pipelines.ScriptDependencies, cfg.SeedsDir, opts))
	if result == nil {
		return runErr
	}
	if err := renderRunResult(cmdCtx.Renderer, result, time.Since(start)); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("%d scripts failed: %w", result.Count(core.RunStatusFailed), runErr)
	}
	return nil
}

// RunOutput is the JSON output of the run command.
type RunOutput struct {
	RunID      string            `json:"run_id,omitempty"`
	Seeds      int               `json:"seeds"`
	Completed  int               `json:"completed"`
	Failed     int               `json:"failed"`
	Skipped    int               `json:"skipped"`
	DurationMS int64             `json:"duration_ms"`
	Scripts    []RunScriptOutput `json:"scripts"`
}

// RunScriptOutput is one script in RunOutput.
type RunScriptOutput struct {
	Script       string `json:"script"`
	Status       string `json:"status"`
	RowsAffected int64  `json:"rows_affected"`
	LineageRunID string `json:"openlineage_run_id,omitempty"`
	DurationMS   int64  `json:"duration_ms"`
	Reason       string `json:"reason,omitempty"`
	Error        string `json:"error,omitempty"`
}

func renderRunResult(r *output.Renderer, result *etl.Result, elapsed time.Duration) error {
	if r.EffectiveMode() == output.ModeJSON {
		out := RunOutput{
			RunID:      result.RunID,
			Seeds:      result.Seeds,
			Completed:  result.Count(core.RunStatusCompleted),
			Failed:     result.Count(core.RunStatusFailed),
			Skipped:    result.Count(core.RunStatusSkipped),
			DurationMS: elapsed.Milliseconds(),
			Scripts:    make([]RunScriptOutput, 0, len(result.Scripts)),
		}
		for _, s := range result.Scripts {
			so := RunScriptOutput{
				Script:       s.Script,
				Status:       string(s.Status),
				RowsAffected: s.RowsAffected,
				LineageRunID: s.LineageRunID,
				DurationMS:   s.Duration.Milliseconds(),
				Reason:       s.Reason,
			}
			if s.Err != nil {
				so.Error = s.Err.Error()
			}
			out.Scripts = append(out.Scripts, so)
		}
		return r.JSON(out)
	}

	r.Header(1, "ETL Run")
	if result.Seeds > 0 {
		r.Println(r.Muted(fmt.Sprintf("Loaded %d seeds", result.Seeds)))
	}
	for _, s := range result.Scripts {
		detail := fmt.Sprintf("%d rows, %s", s.RowsAffected, s.Duration.Round(time.Millisecond))
		switch {
		case s.Reason != "":
			detail = s.Reason
		case s.Err != nil:
			detail = s.Err.Error()
		}
		r.StatusLine(s.Script, string(s.Status), detail)
	}
	r.Println("")
	summary := fmt.Sprintf("%d completed, %d failed, %d skipped in %s",
		result.Count(core.RunStatusCompleted),
		result.Count(core.RunStatusFailed),
		result.Count(core.RunStatusSkipped),
		elapsed.Round(time.Millisecond))
	if result.Count(core.RunStatusFailed) > 0 {
		r.Error(summary)
	} else {
		r.Success(summary)
	}
	return nil
}
