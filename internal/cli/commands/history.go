package commands

import (
	"time"

	"github.com/leapstack-labs/leapgraph/internal/cli/output"
	"github.com/leapstack-labs/leapgraph/pkg/core"
	"github.com/spf13/cobra"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent extraction, load and ETL runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup := NewCommandContext(cmd)
			defer cleanup()

			store, err := cmdCtx.OpenStore()
			if err != nil {
				return err
			}
			runs, err := store.ListRecentRuns(limit)
			if err != nil {
				return err
			}
			return renderHistory(cmdCtx.Renderer, runs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")

	return cmd
}

// HistoryEntry is one run in the JSON output of the history command.
type HistoryEntry struct {
	Kind      string    `json:"kind"`
	ID        string    `json:"id"`
	Label     string    `json:"label,omitempty"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

func renderHistory(r *output.Renderer, runs []*core.RunSummary) error {
	if r.EffectiveMode() == output.ModeJSON {
		out := make([]HistoryEntry, 0, len(runs))
		for _, run := range runs {
			out = append(out, HistoryEntry{
				Kind:      run.Kind,
				ID:        run.ID,
				Label:     run.Label,
				Status:    string(run.Status),
				StartedAt: run.StartedAt,
			})
		}
		return r.JSON(out)
	}
	if len(runs) == 0 {
		r.Println(r.Muted("No runs recorded yet"))
		return nil
	}

	r.Header(1, "Run History")
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.Kind,
			run.Label,
			string(run.Status),
			run.ID,
		})
	}
	r.Table([]string{"Started", "Kind", "Label", "Status", "ID"}, rows)
	return nil
}
