package commands

import (
	"fmt"

	"github.com/leapstack-labs/leapgraph/internal/cli/output"
	"github.com/leapstack-labs/leapgraph/internal/usage"
	"github.com/spf13/cobra"
)

// NewUsageCommand creates the usage command.
func NewUsageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "usage [dir]",
		Short: "Show token usage of extraction runs",
		Long: `Read every run metadata file below a directory and report the count,
minimum, maximum, average and sum of query and answer tokens per execution,
along with the answers that used the fewest and most tokens.`,
		Example: `  leapgraph usage
  leapgraph usage llm_answers/lineage_v2 --output json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup := NewCommandContext(cmd)
			defer cleanup()

			dir := cmdCtx.Cfg.OutputDir
			if len(args) > 0 {
				dir = args[0]
			}
			reports, err := usage.Collect(dir)
			if err != nil {
				return err
			}
			return renderUsage(cmdCtx.Renderer, reports)
		},
	}
}

func renderUsage(r *output.Renderer, reports []usage.Report) error {
	if r.EffectiveMode() == output.ModeJSON {
		if reports == nil {
			reports = []usage.Report{}
		}
		return r.JSON(reports)
	}
	if len(reports) == 0 {
		r.Warning("No run metadata found")
		return nil
	}

	r.Header(1, "Token Usage")
	rows := make([][]string, 0, len(reports)*2)
	for _, rep := range reports {
		for _, c := range []struct {
			kind  string
			stats usage.Stats
		}{{"query", rep.Query}, {"answer", rep.Answer}} {
			rows = append(rows, []string{
				rep.Template,
				fmt.Sprint(rep.ExecutionNumber),
				c.kind,
				fmt.Sprint(c.stats.Count),
				fmt.Sprint(c.stats.Min),
				fmt.Sprint(c.stats.Max),
				fmt.Sprintf("%.1f", c.stats.Avg),
				fmt.Sprint(c.stats.Sum),
				c.stats.MinFile,
				c.stats.MaxFile,
			})
		}
	}
	r.Table([]string{"Template", "Execution", "Tokens", "Count", "Min", "Max", "Avg", "Sum", "Min File", "Max File"}, rows)
	return nil
}
