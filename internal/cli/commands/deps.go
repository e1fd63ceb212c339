package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/leapstack-labs/leapgraph/internal/cli/output"
	"github.com/leapstack-labs/leapgraph/internal/etl"
	"github.com/spf13/cobra"
)

// GraphQuerier provides read-only access to the script dependency graph.
type GraphQuerier interface {
	DependenciesOf(string) []string
	DependentsOf(string) []string
	Len() int
	Edges() int
}

// NewDepsCommand creates the deps command.
func NewDepsCommand() *cobra.Command {
	var selectScripts []string
	var downstream bool

	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Show the script execution order",
		Long: `Display the script dependency graph grouped by execution level.

Scripts in the same level only depend on earlier levels, so they could run
in parallel. This is the order 'leapgraph run' executes them in.

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format (agent-friendly)`,
		Example: `  # Show the execution levels
  leapgraph deps

  # Only what runs after load_customer
  leapgraph deps --select load_customer --downstream

  # Output as JSON
  leapgraph deps --output json`,
		Aliases: []string{"dag"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDeps(cmd, selectScripts, downstream)
		},
	}

	cmd.Flags().StringSliceVarP(&selectScripts, "select", "s", nil, "Restrict to these scripts")
	cmd.Flags().BoolVar(&downstream, "downstream", false, "Include downstream dependents when using --select")

	return cmd
}

func runDeps(cmd *cobra.Command, selectScripts []string, downstream bool) error {
	cmdCtx, cleanup := NewCommandContext(cmd)
	defer cleanup()

	cfg := cmdCtx.Cfg
	r := cmdCtx.Renderer

	opts := etl.Options{
		SQLDir:            cfg.SQLDir,
		Select:            selectScripts,
		IncludeDownstream: downstream,
	}
	if _, err := os.Stat(cfg.Pipelines.ScriptDependencies); err == nil {
		opts.ScriptDeps = cfg.Pipelines.ScriptDependencies
	}

	g, err := etl.NewRunner(etl.Config{Logger: cmdCtx.Logger}, nil).Plan(opts)
	if err != nil {
		return err
	}
	levels, err := g.Levels()
	if err != nil {
		return fmt.Errorf("failed to get execution levels: %w", err)
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return depsJSON(r, g, levels)
	case output.ModeMarkdown:
		return depsMarkdown(r, g, levels)
	default:
		return depsText(r, g, levels)
	}
}

// depsText outputs the graph in styled text format.
func depsText(r *output.Renderer, graph GraphQuerier, levels [][]string) error {
	styles := r.Styles()

	r.Header(1, "Script Dependencies")

	for i, level := range levels {
		r.Println(styles.Header2.Render(fmt.Sprintf("Level %d:", i)))
		for _, script := range level {
			r.Printf("  %s\n", styles.Path.Render(script))
			if deps := graph.DependenciesOf(script); len(deps) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("depends on:"), strings.Join(deps, ", "))
			}
			if children := graph.DependentsOf(script); len(children) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("used by:"), strings.Join(children, ", "))
			}
		}
		r.Println("")
	}

	r.Println(styles.Muted.Render(fmt.Sprintf("Total: %d scripts, %d dependencies", graph.Len(), graph.Edges())))
	return nil
}

// depsMarkdown outputs the graph in markdown format.
func depsMarkdown(r *output.Renderer, graph GraphQuerier, levels [][]string) error {
	r.Println(output.FormatHeader(1, "Script Dependencies"))
	r.Println("")

	for i, level := range levels {
		levelName := fmt.Sprintf("Level %d", i)
		if i == 0 {
			levelName = "Level 0 (Roots)"
		}
		r.Println(output.FormatHeader(2, levelName))

		for _, script := range level {
			r.Printf("- %s\n", script)
			if deps := graph.DependenciesOf(script); len(deps) > 0 {
				r.Printf("  - depends on: %s\n", strings.Join(deps, ", "))
			}
			if children := graph.DependentsOf(script); len(children) > 0 {
				r.Printf("  - used by: %s\n", strings.Join(children, ", "))
			}
		}
		r.Println("")
	}

	r.Println(output.FormatHeader(2, "Summary"))
	r.Println(output.FormatKeyValue("Total Scripts", fmt.Sprintf("%d", graph.Len())))
	r.Println(output.FormatKeyValue("Total Dependencies", fmt.Sprintf("%d", graph.Edges())))
	return nil
}

// DepsOutput is the JSON output of the deps command.
type DepsOutput struct {
	Levels       []DepsLevel `json:"levels"`
	TotalScripts int         `json:"total_scripts"`
	TotalEdges   int         `json:"total_edges"`
}

// DepsLevel is one execution level.
type DepsLevel struct {
	Level   int        `json:"level"`
	Scripts []DepsNode `json:"scripts"`
}

// DepsNode is one script with its direct neighbours.
type DepsNode struct {
	Script    string   `json:"script"`
	DependsOn []string `json:"depends_on"`
	UsedBy    []string `json:"used_by"`
}

// depsJSON outputs the graph in JSON format.
func depsJSON(r *output.Renderer, graph GraphQuerier, levels [][]string) error {
	out := DepsOutput{
		Levels:       make([]DepsLevel, 0, len(levels)),
		TotalScripts: graph.Len(),
		TotalEdges:   graph.Edges(),
	}
	for i, level := range levels {
		dl := DepsLevel{Level: i, Scripts: make([]DepsNode, 0, len(level))}
		for _, script := range level {
			dl.Scripts = append(dl.Scripts, DepsNode{
				Script:    script,
				DependsOn: nonNil(graph.DependenciesOf(script)),
				UsedBy:    nonNil(graph.DependentsOf(script)),
			})
		}
		out.Levels = append(out.Levels, dl)
	}
	return r.JSON(out)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
