// Package cli provides the command-line interface for leapgraph.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/leapstack-labs/leapgraph/internal/cli/commands"
	"github.com/leapstack-labs/leapgraph/internal/cli/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	targetFlag string
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "leapgraph",
		Short: "leapgraph - column-level lineage for SQL ETL",
		Long: `leapgraph extracts column-level lineage from SQL ETL scripts with an LLM,
loads it into a Neo4j property graph and runs the scripts in dependency order
against a DuckDB or PostgreSQL warehouse while emitting OpenLineage events.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help and completion commands
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.LoadConfigWithTarget(cfgFile, targetFlag, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			// init writes the config and doctor reports validation itself
			if cmd.Name() != "init" && cmd.Name() != "doctor" {
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			level := slog.LevelWarn
			if cfg.Verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			cmd.SetContext(config.WithLogger(cmd.Context(), logger))

			if configFile := config.GetConfigFileUsed(); configFile != "" {
				logger.Debug("using config file", slog.String("path", configFile))
			}
			if targetFlag != "" {
				logger.Debug("using target", slog.String("target", targetFlag))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./leapgraph.yaml)")
	rootCmd.PersistentFlags().StringVarP(&targetFlag, "target", "t", "", "Named target from the targets section (e.g., dev, prod)")
	rootCmd.PersistentFlags().String("sql-dir", "", "Path to the SQL scripts directory")
	rootCmd.PersistentFlags().String("state", "", "Path to state database")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output format (auto|text|markdown|json)")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"auto", "text", "markdown", "json"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("target", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		cfg := config.GetCurrentConfig()
		if cfg == nil {
			if loaded, err := config.LoadConfig(cfgFile, nil); err == nil {
				cfg = loaded
			}
		}
		var names []string
		if cfg != nil {
			for name := range cfg.Targets {
				names = append(names, name)
			}
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewVersionCommand(commands.VersionInfo{Version: Version, GitCommit: GitCommit, BuildDate: BuildDate}))
	rootCmd.AddCommand(commands.NewInitCommand())
	rootCmd.AddCommand(commands.NewExtractCommand())
	rootCmd.AddCommand(commands.NewAnalyzeCommand())
	rootCmd.AddCommand(commands.NewReverseCommand())
	rootCmd.AddCommand(commands.NewLoadCommand())
	rootCmd.AddCommand(commands.NewSchemaCommand())
	rootCmd.AddCommand(commands.NewGraphCommand())
	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewDepsCommand())
	rootCmd.AddCommand(commands.NewEvaluateCommand())
	rootCmd.AddCommand(commands.NewSummarizeCommand())
	rootCmd.AddCommand(commands.NewUsageCommand())
	rootCmd.AddCommand(commands.NewHistoryCommand())
	rootCmd.AddCommand(commands.NewDoctorCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for leapgraph.

To load completions:

Bash:
  $ source <(leapgraph completion bash)
  
  # To load completions for each session, execute once:
  # Linux:
  $ leapgraph completion bash > /etc/bash_completion.d/leapgraph
  # macOS:
  $ leapgraph completion bash > $(brew --prefix)/etc/bash_completion.d/leapgraph

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. Execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc
  
  # To load completions for each session, execute once:
  $ leapgraph completion zsh > "${fpath[1]}/_leapgraph"
  
  # You will need to start a new shell for this setup to take effect.

Fish:
  $ leapgraph completion fish | source
  
  # To load completions for each session, execute once:
  $ leapgraph completion fish > ~/.config/fish/completions/leapgraph.fish

PowerShell:
  PS> leapgraph completion powershell | Out-String | Invoke-Expression
  
  # To load completions for every new session, run:
  PS> leapgraph completion powershell > leapgraph.ps1
  # and source this file from your PowerShell profile.
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(cmd.OutOrStdout())
			case "zsh":
				return cmd.Root().GenZshCompletion(cmd.OutOrStdout())
			case "fish":
				return cmd.Root().GenFishCompletion(cmd.OutOrStdout(), true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(cmd.OutOrStdout())
			}
			return nil
		},
	}
	return cmd
}
