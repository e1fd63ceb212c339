package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/leapgraph/internal/cli/config"
	"github.com/leapstack-labs/leapgraph/internal/cli/output"
	sharedcfg "github.com/leapstack-labs/leapgraph/internal/config"
	"github.com/leapstack-labs/leapgraph/internal/extract"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// DefaultTemplateFile is the prompt template init writes.
const DefaultTemplateFile = "lineage.txt"

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new leapgraph project",
		Long: `Initialize a new leapgraph project with the default directory structure
and configuration.

This creates:
  - sql/ directory for ETL scripts
  - lineage/ directory for lineage documents
  - templates/ directory with the default extraction prompt
  - pipeline_mapping.json and empty dependency files
  - leapgraph.yaml configuration file`,
		Example: `  # Initialize in current directory
  leapgraph init

  # Initialize in a new directory
  leapgraph init my-project

  # Force overwrite existing config
  leapgraph init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			cfg := getConfig()
			r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat))
			return runInit(r, dir, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")

	return cmd
}

// projectFile is the shape of a scaffolded leapgraph.yaml.
type projectFile struct {
	SQLDir       string             `yaml:"sql_dir"`
	LineageDir   string             `yaml:"lineage_dir"`
	TemplatesDir string             `yaml:"templates_dir"`
	OutputDir    string             `yaml:"output_dir"`
	SeedsDir     string             `yaml:"seeds_dir"`
	StatePath    string             `yaml:"state_path"`
	Target       projectTarget      `yaml:"target"`
	Graph        projectGraph       `yaml:"graph"`
	LLM          projectLLM         `yaml:"llm"`
	Pipelines    projectPipelines   `yaml:"pipelines"`
	OpenLineage  projectOpenLineage `yaml:"openlineage"`
}

type projectTarget struct {
	Type     string `yaml:"type"`
	Database string `yaml:"database"`
	Schema   string `yaml:"schema"`
}

type projectGraph struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Flavor   string `yaml:"flavor"`
}

type projectLLM struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
	Delay       string  `yaml:"delay"`
}

type projectPipelines struct {
	Mapping              string `yaml:"mapping"`
	PipelineDependencies string `yaml:"pipeline_dependencies"`
	ScriptDependencies   string `yaml:"script_dependencies"`
}

type projectOpenLineage struct {
	Enabled   bool              `yaml:"enabled"`
	Namespace string            `yaml:"namespace"`
	Transport map[string]string `yaml:"transport"`
}

func defaultProjectFile() projectFile {
	return projectFile{
		SQLDir:       sharedcfg.DefaultSQLDir,
		LineageDir:   sharedcfg.DefaultLineageDir,
		TemplatesDir: sharedcfg.DefaultTemplatesDir,
		OutputDir:    sharedcfg.DefaultOutputDir,
		SeedsDir:     sharedcfg.DefaultSeedsDir,
		StatePath:    sharedcfg.DefaultStateFile,
		Target: projectTarget{
			Type:     "duckdb",
			Database: "warehouse.duckdb",
			Schema:   "main",
		},
		Graph: projectGraph{
			URI:      config.DefaultGraphURI,
			Username: "neo4j",
			Password: "${GRAPH_PASSWORD}",
			Flavor:   config.DefaultGraphFlavor,
		},
		LLM: projectLLM{
			Provider:    config.DefaultLLMProvider,
			Model:       config.DefaultLLMModel,
			APIKey:      "${GOOGLE_API_KEY}",
			Temperature: config.DefaultTemperature,
			Delay:       config.DefaultDelay.String(),
		},
		Pipelines: projectPipelines{
			Mapping:              sharedcfg.DefaultMappingFile,
			PipelineDependencies: sharedcfg.DefaultPipelineDepFile,
			ScriptDependencies:   sharedcfg.DefaultScriptDepFile,
		},
		OpenLineage: projectOpenLineage{
			Enabled:   false,
			Namespace: "leapgraph",
			Transport: map[string]string{
				"type": config.DefaultTransport,
				"path": config.DefaultEventsFile,
			},
		},
	}
}

func runInit(r *output.Renderer, dir string, force bool) error {
	if dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	configPath := filepath.Join(dir, sharedcfg.ConfigFileName)
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists. Use --force to overwrite", sharedcfg.ConfigFileName)
	}

	project := defaultProjectFile()
	data, err := yaml.Marshal(project)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	r.StatusLine(sharedcfg.ConfigFileName, "success", "")

	for _, d := range []string{project.SQLDir, project.LineageDir, project.TemplatesDir, project.SeedsDir} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0750); err != nil {
			return fmt.Errorf("failed to create %s: %w", d, err)
		}
		r.StatusLine(d+"/", "success", "")
	}

	files := []struct {
		path    string
		content string
	}{
		{filepath.Join(project.TemplatesDir, DefaultTemplateFile), extract.DefaultTemplate()},
		{project.Pipelines.Mapping, "{}\n"},
		{project.Pipelines.PipelineDependencies, "{}\n"},
		{project.Pipelines.ScriptDependencies, "{}\n"},
	}
	for _, f := range files {
		created, err := writeIfMissing(filepath.Join(dir, f.path), f.content, force)
		if err != nil {
			return err
		}
		status := "success"
		if !created {
			status = "skipped"
		}
		r.StatusLine(f.path, status, "")
	}

	r.Println("")
	r.Success("leapgraph project initialized!")
	r.Println("")
	r.Println("Next steps:")
	r.Println("  1. Put your ETL scripts in sql/ and list them in pipeline_mapping.json")
	r.Println("  2. Run 'leapgraph extract' to extract column lineage")
	r.Println("  3. Run 'leapgraph load' to load it into the graph")
	r.Println("  4. Run 'leapgraph doctor' to check connections")

	return nil
}

// writeIfMissing writes content to path unless it exists and force is unset.
func writeIfMissing(path, content string, force bool) (bool, error) {
	if _, err := os.Stat(path); err == nil && !force {
		return false, nil
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}
