// Package config loads the leapgraph CLI configuration.
//
// Values come, by increasing precedence, from built-in defaults, the
// leapgraph.yaml project file, LEAPGRAPH_ environment variables and
// explicitly set command-line flags.
package config

import (
	"time"

	sharedcfg "github.com/leapstack-labs/leapgraph/internal/config"
	"github.com/leapstack-labs/leapgraph/pkg/core"
)

// TargetConfig is an alias for the shared target configuration.
type TargetConfig = core.TargetConfig

// Config holds all CLI configuration options.
type Config struct {
	ProjectRoot  string `koanf:"project_root"`
	SQLDir       string `koanf:"sql_dir"`
	LineageDir   string `koanf:"lineage_dir"`
	TemplatesDir string `koanf:"templates_dir"`
	OutputDir    string `koanf:"output_dir"`
	SeedsDir     string `koanf:"seeds_dir"`
	StatePath    string `koanf:"state_path"`
	Verbose      bool   `koanf:"verbose"`
	OutputFormat string `koanf:"output"`

	Target *TargetConfig `koanf:"target"`
	// Targets are named overrides of Target, selected with --target.
	Targets map[string]*TargetConfig `koanf:"targets"`

	Graph       GraphConfig       `koanf:"graph"`
	LLM         LLMConfig         `koanf:"llm"`
	Pipelines   PipelinesConfig   `koanf:"pipelines"`
	OpenLineage OpenLineageConfig `koanf:"openlineage"`
	Evaluate    EvaluateConfig    `koanf:"evaluate"`
}

// GraphConfig configures the bolt connection to Memgraph or Neo4j.
type GraphConfig struct {
	URI        string `koanf:"uri"`
	Username   string `koanf:"username"`
	Password   string `koanf:"password"`
	Database   string `koanf:"database"`
	Flavor     string `koanf:"flavor"` // memgraph or neo4j
	MaxRetries uint64 `koanf:"max_retries"`
}

// LLMConfig configures the generative model.
type LLMConfig struct {
	Provider    string        `koanf:"provider"`
	Model       string        `koanf:"model"`
	APIKey      string        `koanf:"api_key"`
	Temperature float64       `koanf:"temperature"`
	Delay       time.Duration `koanf:"delay"`
	Concurrency int           `koanf:"concurrency"`
}

// PipelinesConfig points at the pipeline catalog files.
type PipelinesConfig struct {
	Mapping              string `koanf:"mapping"`
	PipelineDependencies string `koanf:"pipeline_dependencies"`
	ScriptDependencies   string `koanf:"script_dependencies"`
}

// OpenLineageConfig configures event emission around ETL runs.
type OpenLineageConfig struct {
	Enabled   bool            `koanf:"enabled"`
	Namespace string          `koanf:"namespace"`
	Producer  string          `koanf:"producer"`
	Transport TransportConfig `koanf:"transport"`
}

// TransportConfig selects where OpenLineage events go.
type TransportConfig struct {
	Type     string `koanf:"type"` // console, file, http, noop
	Path     string `koanf:"path"`
	Append   bool   `koanf:"append"`
	URL      string `koanf:"url"`
	Endpoint string `koanf:"endpoint"`
	APIKey   string `koanf:"api_key"`
}

// EvaluateConfig configures the evaluation report.
type EvaluateConfig struct {
	Report string `koanf:"report"`
}

// Default configuration values.
const (
	DefaultSQLDir       = sharedcfg.DefaultSQLDir
	DefaultLineageDir   = sharedcfg.DefaultLineageDir
	DefaultTemplatesDir = sharedcfg.DefaultTemplatesDir
	DefaultOutputDir    = sharedcfg.DefaultOutputDir
	DefaultSeedsDir     = sharedcfg.DefaultSeedsDir
	DefaultStateFile    = sharedcfg.DefaultStateFile
	DefaultOutput       = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultGraphURI     = "bolt://localhost:7687"
	DefaultGraphFlavor  = "memgraph"
	DefaultLLMProvider  = "gemini"
	DefaultLLMModel     = "gemini-2.0-flash"
	DefaultTemperature  = 0.1
	DefaultDelay        = 5 * time.Second
	DefaultConcurrency  = 1
	DefaultTransport    = "file"
	DefaultEventsFile   = "openlineage_events.json"
)
