package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	sharedcfg "github.com/leapstack-labs/leapgraph/internal/config"
	"github.com/spf13/pflag"
)

// loggerKey is used to store the logger in the command context.
type loggerKey struct{}

// EnvPrefix prefixes every environment variable read by the loader.
const EnvPrefix = "LEAPGRAPH_"

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

var (
	configFileUsed string
	currentConfig  *Config
)

// pathFlags maps path flags to their config keys.
var pathFlags = map[string]string{
	"sql-dir": "sql_dir",
	"state":   "state_path",
}

func defaults() map[string]any {
	return map[string]any{
		"sql_dir":                         DefaultSQLDir,
		"lineage_dir":                     DefaultLineageDir,
		"templates_dir":                   DefaultTemplatesDir,
		"output_dir":                      DefaultOutputDir,
		"seeds_dir":                       DefaultSeedsDir,
		"state_path":                      DefaultStateFile,
		"verbose":                         false,
		"output":                          DefaultOutput,
		"graph.uri":                       DefaultGraphURI,
		"graph.flavor":                    DefaultGraphFlavor,
		"graph.max_retries":               5,
		"llm.provider":                    DefaultLLMProvider,
		"llm.model":                       DefaultLLMModel,
		"llm.temperature":                 DefaultTemperature,
		"llm.delay":                       DefaultDelay.String(),
		"llm.concurrency":                 DefaultConcurrency,
		"pipelines.mapping":               sharedcfg.DefaultMappingFile,
		"pipelines.pipeline_dependencies": sharedcfg.DefaultPipelineDepFile,
		"pipelines.script_dependencies":   sharedcfg.DefaultScriptDepFile,
		"openlineage.enabled":             false,
		"openlineage.transport.type":      DefaultTransport,
		"openlineage.transport.path":      DefaultEventsFile,
		"evaluate.report":                 sharedcfg.DefaultReport,
	}
}

// inferProjectRoot picks the directory relative paths resolve against: the
// directory of an explicit config file, else the nearest ancestor of the
// working directory holding a config file, else the working directory.
func inferProjectRoot(cfgFile string) string {
	if cfgFile != "" {
		if abs, err := filepath.Abs(cfgFile); err == nil {
			return filepath.Dir(abs)
		}
	}
	cwd, err := os.Getwd()
	if err != nil || cwd == "" {
		return "."
	}
	if root := sharedcfg.FindProjectRoot(cwd, maxUpwardSearchLevels); root != "" {
		return root
	}
	return cwd
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) || path == ":memory:" {
		return path
	}
	return filepath.Join(baseDir, path)
}

// ResetConfig forgets the loaded configuration. Used for testing.
func ResetConfig() {
	configFileUsed = ""
	currentConfig = nil
}

// LoadConfig loads configuration without a named target.
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	return LoadConfigWithTarget(cfgFile, "", flags)
}

// LoadConfigWithTarget loads configuration and merges the named target from
// the targets section over the base target.
func LoadConfigWithTarget(cfgFile, targetName string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	projectRoot := inferProjectRoot(cfgFile)

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	if cfgFile == "" {
		cfgFile = sharedcfg.FindConfigFile(projectRoot)
	}
	configFileUsed = cfgFile
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	// 3. Environment: LEAPGRAPH_GRAPH__URI -> graph.uri
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Explicitly set flags. Path flags are relative to the working
	// directory, not the project root, so they are made absolute here.
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed || f.Name == "config" || f.Name == "target" {
				return "", nil
			}
			if key, ok := pathFlags[f.Name]; ok {
				abs, err := filepath.Abs(f.Value.String())
				if err != nil {
					return key, f.Value.String()
				}
				return key, abs
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.ProjectRoot = projectRoot

	if targetName != "" {
		named, ok := cfg.Targets[targetName]
		if !ok {
			return nil, fmt.Errorf("target %q is not defined in targets", targetName)
		}
		cfg.Target = MergeTargetConfig(cfg.Target, named)
	}
	if cfg.Target == nil {
		cfg.Target = &TargetConfig{Type: "duckdb"}
	}
	sharedcfg.ApplyTargetDefaults(cfg.Target)

	cfg.expandSecrets()
	cfg.resolvePaths()
	if cfg.LLM.Concurrency < 1 {
		cfg.LLM.Concurrency = 1
	}

	currentConfig = &cfg
	return &cfg, nil
}

func (c *Config) resolvePaths() {
	root := c.ProjectRoot
	for _, p := range []*string{
		&c.SQLDir, &c.LineageDir, &c.TemplatesDir, &c.OutputDir, &c.SeedsDir, &c.StatePath,
		&c.Pipelines.Mapping, &c.Pipelines.PipelineDependencies, &c.Pipelines.ScriptDependencies,
		&c.Evaluate.Report, &c.OpenLineage.Transport.Path,
	} {
		*p = resolvePathRelativeTo(*p, root)
	}
	if c.Target.Type == "duckdb" {
		c.Target.Database = resolvePathRelativeTo(c.Target.Database, root)
	}
}

func (c *Config) expandSecrets() {
	c.Graph.Password = expandEnvVars(c.Graph.Password)
	c.Graph.Username = expandEnvVars(c.Graph.Username)
	c.LLM.APIKey = expandEnvVars(c.LLM.APIKey)
	c.OpenLineage.Transport.APIKey = expandEnvVars(c.OpenLineage.Transport.APIKey)
	expandTargetEnvVars(c.Target)
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// GetCurrentConfig returns the configuration loaded last, or nil.
func GetCurrentConfig() *Config {
	return currentConfig
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
			return l
		}
	}
	return slog.New(slog.DiscardHandler)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns. Unset variables are left as is.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if val := os.Getenv(match[2 : len(match)-1]); val != "" {
			return val
		}
		return match
	})
}

// expandTargetEnvVars expands environment variables in sensitive target fields.
func expandTargetEnvVars(t *TargetConfig) {
	if t == nil {
		return
	}
	t.Password = expandEnvVars(t.Password)
	t.User = expandEnvVars(t.User)
	t.Host = expandEnvVars(t.Host)
	t.Database = expandEnvVars(t.Database)
}

// MergeTargetConfig merges two target configs, with override taking precedence.
func MergeTargetConfig(base, override *TargetConfig) *TargetConfig {
	if base == nil {
		return override
	}
	if override == nil {
		return base
	}

	merged := *base
	merged.Options = make(map[string]string, len(base.Options)+len(override.Options))
	merged.Params = make(map[string]any, len(base.Params)+len(override.Params))
	for k, v := range base.Options {
		merged.Options[k] = v
	}
	for k, v := range base.Params {
		merged.Params[k] = v
	}

	if override.Type != "" {
		merged.Type = override.Type
	}
	if override.Database != "" {
		merged.Database = override.Database
	}
	if override.Host != "" {
		merged.Host = override.Host
	}
	if override.Port != 0 {
		merged.Port = override.Port
	}
	if override.User != "" {
		merged.User = override.User
	}
	if override.Password != "" {
		merged.Password = override.Password
	}
	if override.Schema != "" {
		merged.Schema = override.Schema
	}
	for k, v := range override.Options {
		merged.Options[k] = v
	}
	for k, v := range override.Params {
		merged.Params[k] = v
	}
	return &merged
}
