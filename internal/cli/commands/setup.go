package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/leapgraph/internal/cli/config"
	"github.com/leapstack-labs/leapgraph/internal/cli/output"
	"github.com/leapstack-labs/leapgraph/internal/graph"
	"github.com/leapstack-labs/leapgraph/internal/llm"
	"github.com/leapstack-labs/leapgraph/internal/openlineage"
	"github.com/leapstack-labs/leapgraph/internal/pipeline"
	"github.com/leapstack-labs/leapgraph/internal/state"
	"github.com/leapstack-labs/leapgraph/pkg/adapter"
	"github.com/spf13/cobra"

	// Register warehouse adapters.
	_ "github.com/leapstack-labs/leapgraph/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/leapgraph/pkg/adapters/postgres"
)

// CommandContext holds common dependencies for CLI commands. Resources are
// opened on demand and released by the cleanup returned from
// NewCommandContext.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer

	closers []func()
}

// NewCommandContext creates a CommandContext for cmd.
// Returns the context and a cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func()) {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())
	mode := output.Mode(cfg.OutputFormat)

	c := &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode),
	}
	cleanup := func() {
		for i := len(c.closers) - 1; i >= 0; i-- {
			c.closers[i]()
		}
		c.closers = nil
	}
	return c, cleanup
}

func (c *CommandContext) onClose(fn func()) {
	c.closers = append(c.closers, fn)
}

// getConfig returns the current configuration.
// It uses config.GetCurrentConfig() if available, otherwise loads defaults.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	cfg, err := config.LoadConfig("", nil)
	if err != nil {
		return &config.Config{
			SQLDir:       config.DefaultSQLDir,
			LineageDir:   config.DefaultLineageDir,
			TemplatesDir: config.DefaultTemplatesDir,
			OutputDir:    config.DefaultOutputDir,
			SeedsDir:     config.DefaultSeedsDir,
			StatePath:    config.DefaultStateFile,
			OutputFormat: config.DefaultOutput,
			Target:       &config.TargetConfig{Type: "duckdb", Schema: "main", Database: ":memory:"},
		}
	}
	return cfg
}

// OpenStore opens the state database, creating its directory and schema.
func (c *CommandContext) OpenStore() (*state.SQLiteStore, error) {
	stateDir := filepath.Dir(c.Cfg.StatePath)
	if stateDir != "." && stateDir != "" {
		if err := os.MkdirAll(stateDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	store := state.NewSQLiteStore(c.Logger)
	if err := store.Open(c.Cfg.StatePath); err != nil {
		return nil, err
	}
	if err := store.InitSchema(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize state schema: %w", err)
	}
	c.onClose(func() { _ = store.Close() })
	return store, nil
}

// OpenWarehouse connects the configured target adapter.
func (c *CommandContext) OpenWarehouse(ctx context.Context) (adapter.Adapter, error) {
	if c.Cfg.Target == nil {
		return nil, errors.New("no target configured")
	}
	adpCfg := c.Cfg.Target.AdapterConfig()
	adp, err := adapter.Open(ctx, adpCfg, c.Logger)
	if err != nil {
		return nil, err
	}
	c.onClose(func() { _ = adp.Close() })
	return adp, nil
}

// OpenGraph connects to the graph database and returns a loader on top of it.
func (c *CommandContext) OpenGraph(ctx context.Context) (*graph.Client, *graph.Loader, error) {
	g := c.Cfg.Graph
	client := graph.NewClient(graph.Config{
		URI:        g.URI,
		Username:   g.Username,
		Password:   g.Password,
		Database:   g.Database,
		MaxRetries: g.MaxRetries,
		Logger:     c.Logger,
	})
	if err := client.Connect(ctx); err != nil {
		return nil, nil, err
	}
	c.onClose(func() { _ = client.Close(context.Background()) })

	loader := graph.NewLoader(client, graph.LoaderConfig{
		Flavor: graph.Flavor(g.Flavor),
		Logger: c.Logger,
	})
	return client, loader, nil
}

// NewGenerator creates the configured LLM generator.
func (c *CommandContext) NewGenerator(ctx context.Context) (llm.Generator, error) {
	l := c.Cfg.LLM
	switch strings.ToLower(l.Provider) {
	case "", "gemini", "google":
		return llm.NewGeminiClient(ctx, llm.GeminiConfig{
			APIKey:      l.APIKey,
			Model:       l.Model,
			Temperature: float32(l.Temperature),
			Logger:      c.Logger,
		})
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", l.Provider)
	}
}

// LoadMapping reads the pipeline mapping. A missing file yields an empty
// mapping.
func (c *CommandContext) LoadMapping() (*pipeline.Mapping, error) {
	path := c.Cfg.Pipelines.Mapping
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		c.Logger.Warn("pipeline mapping not found", slog.String("path", path))
		return pipeline.NewMapping(nil), nil
	}
	return pipeline.LoadMapping(path)
}

// loadEdges reads a dependency file. A missing file means no edges.
func loadEdges(path string) ([]pipeline.Edge, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return pipeline.LoadDependencies(path)
}

// NewLineageClient builds the OpenLineage client from configuration. When
// emission is disabled, events go to a noop transport. Console events are
// written to console.
func (c *CommandContext) NewLineageClient(console io.Writer) (*openlineage.Client, error) {
	ol := c.Cfg.OpenLineage
	var transport openlineage.Transport = openlineage.NoopTransport{}
	if ol.Enabled {
		var err error
		transport, err = openlineage.NewTransport(openlineage.TransportConfig{
			Type:     ol.Transport.Type,
			Path:     ol.Transport.Path,
			Append:   ol.Transport.Append,
			URL:      ol.Transport.URL,
			Endpoint: ol.Transport.Endpoint,
			APIKey:   ol.Transport.APIKey,
		}, console)
		if err != nil {
			return nil, fmt.Errorf("failed to create openlineage transport: %w", err)
		}
	}
	return openlineage.NewClient(openlineage.ClientConfig{
		Namespace: ol.Namespace,
		Producer:  ol.Producer,
		Transport: transport,
		Logger:    c.Logger,
	}), nil
}

