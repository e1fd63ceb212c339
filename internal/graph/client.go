// Package graph loads lineage documents and warehouse schemas into a
// property graph (Memgraph or Neo4j) over bolt.
//
// Every write is a parameterized MERGE so loading the same document twice
// leaves the graph unchanged.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sethvargo/go-retry"
)

// Default connection settings.
const (
	DefaultURI            = "bolt://localhost:7687"
	DefaultMaxRetries     = 5
	DefaultConnectTimeout = 30 * time.Second
	DefaultPoolSize       = 50
)

// Config configures a Client.
type Config struct {
	URI                   string
	Username              string
	Password              string
	Database              string
	MaxConnectionPoolSize int
	ConnectTimeout        time.Duration
	MaxRetries            uint64
	Logger                *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.URI == "" {
		c.URI = DefaultURI
	}
	if c.MaxConnectionPoolSize <= 0 {
		c.MaxConnectionPoolSize = DefaultPoolSize
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Record is one result row keyed by column name.
type Record map[string]any

// Counters summarizes the changes made by a write.
type Counters struct {
	NodesCreated         int
	NodesDeleted         int
	RelationshipsCreated int
	RelationshipsDeleted int
	PropertiesSet        int
	ConstraintsAdded     int
	IndexesAdded         int
}

// Add accumulates o into c.
func (c *Counters) Add(o Counters) {
	c.NodesCreated += o.NodesCreated
	c.NodesDeleted += o.NodesDeleted
	c.RelationshipsCreated += o.RelationshipsCreated
	c.RelationshipsDeleted += o.RelationshipsDeleted
	c.PropertiesSet += o.PropertiesSet
	c.ConstraintsAdded += o.ConstraintsAdded
	c.IndexesAdded += o.IndexesAdded
}

// Executor runs Cypher statements. Client is the production implementation.
type Executor interface {
	// Write runs cypher in a managed write transaction.
	Write(ctx context.Context, cypher string, params map[string]any) (Counters, error)
	// Read runs cypher in a managed read transaction and collects every record.
	Read(ctx context.Context, cypher string, params map[string]any) ([]Record, error)
	// Exec runs cypher in an auto-commit transaction. Memgraph only accepts
	// index and constraint statements this way.
	Exec(ctx context.Context, cypher string, params map[string]any) (Counters, error)
}

// Client is a bolt connection to Memgraph or Neo4j.
type Client struct {
	cfg    Config
	driver neo4j.DriverWithContext
	logger *slog.Logger
}

// NewClient creates a client. Call Connect before use.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{cfg: cfg, logger: cfg.Logger}
}

// URI returns the configured bolt URI.
func (c *Client) URI() string { return c.cfg.URI }

// Connect creates the driver and verifies connectivity, retrying with
// exponential backoff.
func (c *Client) Connect(ctx context.Context) error {
	auth := neo4j.NoAuth()
	if c.cfg.Username != "" {
		auth = neo4j.BasicAuth(c.cfg.Username, c.cfg.Password, "")
	}
	configure := func(nc *neo4j.Config) {
		nc.MaxConnectionPoolSize = c.cfg.MaxConnectionPoolSize
		nc.ConnectionAcquisitionTimeout = c.cfg.ConnectTimeout
		nc.MaxTransactionRetryTime = c.cfg.ConnectTimeout
	}

	backoff := retry.NewExponential(100 * time.Millisecond)
	backoff = retry.WithCappedDuration(c.cfg.ConnectTimeout, backoff)
	backoff = retry.WithMaxRetries(c.cfg.MaxRetries, backoff)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		driver, err := neo4j.NewDriverWithContext(c.cfg.URI, auth, configure)
		if err != nil {
			return fmt.Errorf("failed to create driver: %w", err)
		}
		if err := driver.VerifyConnectivity(ctx); err != nil {
			_ = driver.Close(ctx)
			c.logger.Debug("graph connectivity check failed",
				slog.Int("attempt", attempt), slog.String("error", err.Error()))
			return retry.RetryableError(err)
		}
		c.driver = driver
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to connect to %s after %d attempts: %w", c.cfg.URI, attempt, err)
	}

	c.logger.Debug("connected to graph", slog.String("uri", c.cfg.URI))
	return nil
}

// Close releases the driver.
func (c *Client) Close(ctx context.Context) error {
	if c.driver == nil {
		return nil
	}
	err := c.driver.Close(ctx)
	c.driver = nil
	if err != nil {
		return fmt.Errorf("failed to close graph driver: %w", err)
	}
	return nil
}

// Health verifies the server is reachable.
func (c *Client) Health(ctx context.Context) error {
	if c.driver == nil {
		return fmt.Errorf("graph driver not connected")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("graph connectivity check failed: %w", err)
	}
	return nil
}

func (c *Client) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.cfg.Database,
		AccessMode:   mode,
	})
}

// Write implements Executor.
func (c *Client) Write(ctx context.Context, cypher string, params map[string]any) (Counters, error) {
	if c.driver == nil {
		return Counters{}, fmt.Errorf("graph driver not connected")
	}
	session := c.session(ctx, neo4j.AccessModeWrite)
	defer func() { _ = session.Close(ctx) }()

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		summary, err := res.Consume(ctx)
		if err != nil {
			return nil, err
		}
		return countersOf(summary), nil
	})
	if err != nil {
		return Counters{}, fmt.Errorf("failed to execute write: %w", err)
	}
	return out.(Counters), nil
}

// Read implements Executor.
func (c *Client) Read(ctx context.Context, cypher string, params map[string]any) ([]Record, error) {
	if c.driver == nil {
		return nil, fmt.Errorf("graph driver not connected")
	}
	session := c.session(ctx, neo4j.AccessModeRead)
	defer func() { _ = session.Close(ctx) }()

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]Record, 0, len(records))
		for _, r := range records {
			rows = append(rows, Record(r.AsMap()))
		}
		return rows, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to execute read: %w", err)
	}
	return out.([]Record), nil
}

// Exec implements Executor.
func (c *Client) Exec(ctx context.Context, cypher string, params map[string]any) (Counters, error) {
	if c.driver == nil {
		return Counters{}, fmt.Errorf("graph driver not connected")
	}
	session := c.session(ctx, neo4j.AccessModeWrite)
	defer func() { _ = session.Close(ctx) }()

	res, err := session.Run(ctx, cypher, params)
	if err != nil {
		return Counters{}, err
	}
	summary, err := res.Consume(ctx)
	if err != nil {
		return Counters{}, err
	}
	return countersOf(summary), nil
}

func countersOf(summary neo4j.ResultSummary) Counters {
	if summary == nil || summary.Counters() == nil {
		return Counters{}
	}
	sc := summary.Counters()
	return Counters{
		NodesCreated:         sc.NodesCreated(),
		NodesDeleted:         sc.NodesDeleted(),
		RelationshipsCreated: sc.RelationshipsCreated(),
		RelationshipsDeleted: sc.RelationshipsDeleted(),
		PropertiesSet:        sc.PropertiesSet(),
		ConstraintsAdded:     sc.ConstraintsAdded(),
		IndexesAdded:         sc.IndexesAdded(),
	}
}

var _ Executor = (*Client)(nil)
