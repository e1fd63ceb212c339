package openlineage

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leapgraph/pkg/core"
)

// Job type facet values.
const (
	ProcessingTypeBatch = "BATCH"
	Integration         = "LEAPGRAPH"
	JobTypeSQLScript    = "SQL_SCRIPT"
)

// JobInfo describes the job a run executes.
type JobInfo struct {
	Name string
	SQL  string
	// SourcePath is the script location; it becomes a file:// source code
	// location facet.
	SourcePath string
	Inputs     []string
	Nominal    time.Time
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Namespace string
	Producer  string
	Transport Transport
	Logger    *slog.Logger
	Now       func() time.Time
}

// Client builds and emits run events.
type Client struct {
	namespace string
	producer  string
	transport Transport
	logger    *slog.Logger
	now       func() time.Time
}

// NewClient creates a Client. Empty fields fall back to DefaultNamespace,
// DefaultProducer and a NoopTransport.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		namespace: cfg.Namespace,
		producer:  cfg.Producer,
		transport: cfg.Transport,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	if c.namespace == "" {
		c.namespace = DefaultNamespace
	}
	if c.producer == "" {
		c.producer = DefaultProducer
	}
	if c.transport == nil {
		c.transport = NoopTransport{}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Namespace returns the namespace of jobs and datasets.
func (c *Client) Namespace() string { return c.namespace }

// NewRunID returns a time-ordered run id.
func (c *Client) NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Emit sends event through the transport.
func (c *Client) Emit(ctx context.Context, event *RunEvent) error {
	c.logger.Debug("emitting openlineage event",
		slog.String("type", string(event.EventType)),
		slog.String("job", event.Job.Name),
		slog.String("run_id", event.Run.RunID))
	return c.transport.Emit(ctx, event)
}

func (c *Client) event(kind EventType, runID string, job JobInfo) *RunEvent {
	return &RunEvent{
		EventType: kind,
		EventTime: c.now().UTC(),
		Run:       Run{RunID: runID},
		Job:       c.job(job),
		Inputs:    c.inputs(job.Inputs),
		Outputs:   []OutputDataset{},
		Producer:  c.producer,
		SchemaURL: RunEventSchemaURL,
	}
}

func (c *Client) job(info JobInfo) Job {
	facets := &JobFacets{
		JobType: &JobTypeFacet{
			BaseFacet:      base(c.producer, jobTypeSchemaURL),
			ProcessingType: ProcessingTypeBatch,
			Integration:    Integration,
			JobType:        JobTypeSQLScript,
		},
	}
	if info.SQL != "" {
		facets.SQL = &SQLFacet{BaseFacet: base(c.producer, sqlSchemaURL), Query: info.SQL}
	}
	if info.SourcePath != "" {
		facets.SourceCodeLocation = &SourceCodeLocationFacet{
			BaseFacet: base(c.producer, sourceCodeLocationSchemaURL),
			Type:      "file",
			URL:       "file://" + info.SourcePath,
			Path:      info.SourcePath,
		}
	}
	return Job{Namespace: c.namespace, Name: info.Name, Facets: facets}
}

func (c *Client) inputs(names []string) []InputDataset {
	out := make([]InputDataset, 0, len(names))
	for _, n := range names {
		out = append(out, InputDataset{Namespace: c.namespace, Name: n})
	}
	return out
}

// StartEvent builds the START event of a run.
func (c *Client) StartEvent(runID string, job JobInfo) *RunEvent {
	ev := c.event(EventStart, runID, job)
	nominal := job.Nominal
	if nominal.IsZero() {
		nominal = ev.EventTime
	}
	ev.Run.Facets = &RunFacets{NominalTime: &NominalTimeFacet{
		BaseFacet:        base(c.producer, nominalTimeSchemaURL),
		NominalStartTime: nominal.UTC(),
	}}
	return ev
}

// CompleteEvent builds the COMPLETE event of a run writing outputs.
func (c *Client) CompleteEvent(runID string, job JobInfo, outputs []OutputDataset) *RunEvent {
	ev := c.event(EventComplete, runID, job)
	if outputs != nil {
		ev.Outputs = outputs
	}
	return ev
}

// FailEvent builds the FAIL event of a run that ended with err.
func (c *Client) FailEvent(runID string, job JobInfo, err error, stack string) *RunEvent {
	ev := c.event(EventFail, runID, job)
	ev.Run.Facets = &RunFacets{ErrorMessage: &ErrorMessageFacet{
		BaseFacet:           base(c.producer, errorMessageSchemaURL),
		Message:             err.Error(),
		ProgrammingLanguage: "go",
		StackTrace:          stack,
	}}
	return ev
}

// OutputDataset describes a written table. doc, when set, contributes the
// column lineage facet.
func (c *Client) OutputDataset(meta *core.TableMetadata, doc *core.Document) OutputDataset {
	fields := make([]SchemaField, 0, len(meta.Columns))
	for _, col := range meta.Columns {
		fields = append(fields, SchemaField{Name: col.Name, Type: col.Type, Description: col.Comment})
	}
	ds := OutputDataset{
		Namespace: c.namespace,
		Name:      meta.FullName(),
		Facets: &DatasetFacets{
			Schema: &SchemaFacet{BaseFacet: base(c.producer, schemaSchemaURL), Fields: fields},
		},
		OutputFacets: &OutputDatasetFacets{
			OutputStatistics: &OutputStatisticsFacet{
				BaseFacet: base(c.producer, outputStatisticsSchemaURL),
				RowCount:  meta.RowCount,
			},
		},
	}
	if doc != nil && len(doc.Lineage) > 0 {
		ds.Facets.ColumnLineage = ColumnLineage(doc, c.namespace, c.producer)
	}
	return ds
}
