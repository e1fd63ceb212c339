// Package openlineage emits OpenLineage run events for ETL script runs.
//
// Events are plain structs that marshal to the OpenLineage 2-0-2 JSON schema.
// A Client stamps producer and namespace onto events and hands them to a
// Transport; a Tracker wraps a unit of work in START and COMPLETE or FAIL
// events.
package openlineage

import "time"

// Schema locations of the event and facets this package emits.
const (
	RunEventSchemaURL           = "https://openlineage.io/spec/2-0-2/OpenLineage.json#/$defs/RunEvent"
	nominalTimeSchemaURL        = "https://openlineage.io/spec/facets/1-0-1/NominalTimeRunFacet.json#/$defs/NominalTimeRunFacet"
	errorMessageSchemaURL       = "https://openlineage.io/spec/facets/1-0-1/ErrorMessageRunFacet.json#/$defs/ErrorMessageRunFacet"
	sqlSchemaURL                = "https://openlineage.io/spec/facets/1-0-1/SQLJobFacet.json#/$defs/SQLJobFacet"
	sourceCodeLocationSchemaURL = "https://openlineage.io/spec/facets/1-0-1/SourceCodeLocationJobFacet.json#/$defs/SourceCodeLocationJobFacet"
	jobTypeSchemaURL            = "https://openlineage.io/spec/facets/2-0-3/JobTypeJobFacet.json#/$defs/JobTypeJobFacet"
	schemaSchemaURL             = "https://openlineage.io/spec/facets/1-1-1/SchemaDatasetFacet.json#/$defs/SchemaDatasetFacet"
	outputStatisticsSchemaURL   = "https://openlineage.io/spec/facets/1-0-2/OutputStatisticsOutputDatasetFacet.json#/$defs/OutputStatisticsOutputDatasetFacet"
	columnLineageSchemaURL      = "https://openlineage.io/spec/facets/1-2-0/ColumnLineageDatasetFacet.json#/$defs/ColumnLineageDatasetFacet"
)

// DefaultProducer identifies this tool as the event producer.
const DefaultProducer = "https://github.com/leapstack-labs/leapgraph"

// DefaultNamespace is used when no namespace is configured.
const DefaultNamespace = "leapgraph"

// EventType is the state transition an event reports.
type EventType string

// EventType values.
const (
	EventStart    EventType = "START"
	EventComplete EventType = "COMPLETE"
	EventFail     EventType = "FAIL"
)

// RunEvent is a single OpenLineage run state change.
type RunEvent struct {
	EventType EventType       `json:"eventType"`
	EventTime time.Time       `json:"eventTime"`
	Run       Run             `json:"run"`
	Job       Job             `json:"job"`
	Inputs    []InputDataset  `json:"inputs"`
	Outputs   []OutputDataset `json:"outputs"`
	Producer  string          `json:"producer"`
	SchemaURL string          `json:"schemaURL"`
}

// Run identifies one execution of a job.
type Run struct {
	RunID  string     `json:"runId"`
	Facets *RunFacets `json:"facets,omitempty"`
}

// Job identifies the process being run.
type Job struct {
	Namespace string     `json:"namespace"`
	Name      string     `json:"name"`
	Facets    *JobFacets `json:"facets,omitempty"`
}

// InputDataset is a dataset read by a run.
type InputDataset struct {
	Namespace string         `json:"namespace"`
	Name      string         `json:"name"`
	Facets    *DatasetFacets `json:"facets,omitempty"`
}

// OutputDataset is a dataset written by a run.
type OutputDataset struct {
	Namespace    string               `json:"namespace"`
	Name         string               `json:"name"`
	Facets       *DatasetFacets       `json:"facets,omitempty"`
	OutputFacets *OutputDatasetFacets `json:"outputFacets,omitempty"`
}

// BaseFacet is embedded in every facet.
type BaseFacet struct {
	Producer  string `json:"_producer"`
	SchemaURL string `json:"_schemaURL"`
}

// RunFacets are the facets attached to a run.
type RunFacets struct {
	NominalTime  *NominalTimeFacet  `json:"nominalTime,omitempty"`
	ErrorMessage *ErrorMessageFacet `json:"errorMessage,omitempty"`
}

// NominalTimeFacet records when the run was scheduled to start.
type NominalTimeFacet struct {
	BaseFacet
	NominalStartTime time.Time `json:"nominalStartTime"`
}

// ErrorMessageFacet describes why a run failed.
type ErrorMessageFacet struct {
	BaseFacet
	Message             string `json:"message"`
	ProgrammingLanguage string `json:"programmingLanguage"`
	StackTrace          string `json:"stackTrace,omitempty"`
}

// JobFacets are the facets attached to a job.
type JobFacets struct {
	SQL                *SQLFacet                `json:"sql,omitempty"`
	SourceCodeLocation *SourceCodeLocationFacet `json:"sourceCodeLocation,omitempty"`
	JobType            *JobTypeFacet            `json:"jobType,omitempty"`
}

// SQLFacet carries the query a job runs.
type SQLFacet struct {
	BaseFacet
	Query string `json:"query"`
}

// SourceCodeLocationFacet points at the job's source.
type SourceCodeLocationFacet struct {
	BaseFacet
	Type string `json:"type"`
	URL  string `json:"url"`
	Path string `json:"path,omitempty"`
}

// JobTypeFacet classifies the job.
type JobTypeFacet struct {
	BaseFacet
	ProcessingType string `json:"processingType"`
	Integration    string `json:"integration"`
	JobType        string `json:"jobType,omitempty"`
}

// DatasetFacets are the facets attached to any dataset.
type DatasetFacets struct {
	Schema        *SchemaFacet               `json:"schema,omitempty"`
	ColumnLineage *ColumnLineageDatasetFacet `json:"columnLineage,omitempty"`
}

// SchemaFacet lists the fields of a dataset.
type SchemaFacet struct {
	BaseFacet
	Fields []SchemaField `json:"fields"`
}

// SchemaField is one column of a dataset.
type SchemaField struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// OutputDatasetFacets are facets only valid on outputs.
type OutputDatasetFacets struct {
	OutputStatistics *OutputStatisticsFacet `json:"outputStatistics,omitempty"`
}

// OutputStatisticsFacet reports what a run wrote.
type OutputStatisticsFacet struct {
	BaseFacet
	RowCount int64 `json:"rowCount"`
}

// ColumnLineageDatasetFacet maps every output column to the input fields it
// is derived from.
type ColumnLineageDatasetFacet struct {
	BaseFacet
	Fields map[string]ColumnLineageField `json:"fields"`
}

// ColumnLineageField is the lineage of one output column.
type ColumnLineageField struct {
	InputFields               []InputField `json:"inputFields"`
	TransformationType        string       `json:"transformationType,omitempty"`
	TransformationDescription string       `json:"transformationDescription,omitempty"`
}

// InputField is one upstream column.
type InputField struct {
	Namespace       string           `json:"namespace"`
	Name            string           `json:"name"`
	Field           string           `json:"field"`
	Transformations []Transformation `json:"transformations,omitempty"`
}

// Transformation describes how an input field reaches the output.
type Transformation struct {
	Type        string `json:"type"`
	Subtype     string `json:"subtype,omitempty"`
	Description string `json:"description,omitempty"`
	Masking     bool   `json:"masking"`
}

func base(producer, schemaURL string) BaseFacet {
	return BaseFacet{Producer: producer, SchemaURL: schemaURL}
}
