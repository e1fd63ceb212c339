package core

import "time"

// Store defines the interface for run bookkeeping.
type Store interface {
	Open(path string) error
	Close() error
	InitSchema() error

	// Extraction operations
	CreateExtractionRun(template string, executionNumber int) (*ExtractionRun, error)
	CompleteExtractionRun(id string, status RunStatus) error
	RecordExtractionResult(result *ExtractionResult) error
	GetExtractionResults(runID string) ([]*ExtractionResult, error)
	HasSuccessfulExtraction(sqlHash, templateHash string) (bool, error)

	// ETL run operations
	CreateRun() (*Run, error)
	GetRun(id string) (*Run, error)
	CompleteRun(id string, status RunStatus, errMsg string) error
	RecordScriptRun(sr *ScriptRun) error
	UpdateScriptRun(id string, status RunStatus, rowsAffected int64, errMsg string) error
	SetScriptRunLineageID(id, lineageRunID string) error
	GetScriptRunsForRun(runID string) ([]*ScriptRun, error)

	// Graph load operations
	RecordLoadRun(lr *LoadRun) error

	// History
	ListRecentRuns(limit int) ([]*RunSummary, error)
}

// RunStatus represents the status of any tracked run.
type RunStatus string

// RunStatus values.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusSkipped   RunStatus = "skipped"
)

// ExtractionRun is one template applied over a set of SQL files.
type ExtractionRun struct {
	ID              string
	Template        string
	ExecutionNumber int
	Status          RunStatus
	StartedAt       time.Time
	CompletedAt     *time.Time
}

// ExtractionResult records the outcome of a single prompt.
type ExtractionResult struct {
	ID           string
	RunID        string
	SQLFile      string
	SQLHash      string
	TemplateHash string
	AnswerFile   string
	PromptTokens int
	AnswerTokens int
	Status       RunStatus
	Error        string
	CreatedAt    time.Time
}

// Run is an ETL execution over a set of scripts.
type Run struct {
	ID          string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// ScriptRun is the execution of one script within a Run.
type ScriptRun struct {
	ID               string
	RunID            string
	Script           string
	Status           RunStatus
	RowsAffected     int64
	StartedAt        time.Time
	CompletedAt      *time.Time
	Error            string
	OpenLineageRunID string
}

// LoadRun records one batch load into the graph.
type LoadRun struct {
	ID          string
	StartedAt   time.Time
	CompletedAt time.Time
	Loaded      int
	Skipped     int
	Failed      int
}

// RunSummary is a row of the combined run history.
type RunSummary struct {
	Kind      string
	ID        string
	Label     string
	Status    RunStatus
	StartedAt time.Time
}
