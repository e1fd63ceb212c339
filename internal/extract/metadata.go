package extract

import (
	"fmt"
	"time"
)

// MetadataFile is the per-execution metadata file name.
const MetadataFile = "_metadata_run.json"

// RunMetadata is written to MetadataFile once a template has been applied to
// every SQL file.
type RunMetadata struct {
	TemplateName    string           `json:"template_name"`
	ExecutionNumber int              `json:"execution_number"`
	RunTimestamp    string           `json:"run_timestamp"`
	Prompts         []PromptMetadata `json:"individual_prompts_metadata"`
}

// PromptMetadata describes one model call.
type PromptMetadata struct {
	PromptDetails   PromptDetails   `json:"prompt_details"`
	Usage           *Usage          `json:"usage"`
	ModelUsed       string          `json:"model_used,omitempty"`
	ResponseSummary ResponseSummary `json:"response_summary"`
}

// PromptDetails identifies the prompt.
type PromptDetails struct {
	SQLFileName string `json:"sql_file_name"`
	Timestamp   string `json:"timestamp"`
	PromptHash  string `json:"prompt_hash,omitempty"`
}

// Usage is the token accounting of a call.
type Usage struct {
	QueryTokensUsed  int `json:"query_tokens_used"`
	AnswerTokensUsed int `json:"answer_tokens_used"`
}

// ResponseSummary records what happened to the answer.
type ResponseSummary struct {
	AnswerSaved bool   `json:"answer_saved"`
	AnswerFile  string `json:"answer_file,omitempty"`
	Error       string `json:"error,omitempty"`
}

// fileTimestamp formats t for answer file names, down to microseconds.
func fileTimestamp(t time.Time) string {
	return t.Format("20060102_150405") + fmt.Sprintf("_%06d", t.Nanosecond()/int(time.Microsecond))
}
