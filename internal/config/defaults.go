package config

import (
	"strings"

	"github.com/leapstack-labs/leapgraph/pkg/adapter"
	"github.com/leapstack-labs/leapgraph/pkg/core"
)

// Default project layout.
const (
	DefaultSQLDir       = "sql"
	DefaultLineageDir   = "lineage"
	DefaultTemplatesDir = "templates"
	DefaultOutputDir    = "llm_answers"
	DefaultSeedsDir     = "seeds"
	DefaultStateFile    = ".leapgraph/state.db"
	DefaultReport       = "EVALUATOR_OUTPUT.txt"
)

// Default catalog files, relative to the project root.
const (
	DefaultMappingFile     = "pipeline_mapping.json"
	DefaultPipelineDepFile = "pipeline_dependencies.json"
	DefaultScriptDepFile   = "script_dependencies.json"
)

// DefaultSchemaForType returns the schema unqualified table names live in.
func DefaultSchemaForType(dbType string) string {
	switch strings.ToLower(dbType) {
	case "postgres", "postgresql":
		return "public"
	default:
		return "main"
	}
}

// ApplyTargetDefaults applies default values to a TargetConfig based on the target type.
func ApplyTargetDefaults(t *core.TargetConfig) {
	if t == nil {
		return
	}
	if name, ok := adapter.Canonical(t.Type); ok {
		t.Type = name
	} else {
		t.Type = strings.ToLower(t.Type)
	}

	if t.Schema == "" {
		t.Schema = DefaultSchemaForType(t.Type)
	}

	if t.Type == "postgres" {
		if t.Port == 0 {
			t.Port = 5432
		}
		if t.Host == "" {
			t.Host = "localhost"
		}
	}
}
