package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Source types reported in a document's sources summary.
const (
	SourceTypeTable = "TABLE"
	SourceTypeFile  = "FILE"
)

// Transformation types with special handling downstream.
const (
	TransformDirect      = "DIRECT"
	TransformDirectInput = "DIRECT INPUT"
	TransformFileLoad    = "FILE_LOAD"
)

// Document is the column-level lineage of a single SQL script.
type Document struct {
	TargetTable    string                   `json:"target_table"`
	SourcesSummary []SourceSummary          `json:"sources_summary,omitempty"`
	Lineage        map[string]ColumnLineage `json:"lineage"`
}

// SourceSummary names one table or file the script reads.
type SourceSummary struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// ColumnLineage describes how one target column is produced.
type ColumnLineage struct {
	TransformationType  string      `json:"transformation_type,omitempty"`
	TransformationLogic string      `json:"transformation_logic,omitempty"`
	Notes               string      `json:"notes,omitempty"`
	Sources             []SourceRef `json:"sources"`
}

// SourceRef is a single upstream column of a target column.
type SourceRef struct {
	SourceIdentifier    string          `json:"source_identifier"`
	Role                string          `json:"role,omitempty"`
	Path                Path            `json:"path,omitempty"`
	JoinInfo            json.RawMessage `json:"join_info,omitempty"`
	TransformationType  string          `json:"transformation_type,omitempty"`
	TransformationLogic string          `json:"transformation_logic,omitempty"`
	Notes               string          `json:"notes,omitempty"`
}

// Path is the chain of intermediate steps between a source and its target.
// Models answer with either a list or a single string; both decode.
type Path []string

// UnmarshalJSON accepts a string, a list of strings or null.
func (p *Path) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*p = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var items []any
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("failed to decode path: %w", err)
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
		*p = out
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to decode path: %w", err)
	}
	*p = Path{s}
	return nil
}

// ParseDocument decodes a lineage document.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode lineage document: %w", err)
	}
	return &doc, nil
}

// FileSource returns the first FILE entry of the sources summary.
func (d *Document) FileSource() (SourceSummary, bool) {
	files := d.FileSources()
	if len(files) == 0 {
		return SourceSummary{}, false
	}
	return files[0], true
}

// FileSources returns every FILE entry of the sources summary in order.
func (d *Document) FileSources() []SourceSummary {
	var out []SourceSummary
	for _, s := range d.SourcesSummary {
		if s.Type == SourceTypeFile {
			out = append(out, s)
		}
	}
	return out
}

// Columns returns the target column names in sorted order.
func (d *Document) Columns() []string {
	cols := make([]string, 0, len(d.Lineage))
	for name := range d.Lineage {
		cols = append(cols, name)
	}
	sort.Strings(cols)
	return cols
}

// EffectiveType is the source transformation type, falling back to the column's.
func (s SourceRef) EffectiveType(col ColumnLineage) string {
	if s.TransformationType != "" {
		return s.TransformationType
	}
	return col.TransformationType
}

// EffectiveLogic is the source transformation logic, falling back to the column's.
func (s SourceRef) EffectiveLogic(col ColumnLineage) string {
	if s.TransformationLogic != "" {
		return s.TransformationLogic
	}
	return col.TransformationLogic
}

// EffectiveNotes is the source notes, falling back to the column's.
func (s SourceRef) EffectiveNotes(col ColumnLineage) string {
	if s.Notes != "" {
		return s.Notes
	}
	return col.Notes
}

// HasJoinInfo reports whether the source carries a non-empty join description.
func (s SourceRef) HasJoinInfo() bool {
	switch strings.TrimSpace(string(s.JoinInfo)) {
	case "", "null", "{}", "[]", `""`:
		return false
	}
	return true
}
