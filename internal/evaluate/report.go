package evaluate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapgraph/internal/llm"
)

var blockHeader = regexp.MustCompile(`(?m)^([^\n{}"]*?\S\.sql):`)

// ScriptSummary is the review outcome of one script.
type ScriptSummary struct {
	Script       string
	ErrorColumns []string
	ErrorCount   int
	TotalColumns int
	OKColumns    int
	// Issues holds the notes of every column with issues.
	Issues     map[string][]string
	ParseError string
}

// OK reports whether the script parsed and has no issues.
func (s ScriptSummary) OK() bool {
	return s.ParseError == "" && s.ErrorCount == 0
}

// ParseReport splits an evaluation report into per-script summaries.
func ParseReport(text string) []ScriptSummary {
	locs := blockHeader.FindAllStringSubmatchIndex(text, -1)
	out := make([]ScriptSummary, 0, len(locs))
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		script := strings.TrimSpace(text[loc[2]:loc[3]])
		out = append(out, summarize(script, text[loc[1]:end]))
	}
	return out
}

func summarize(script, body string) ScriptSummary {
	s := ScriptSummary{Script: script}

	raw, err := llm.ExtractJSONObject(llm.StripCodeFences(body))
	if err != nil {
		s.ParseError = fmt.Sprintf("JSON parse error: %v", err)
		s.ErrorCount = 1
		return s
	}
	var columns map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &columns); err != nil {
		s.ParseError = fmt.Sprintf("JSON parse error: %v", err)
		s.ErrorCount = 1
		return s
	}

	s.TotalColumns = len(columns)
	s.Issues = make(map[string][]string)
	for col, v := range columns {
		if notes := decodeNotes(v); len(notes) > 0 {
			s.Issues[col] = notes
			s.ErrorColumns = append(s.ErrorColumns, col)
		}
	}
	sort.Strings(s.ErrorColumns)
	s.ErrorCount = len(s.ErrorColumns)
	s.OKColumns = s.TotalColumns - s.ErrorCount
	return s
}

// decodeNotes accepts a list of notes, a single note or anything else JSON.
func decodeNotes(v json.RawMessage) []string {
	var list []any
	if err := json.Unmarshal(v, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, item := range list {
			if str, ok := item.(string); ok {
				out = append(out, str)
				continue
			}
			b, _ := json.Marshal(item)
			out = append(out, string(b))
		}
		return out
	}
	var single string
	if err := json.Unmarshal(v, &single); err == nil {
		if single == "" {
			return nil
		}
		return []string{single}
	}
	switch strings.TrimSpace(string(v)) {
	case "null", "{}", "false":
		return nil
	}
	return []string{string(v)}
}

// Totals aggregates summaries.
type Totals struct {
	Scripts    int
	Columns    int
	OK         int
	WithIssues int
}

// Total sums the column counts of summaries.
func Total(summaries []ScriptSummary) Totals {
	t := Totals{Scripts: len(summaries)}
	for _, s := range summaries {
		t.Columns += s.TotalColumns
		t.OK += s.OKColumns
	}
	t.WithIssues = t.Columns - t.OK
	return t
}

// Issue is one note about one column.
type Issue struct {
	Script      string `json:"script"`
	Column      string `json:"column,omitempty"`
	Description string `json:"issue_description"`
}

// DetailedIssues flattens summaries into one row per script, column and note.
// A script whose block failed to parse yields a single row without a column.
func DetailedIssues(summaries []ScriptSummary) []Issue {
	var out []Issue
	for _, s := range summaries {
		if s.ParseError != "" {
			out = append(out, Issue{Script: s.Script, Description: s.ParseError})
			continue
		}
		for _, col := range s.ErrorColumns {
			for _, note := range s.Issues[col] {
				out = append(out, Issue{Script: s.Script, Column: col, Description: note})
			}
		}
	}
	return out
}
