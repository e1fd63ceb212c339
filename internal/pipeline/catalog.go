// Package pipeline reads the project catalog: which scripts belong to which
// pipeline, how scripts and pipelines depend on each other, the SQL files
// themselves and the lineage documents extracted from them.
package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Mapping assigns scripts to pipelines.
type Mapping struct {
	pipelines map[string][]string
	byScript  map[string]string
	scripts   []string
}

// NewMapping builds a Mapping from pipeline name to script names. A script
// listed under several pipelines belongs to the first one in name order.
func NewMapping(pipelines map[string][]string) *Mapping {
	m := &Mapping{
		pipelines: pipelines,
		byScript:  make(map[string]string),
	}
	names := make([]string, 0, len(pipelines))
	for name := range pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, p := range names {
		for _, s := range pipelines[p] {
			if _, ok := m.byScript[s]; !ok {
				m.byScript[s] = p
				m.scripts = append(m.scripts, s)
			}
		}
	}
	sort.Strings(m.scripts)
	return m
}

// LoadMapping reads a {"pipeline": ["script.sql", ...]} JSON file.
func LoadMapping(path string) (*Mapping, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from project config
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline mapping: %w", err)
	}
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline mapping %s: %w", path, err)
	}
	return NewMapping(raw), nil
}

// Pipelines returns the pipeline names, sorted.
func (m *Mapping) Pipelines() []string {
	out := make([]string, 0, len(m.pipelines))
	for name := range m.pipelines {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Scripts returns every mapped script name, sorted.
func (m *Mapping) Scripts() []string {
	return append([]string(nil), m.scripts...)
}

// PipelineFor returns the pipeline a script belongs to.
func (m *Mapping) PipelineFor(script string) (string, bool) {
	p, ok := m.byScript[script]
	return p, ok
}

// answerStamp matches the "_YYYYMMDD_HHMMSS[_micro]" suffix extraction puts
// on answer files.
var answerStamp = regexp.MustCompile(`_\d{8}_\d{6}(_\d+)?$`)

// CleanStem strips the "answer_" prefix and the trailing timestamp extraction
// adds to a lineage file name, leaving the script stem.
func CleanStem(stem string) string {
	return answerStamp.ReplaceAllString(strings.TrimPrefix(stem, "answer_"), "")
}

// Resolve maps a lineage file stem to a script and its pipeline.
//
// The stem, raw or cleaned by CleanStem, matches a script exactly or with
// ".sql" appended. Otherwise the script with the longest name (without
// ".sql") prefixing the cleaned stem wins.
func (m *Mapping) Resolve(stem string) (script, pipeline string, ok bool) {
	clean := CleanStem(stem)
	for _, candidate := range []string{stem, stem + ".sql", clean, clean + ".sql"} {
		if p, found := m.byScript[candidate]; found {
			return candidate, p, true
		}
	}
	best := ""
	for _, s := range m.scripts {
		base := strings.TrimSuffix(s, ".sql")
		if base == "" || !strings.HasPrefix(clean, base) {
			continue
		}
		if best == "" || len(base) > len(strings.TrimSuffix(best, ".sql")) {
			best = s
		}
	}
	if best == "" {
		return "", "", false
	}
	return best, m.byScript[best], true
}

// Edge is a dependency: From depends on To.
type Edge struct {
	From string
	To   string
}

// LoadDependencies reads a {"name": ["dependency", ...]} JSON file into
// edges ordered by name and then by listing order.
func LoadDependencies(path string) ([]Edge, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from project config
	if err != nil {
		return nil, fmt.Errorf("failed to read dependencies: %w", err)
	}
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse dependencies %s: %w", path, err)
	}
	return Edges(raw), nil
}

// Edges flattens a dependency map into ordered edges.
func Edges(deps map[string][]string) []Edge {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	var edges []Edge
	for _, name := range names {
		for _, dep := range deps[name] {
			edges = append(edges, Edge{From: name, To: dep})
		}
	}
	return edges
}
