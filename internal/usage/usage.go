// Package usage summarizes the token accounting recorded in extraction run
// metadata.
package usage

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/leapstack-labs/leapgraph/internal/extract"
)

// NotAvailable marks a missing min or max file.
const NotAvailable = "N/A"

// Stats describes one token counter across calls.
type Stats struct {
	Count   int     `json:"count"`
	Min     int     `json:"min"`
	Max     int     `json:"max"`
	Avg     float64 `json:"avg"`
	Sum     int     `json:"sum"`
	MinFile string  `json:"min_file"`
	MaxFile string  `json:"max_file"`
}

// Report is the token usage of one execution directory.
type Report struct {
	Path            string `json:"path"`
	Template        string `json:"template"`
	ExecutionNumber int    `json:"execution_number"`
	Query           Stats  `json:"query_tokens"`
	Answer          Stats  `json:"answer_tokens"`
}

// Collect reads every run metadata file under dir, ordered by path.
func Collect(dir string) ([]Report, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == extract.MetadataFile {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	sort.Strings(paths)

	reports := make([]Report, 0, len(paths))
	for _, path := range paths {
		r, err := Read(path)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, nil
}

// Read computes the usage report of a single metadata file. Calls without
// usage information are ignored.
func Read(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var meta extract.RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	var query, answer []sample
	for _, p := range meta.Prompts {
		if p.Usage == nil {
			continue
		}
		query = append(query, sample{p.PromptDetails.SQLFileName, p.Usage.QueryTokensUsed})
		answer = append(answer, sample{p.PromptDetails.SQLFileName, p.Usage.AnswerTokensUsed})
	}

	return &Report{
		Path:            path,
		Template:        meta.TemplateName,
		ExecutionNumber: meta.ExecutionNumber,
		Query:           compute(query),
		Answer:          compute(answer),
	}, nil
}

type sample struct {
	file   string
	tokens int
}

// compute keeps the first file on ties for min and max.
func compute(samples []sample) Stats {
	if len(samples) == 0 {
		return Stats{MinFile: NotAvailable, MaxFile: NotAvailable}
	}
	s := Stats{
		Count:   len(samples),
		Min:     samples[0].tokens,
		Max:     samples[0].tokens,
		MinFile: samples[0].file,
		MaxFile: samples[0].file,
	}
	for _, x := range samples {
		s.Sum += x.tokens
		if x.tokens < s.Min {
			s.Min, s.MinFile = x.tokens, x.file
		}
		if x.tokens > s.Max {
			s.Max, s.MaxFile = x.tokens, x.file
		}
	}
	s.Avg = float64(s.Sum) / float64(s.Count)
	return s
}
