// Package extract turns SQL scripts into lineage documents by prompting a
// generative model.
//
// Template extraction renders every prompt template against every SQL file
// and archives the answers per template and execution number. The agent runs
// a three step identify, gather and analyze flow that feeds warehouse column
// lists back into the prompt.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/leapstack-labs/leapgraph/internal/hashing"
)

// Placeholder marks where a template receives the SQL text.
const Placeholder = "YOUR SQL QUERY HERE"

// ErrMissingPlaceholder is returned for templates without Placeholder.
var ErrMissingPlaceholder = errors.New("template has no " + Placeholder + " placeholder")

// Template is a prompt template read from disk.
type Template struct {
	Name    string // file name without extension
	Path    string
	Content string
	Hash    string
}

// NewTemplate validates content and builds a Template.
func NewTemplate(name, content string) (*Template, error) {
	if !strings.Contains(content, Placeholder) {
		return nil, fmt.Errorf("%s: %w", name, ErrMissingPlaceholder)
	}
	return &Template{Name: name, Content: content, Hash: hashing.String(content)}, nil
}

// Render substitutes sql for every placeholder.
func (t *Template) Render(sql string) string {
	return strings.ReplaceAll(t.Content, Placeholder, sql)
}

// LoadTemplates reads every *.txt and *.md file in dir, sorted by name.
func LoadTemplates(dir string) ([]*Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates directory: %w", err)
	}

	var templates []*Template
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".txt" && ext != ".md") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		content, err := os.ReadFile(path) //nolint:gosec // reading the configured templates dir
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", path, err)
		}
		t, err := NewTemplate(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())), string(content))
		if err != nil {
			return nil, err
		}
		t.Path = path
		templates = append(templates, t)
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].Name < templates[j].Name })
	return templates, nil
}

// NextExecutionDir creates and returns <base>/<template>/<n>, where n is one
// more than the largest numeric directory already there.
func NextExecutionDir(base, template string) (string, int, error) {
	root := filepath.Join(base, template)
	if err := os.MkdirAll(root, 0o750); err != nil {
		return "", 0, fmt.Errorf("failed to create template output dir: %w", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return "", 0, fmt.Errorf("failed to list template output dir: %w", err)
	}
	highest := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if n, err := strconv.Atoi(e.Name()); err == nil && n > highest {
			highest = n
		}
	}

	n := highest + 1
	dir := filepath.Join(root, strconv.Itoa(n))
	if err := os.Mkdir(dir, 0o750); err != nil {
		return "", 0, fmt.Errorf("failed to create execution dir: %w", err)
	}
	return dir, n, nil
}
