package pipeline

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapgraph/internal/hashing"
	"github.com/leapstack-labs/leapgraph/pkg/core"
)

// SQLFile is a script found on disk.
type SQLFile struct {
	Name    string // base name, e.g. dim_customer.sql
	Path    string
	Content string
	Hash    string
}

// Stem returns the file name without its extension.
func (f SQLFile) Stem() string {
	return strings.TrimSuffix(f.Name, filepath.Ext(f.Name))
}

// DiscoverSQL walks dir recursively and collects every .sql file keyed by
// base name. Files that cannot be read are skipped with a warning; when two
// files share a base name the first one in walk order is kept.
func DiscoverSQL(dir string, logger *slog.Logger) (map[string]SQLFile, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to access SQL directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("SQL path %s is not a directory", dir)
	}

	files := make(map[string]SQLFile)
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("skipping unreadable path", slog.String("path", path), slog.String("error", err.Error()))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".sql") {
			return nil
		}

		content, err := os.ReadFile(path) //nolint:gosec // walking the configured SQL dir
		if err != nil {
			logger.Warn("skipping unreadable SQL file", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}

		name := d.Name()
		if prev, dup := files[name]; dup {
			logger.Warn("duplicate script name", slog.String("name", name),
				slog.String("kept", prev.Path), slog.String("ignored", path))
			return nil
		}
		files[name] = SQLFile{
			Name:    name,
			Path:    path,
			Content: string(content),
			Hash:    hashing.Content(content),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk SQL directory: %w", err)
	}

	logger.Debug("discovered SQL files", slog.String("dir", dir), slog.Int("count", len(files)))
	return files, nil
}

// SortedSQL returns the files ordered by name.
func SortedSQL(files map[string]SQLFile) []SQLFile {
	out := make([]SQLFile, 0, len(files))
	for _, f := range files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DocumentFile is a decoded lineage document and where it came from.
type DocumentFile struct {
	Path string
	Stem string
	Doc  *core.Document
}

// SkippedFile is a file LoadDocuments could not use.
type SkippedFile struct {
	Path   string
	Reason string
}

// LoadDocuments decodes every *.json file directly under dir in name order.
// Files that cannot be read or decoded are returned as skipped.
func LoadDocuments(dir string) ([]DocumentFile, []SkippedFile, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list lineage files: %w", err)
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, nil, fmt.Errorf("failed to access lineage directory: %w", err)
	}
	sort.Strings(paths)

	var (
		docs    []DocumentFile
		skipped []SkippedFile
	)
	for _, p := range paths {
		data, err := os.ReadFile(p) //nolint:gosec // listing the configured lineage dir
		if err != nil {
			skipped = append(skipped, SkippedFile{Path: p, Reason: err.Error()})
			continue
		}
		doc, err := core.ParseDocument(data)
		if err != nil {
			skipped = append(skipped, SkippedFile{Path: p, Reason: err.Error()})
			continue
		}
		base := filepath.Base(p)
		docs = append(docs, DocumentFile{
			Path: p,
			Stem: strings.TrimSuffix(base, filepath.Ext(base)),
			Doc:  doc,
		})
	}
	return docs, skipped, nil
}
