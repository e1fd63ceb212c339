// Package identifier normalizes the table and column identifiers found in
// lineage documents.
//
// Models describe sources in several shapes: schema.table.column, table.column,
// quoted CSV paths, read_csv(...) calls and file.<column> placeholders for COPY
// statements. Every function here maps one of those shapes onto the
// schema/table/column triple used as graph keys.
package identifier

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapgraph/pkg/core"
)

// Default schema names used when an identifier carries none.
const (
	DefaultSchema     = "main"
	FileRootSchema    = "file_root"
	FileSourcesSchema = "file_sources"
	CSVFilesSchema    = "csv_files"
	FileContentColumn = "file_content"
	UnknownTable      = "unknown_source_table"
	filePlaceholder   = "file."
)

// ErrInvalidIdentifier is returned when an identifier cannot be split into
// schema, table and column.
var ErrInvalidIdentifier = errors.New("invalid identifier format")

var (
	readCSVPattern    = regexp.MustCompile(`read_csv\(['"](.+?\.csv)['"]`)
	quotedFilePattern = regexp.MustCompile(`(?i)^"(.+)\.(csv|txt|dat)"$`)
)

// FileSource is a parsed FILE entry of a document's sources summary.
type FileSource struct {
	Schema   string
	Table    string
	FullName string
}

// ParseFilePath turns a raw file path into schema (the directory, dotted),
// table (the base name) and full name. Files without a directory land in the
// file_root schema.
func ParseFilePath(p string) (schema, table, full string, ok bool) {
	if p == "" {
		return "", "", "", false
	}
	norm := strings.ReplaceAll(p, `\`, "/")
	table = path.Base(norm)
	dir := path.Dir(norm)
	if dir == "." || dir == "" {
		schema = FileRootSchema
	} else {
		schema = strings.ReplaceAll(dir, "/", ".")
	}
	if table == "" || table == "/" || table == "." {
		return "", "", "", false
	}
	return schema, table, schema + "." + table, true
}

// ParseFileSource parses the first FILE entry of a document with a usable
// path. Entries whose path does not parse are passed over.
func ParseFileSource(doc *core.Document) (*FileSource, bool) {
	for _, src := range doc.FileSources() {
		if schema, table, full, ok := ParseFilePath(src.Name); ok {
			return &FileSource{Schema: schema, Table: table, FullName: full}, true
		}
	}
	return nil, false
}

// RewriteReadCSV converts a read_csv('dir/file.csv') source name into the
// quoted dotted form "dir.file.csv". Names without a read_csv call are
// returned unchanged with ok=false.
func RewriteReadCSV(name string) (string, bool) {
	m := readCSVPattern.FindStringSubmatch(name)
	if m == nil {
		return name, false
	}
	norm := strings.TrimLeft(strings.ReplaceAll(m[1], `\`, "/"), "/")
	norm = strings.TrimSuffix(norm, path.Ext(norm))
	return `"` + strings.ReplaceAll(norm, "/", ".") + `.csv"`, true
}

// RewriteDocumentSources applies RewriteReadCSV to every source summary name
// and reports how many were rewritten.
func RewriteDocumentSources(doc *core.Document) int {
	n := 0
	for i := range doc.SourcesSummary {
		if rewritten, ok := RewriteReadCSV(doc.SourcesSummary[i].Name); ok {
			doc.SourcesSummary[i].Name = rewritten
			n++
		}
	}
	return n
}

// NormalizeTableName returns name in schema.table form.
//
// Quoted file paths ("dir/sub/file.csv") become dir.sub.file with dots inside
// path elements replaced by underscores. Names that already contain a dot are
// kept as they are, and bare names are placed in the main schema.
func NormalizeTableName(name string) string {
	if name == "" {
		return ""
	}

	if m := quotedFilePattern.FindStringSubmatch(name); m != nil {
		parts := strings.Split(strings.ReplaceAll(m[1], `\`, "/"), "/")
		table := strings.ReplaceAll(parts[len(parts)-1], ".", "_")
		schema := FileSourcesSchema
		if len(parts) > 1 {
			schemaParts := make([]string, 0, len(parts)-1)
			for _, p := range parts[:len(parts)-1] {
				schemaParts = append(schemaParts, strings.ReplaceAll(p, ".", "_"))
			}
			schema = strings.Join(schemaParts, ".")
		}
		return schema + "." + table
	}

	if strings.Contains(name, ".") {
		return name
	}
	return DefaultSchema + "." + name
}

// SplitQualified splits a normalized table name on its first dot.
func SplitQualified(full string) (schema, table string, ok bool) {
	schema, table, ok = strings.Cut(full, ".")
	if !ok || schema == "" || table == "" {
		return "", "", false
	}
	return schema, table, true
}

// ParseIdentifier splits a source identifier into schema, table and column.
//
// When file is non-nil, a two-part file.<col> placeholder resolves to the file
// source's schema and table. Two-part identifiers otherwise assume the main
// schema. Quoted CSV paths resolve to their directory and file name with the
// synthetic file_content column.
func ParseIdentifier(id string, file *FileSource) (schema, table, column string, err error) {
	parts := strings.Split(id, ".")

	if file != nil && strings.HasPrefix(id, filePlaceholder) && len(parts) == 2 {
		return file.Schema, file.Table, parts[1], nil
	}

	switch len(parts) {
	case 3:
		return parts[0], parts[1], parts[2], nil
	case 2:
		return DefaultSchema, parts[0], parts[1], nil
	}

	if strings.HasPrefix(id, `"`) && strings.HasSuffix(id, `.csv"`) {
		clean := strings.Trim(id, `"`)
		parts = strings.Split(clean, ".")
		if len(parts) >= 2 {
			table = parts[len(parts)-2]
			schema = CSVFilesSchema
			if len(parts) > 2 {
				schema = strings.Join(parts[:len(parts)-2], ".")
			}
			return schema, table, FileContentColumn, nil
		}
	}

	return "", "", "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
}

// IsFilePlaceholder reports whether id is a file.<column> placeholder.
func IsFilePlaceholder(id string) bool {
	return strings.HasPrefix(id, filePlaceholder)
}

// ParseLineageField splits a source identifier the way OpenLineage column
// lineage facets expect: everything before the last dot is the dataset name.
func ParseLineageField(id string) (table, field string) {
	parts := strings.Split(id, ".")
	switch len(parts) {
	case 1:
		return UnknownTable, parts[0]
	case 2:
		return parts[0], parts[1]
	default:
		return strings.Join(parts[:len(parts)-1], "."), parts[len(parts)-1]
	}
}

// DocumentTables returns the normalized, deduplicated and sorted names of the
// target table and every summarized source of doc.
func DocumentTables(doc *core.Document) []string {
	seen := make(map[string]struct{})
	add := func(name string) {
		if n := NormalizeTableName(name); n != "" {
			seen[n] = struct{}{}
		}
	}
	add(doc.TargetTable)
	for _, s := range doc.SourcesSummary {
		add(s.Name)
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
