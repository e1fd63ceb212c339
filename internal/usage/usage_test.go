package usage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/leapgraph/internal/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMetadata(t *testing.T, dir string, meta extract.RunMetadata) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, extract.MetadataFile), data, 0o600))
}

func prompt(file string, query, answer int) extract.PromptMetadata {
	return extract.PromptMetadata{
		PromptDetails: extract.PromptDetails{SQLFileName: file},
		Usage:         &extract.Usage{QueryTokensUsed: query, AnswerTokensUsed: answer},
	}
}

func TestCollect(t *testing.T) {
	root := t.TempDir()
	writeMetadata(t, filepath.Join(root, "lineage", "1"), extract.RunMetadata{
		TemplateName:    "lineage",
		ExecutionNumber: 1,
		Prompts: []extract.PromptMetadata{
			prompt("a.sql", 100, 40),
			prompt("b.sql", 300, 10),
			{PromptDetails: extract.PromptDetails{SQLFileName: "c.sql"}},
			prompt("d.sql", 200, 40),
		},
	})
	writeMetadata(t, filepath.Join(root, "lineage", "2"), extract.RunMetadata{
		TemplateName:    "lineage",
		ExecutionNumber: 2,
	})
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.json"), []byte("{}"), 0o600))

	reports, err := Collect(root)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	first := reports[0]
	assert.Equal(t, 1, first.ExecutionNumber)
	assert.Equal(t, Stats{Count: 3, Min: 100, Max: 300, Avg: 200, Sum: 600, MinFile: "a.sql", MaxFile: "b.sql"}, first.Query)
	assert.Equal(t, Stats{Count: 3, Min: 10, Max: 40, Avg: 30, Sum: 90, MinFile: "b.sql", MaxFile: "a.sql"}, first.Answer)

	empty := reports[1]
	assert.Equal(t, 0, empty.Query.Count)
	assert.Equal(t, NotAvailable, empty.Query.MinFile)
	assert.Equal(t, NotAvailable, empty.Answer.MaxFile)
}

func TestCollect_Errors(t *testing.T) {
	_, err := Collect(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, extract.MetadataFile), []byte("{"), 0o600))
	_, err = Collect(dir)
	assert.Error(t, err)
}
