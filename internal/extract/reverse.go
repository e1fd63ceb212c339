package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/leapgraph/internal/llm"
	"github.com/leapstack-labs/leapgraph/pkg/core"
)

// ReconstructedSuffix is appended to the stem of reverse engineered SQL files.
const ReconstructedSuffix = ".reconstructed.sql"

// ReverseEngineer asks the model for a SQL statement that produces doc.
func ReverseEngineer(ctx context.Context, gen llm.Generator, doc *core.Document, opts llm.Options) (string, *llm.Response, error) {
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode lineage: %w", err)
	}
	prompt := strings.ReplaceAll(mustPrompt("reverse.txt"), lineagePlaceholder, string(body))

	resp, err := gen.Generate(ctx, prompt, opts)
	if err != nil {
		return "", resp, err
	}
	return stripSQLFence(resp.Text), resp, nil
}

// WriteReconstructed saves sql as <dir>/<stem>.reconstructed.sql.
func WriteReconstructed(dir, stem, sql string) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	path := filepath.Join(dir, stem+ReconstructedSuffix)
	if err := os.WriteFile(path, []byte(strings.TrimSpace(sql)+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

func stripSQLFence(text string) string {
	s := strings.TrimSpace(text)
	if i := strings.Index(s, "```sql"); i >= 0 {
		s = s[i+len("```sql"):]
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(llm.StripCodeFences(s))
}
