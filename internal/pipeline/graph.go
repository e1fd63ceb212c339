package pipeline

import (
	"log/slog"
	"strings"

	"github.com/leapstack-labs/leapgraph/internal/dag"
)

// BuildGraph orders scripts by their dependency edges. Edge names may omit
// the .sql extension. Edges naming unknown scripts are dropped with a warning.
func BuildGraph(scripts map[string]SQLFile, edges []Edge, logger *slog.Logger) (*dag.Graph[SQLFile], error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	g := dag.New[SQLFile]()
	for name, f := range scripts {
		g.Add(name, f)
	}

	lookup := func(name string) (string, bool) {
		if g.Has(name) {
			return name, true
		}
		if !strings.HasSuffix(name, ".sql") && g.Has(name+".sql") {
			return name + ".sql", true
		}
		return "", false
	}

	for _, e := range edges {
		from, okFrom := lookup(e.From)
		to, okTo := lookup(e.To)
		if !okFrom || !okTo {
			logger.Warn("ignoring dependency on unknown script",
				slog.String("script", e.From), slog.String("depends_on", e.To))
			continue
		}
		if err := g.Depend(from, to); err != nil {
			return nil, err
		}
	}

	if cycle := g.FindCycle(); cycle != nil {
		return nil, cycle
	}
	return g, nil
}
