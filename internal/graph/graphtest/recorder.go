// Package graphtest provides an in-memory graph.Executor that records the
// Cypher it receives.
package graphtest

import (
	"context"
	"strings"
	"sync"

	"github.com/leapstack-labs/leapgraph/internal/graph"
)

// Call is one recorded statement.
type Call struct {
	Mode   string // "write", "read" or "exec"
	Cypher string
	Params map[string]any
}

// Recorder implements graph.Executor. Reads are answered by OnRead and writes
// fail when FailWrite returns an error.
type Recorder struct {
	mu    sync.Mutex
	Calls []Call

	OnRead    func(cypher string, params map[string]any) ([]graph.Record, error)
	FailWrite func(cypher string, params map[string]any) error
	// Counters is returned by every successful write.
	Counters graph.Counters
}

func (r *Recorder) record(mode, cypher string, params map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, Call{Mode: mode, Cypher: cypher, Params: params})
}

// Write implements graph.Executor.
func (r *Recorder) Write(_ context.Context, cypher string, params map[string]any) (graph.Counters, error) {
	r.record("write", cypher, params)
	if r.FailWrite != nil {
		if err := r.FailWrite(cypher, params); err != nil {
			return graph.Counters{}, err
		}
	}
	return r.Counters, nil
}

// Exec implements graph.Executor.
func (r *Recorder) Exec(_ context.Context, cypher string, params map[string]any) (graph.Counters, error) {
	r.record("exec", cypher, params)
	if r.FailWrite != nil {
		if err := r.FailWrite(cypher, params); err != nil {
			return graph.Counters{}, err
		}
	}
	return r.Counters, nil
}

// Read implements graph.Executor.
func (r *Recorder) Read(_ context.Context, cypher string, params map[string]any) ([]graph.Record, error) {
	r.record("read", cypher, params)
	if r.OnRead == nil {
		return nil, nil
	}
	return r.OnRead(cypher, params)
}

// Matching returns the calls whose Cypher contains every fragment.
func (r *Recorder) Matching(fragments ...string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.Calls {
		ok := true
		for _, f := range fragments {
			if !strings.Contains(c.Cypher, f) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = nil
}

var _ graph.Executor = (*Recorder)(nil)
