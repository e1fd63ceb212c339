// Package state records extraction, ETL and graph load runs in SQLite.
package state

import (
	"errors"

	"github.com/leapstack-labs/leapgraph/pkg/core"
)

// Store is the run bookkeeping interface implemented by SQLiteStore.
type Store = core.Store

// ErrNotFound is returned when a run lookup matches nothing.
var ErrNotFound = errors.New("not found")

// Kinds reported in RunSummary.Kind.
const (
	KindExtraction = "extract"
	KindETL        = "run"
	KindLoad       = "load"
)

var _ Store = (*SQLiteStore)(nil)
