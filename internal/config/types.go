// Package config holds the configuration defaults and checks shared by the
// CLI and the libraries it drives.
package config

import (
	"fmt"

	"github.com/leapstack-labs/leapgraph/pkg/adapter"
	"github.com/leapstack-labs/leapgraph/pkg/core"
)

// ValidateTarget checks the target type against the adapter registry.
func ValidateTarget(t *core.TargetConfig) error {
	if t == nil {
		return nil
	}
	if t.Type == "" {
		return fmt.Errorf("target type is required")
	}
	if !adapter.IsRegistered(t.Type) {
		return &adapter.UnknownAdapterError{
			Type:      t.Type,
			Available: adapter.ListAdapters(),
		}
	}
	return nil
}
