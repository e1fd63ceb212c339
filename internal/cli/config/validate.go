package config

import (
	"fmt"
	"net/url"
	"slices"

	sharedcfg "github.com/leapstack-labs/leapgraph/internal/config"
	"github.com/leapstack-labs/leapgraph/internal/openlineage"
)

var graphSchemes = []string{"bolt", "bolt+s", "bolt+ssc", "neo4j", "neo4j+s", "neo4j+ssc"}

var graphFlavors = []string{"memgraph", "neo4j"}

// Validate checks the target type is registered, the OpenLineage transport
// is known and the graph URI and flavor are usable.
func (c *Config) Validate() error {
	if err := sharedcfg.ValidateTarget(c.Target); err != nil {
		return fmt.Errorf("invalid target configuration: %w", err)
	}

	if t := c.OpenLineage.Transport.Type; t != "" && !slices.Contains(openlineage.TransportTypes, t) {
		return fmt.Errorf("unknown openlineage transport %q (expected one of %v)", t, openlineage.TransportTypes)
	}

	u, err := url.Parse(c.Graph.URI)
	if err != nil {
		return fmt.Errorf("invalid graph uri %q: %w", c.Graph.URI, err)
	}
	if !slices.Contains(graphSchemes, u.Scheme) {
		return fmt.Errorf("invalid graph uri %q: scheme must be one of %v", c.Graph.URI, graphSchemes)
	}

	if c.Graph.Flavor != "" && !slices.Contains(graphFlavors, c.Graph.Flavor) {
		return fmt.Errorf("unknown graph flavor %q (expected memgraph or neo4j)", c.Graph.Flavor)
	}
	return nil
}
