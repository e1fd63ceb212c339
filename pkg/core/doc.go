// Package core defines the shared language of the leapgraph system.
//
// This package contains:
//   - The lineage document exchanged between extraction, loading and events
//   - Warehouse metadata types shared by adapters (AdapterConfig, TableMetadata)
//   - Persisted run records and the Store interface
//
// pkg/core imports only the standard library.
// All other packages depend on core, not the reverse.
package core
