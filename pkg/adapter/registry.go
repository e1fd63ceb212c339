package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Factory builds an unconnected adapter.
type Factory func(*slog.Logger) Adapter

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
	aliases    = make(map[string]string)
)

// Register adds an adapter factory under name and any aliases. Names are
// case-insensitive. Adapter packages call it from init().
func Register(name string, factory Factory, alias ...string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	name = strings.ToLower(name)
	factories[name] = factory
	for _, a := range alias {
		aliases[strings.ToLower(a)] = name
	}
}

// resolve maps a type or alias to its registered name. Callers hold registryMu.
func resolve(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[name]; ok {
		return canonical
	}
	return name
}

// Get retrieves an adapter factory by name or alias.
func Get(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := factories[resolve(name)]
	return f, ok
}

// Canonical returns the registered name for a type or alias, and whether it
// is known.
func Canonical(name string) (string, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	n := resolve(name)
	_, ok := factories[n]
	return n, ok
}

// NewAdapter creates an unconnected adapter for cfg.Type.
// A nil logger means discard.
func NewAdapter(cfg Config, logger *slog.Logger) (Adapter, error) {
	if cfg.Type == "" {
		return nil, errors.New("adapter type not specified")
	}

	factory, ok := Get(cfg.Type)
	if !ok {
		return nil, &UnknownAdapterError{
			Type:      cfg.Type,
			Available: ListAdapters(),
		}
	}
	return factory(logger), nil
}

// Open creates the adapter for cfg.Type and connects it.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Adapter, error) {
	adp, err := NewAdapter(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := adp.Connect(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to connect to %s warehouse: %w", cfg.Type, err)
	}
	return adp, nil
}

// ListAdapters returns all registered adapter names (sorted). Aliases are
// not included.
func ListAdapters() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if an adapter type or alias is registered.
func IsRegistered(name string) bool {
	_, ok := Canonical(name)
	return ok
}

// UnknownAdapterError is returned when an unknown adapter type is requested.
type UnknownAdapterError struct {
	Type      string
	Available []string
}

func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("unknown adapter type %q\nAvailable adapters: %v\nHint: Check your target.type in leapgraph.yaml", e.Type, e.Available)
}
