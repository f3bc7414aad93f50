package adapter

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Factory constructs an unconnected adapter. A nil logger means discard.
type Factory func(*slog.Logger) Adapter

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes an adapter available under the given type name. Adapter
// implementations register themselves from init().
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// IsRegistered reports whether an adapter type name is known.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}

// ListAdapters returns the registered adapter type names, sorted.
func ListAdapters() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewAdapter instantiates the adapter named by cfg.Type. The returned
// adapter is not yet connected.
func NewAdapter(cfg Config, logger *slog.Logger) (Adapter, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("adapter type not specified")
	}

	registryMu.RLock()
	factory, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, &UnknownAdapterError{Type: cfg.Type, Available: ListAdapters()}
	}
	return factory(logger), nil
}

// UnknownAdapterError reports a target type with no registered adapter.
type UnknownAdapterError struct {
	Type      string
	Available []string
}

func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("unknown adapter type %q (available: %s); check target.type in suppress.yaml",
		e.Type, strings.Join(e.Available, ", "))
}
