package platform

import (
	"fmt"
	"slices"
	"sync"

	"github.com/glinharesb/platform-go/internal/audit"
	"github.com/glinharesb/platform-go/internal/config"
)

// Factory builds a Platform from configuration. The audit logger may be nil.
//
// Factories are registered with Register, usually from init().
type Factory func(cfg config.Config, a *audit.Logger) (*Platform, error)

var (
	// registry maps backend names to factories
	registry = make(map[string]Factory)
	// registryMu guards registry
	registryMu sync.RWMutex
)

// Register makes a backend available under name, replacing any previous
// registration.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Open builds the platform registered under name.
func Open(name string, cfg config.Config, a *audit.Logger) (*Platform, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no platform backend registered as %q", name)
	}

	p, err := factory(cfg, a)
	if err != nil {
		return nil, fmt.Errorf("open %s platform: %w", name, err)
	}
	return p, nil
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
