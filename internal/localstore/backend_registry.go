package localstore

import (
	"strings"
	"sync"
)

// BackendFactory builds a backend from a DSN. External packages register
// factories for additional schemes; built-in schemes are resolved after the
// registry so a registration can override them.
type BackendFactory func(dsn string, opts BackendOptions) (Backend, error)

// BackendOptions carries the durable backend's tunables through factories.
type BackendOptions struct {
	Version int
	Upgrade UpgradeFunc
	Logger  Logger
}

var backendRegistry = struct {
	mu        sync.RWMutex
	factories map[string]BackendFactory
}{
	factories: map[string]BackendFactory{},
}

func RegisterBackendFactory(scheme string, factory BackendFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	backendRegistry.mu.Lock()
	defer backendRegistry.mu.Unlock()
	backendRegistry.factories[scheme] = factory
}

func lookupBackendFactory(scheme string) (BackendFactory, bool) {
	scheme = normalizeScheme(scheme)
	backendRegistry.mu.RLock()
	defer backendRegistry.mu.RUnlock()
	factory, ok := backendRegistry.factories[scheme]
	return factory, ok
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
