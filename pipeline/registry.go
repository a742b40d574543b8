package pipeline

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Step{}
)

// Register adds a step constructor to the registry. Registering a name twice
// replaces the previous constructor.
func Register(name string, constructor func() Step) {
	registryMu.Lock()
	defer registryMu.Unlock()

	registry[name] = constructor
}

// Get returns a step by name.
func Get(name string) (Step, error) {
	registryMu.RLock()
	ctor, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return Step{}, fmt.Errorf("unknown pipeline step: %s", name)
	}

	return ctor(), nil
}

// Names returns all registered step names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}

	sort.Strings(names)

	return names
}
