package target

import "sync"

// memoryRegistry keeps MemoryTarget instances alive across provider
// re-initializations within one process. terraform-plugin-testing builds a
// new provider for every step, so state must outlive the provider.
var (
	memoryRegistryMu sync.Mutex
	memoryRegistry   = make(map[string]*MemoryTarget)
)

// GetOrCreateMemoryTarget returns the registered MemoryTarget called name,
// creating it on first use.
func GetOrCreateMemoryTarget(name string) *MemoryTarget {
	memoryRegistryMu.Lock()
	defer memoryRegistryMu.Unlock()

	if t, ok := memoryRegistry[name]; ok {
		return t
	}

	t := NewMemoryTarget(name)
	memoryRegistry[name] = t
	return t
}

// ResetMemoryTargets drops every registered MemoryTarget.
func ResetMemoryTargets() {
	memoryRegistryMu.Lock()
	defer memoryRegistryMu.Unlock()

	memoryRegistry = make(map[string]*MemoryTarget)
}
