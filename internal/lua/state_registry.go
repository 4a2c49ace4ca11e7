package lua

import (
	"sync"

	luar "github.com/yuin/gopher-lua"
)

// StateRegistry is a process-lifetime key -> table map. A reloaded module
// looks its previous state back up by key instead of losing it, and a
// "class table" registered once keeps its identity across every reload
// that follows, even as the methods assigned onto it are replaced.
type StateRegistry struct {
	mu     sync.Mutex
	tables map[string]*luar.LTable
}

// NewStateRegistry creates an empty registry.
func NewStateRegistry() *StateRegistry {
	return &StateRegistry{tables: make(map[string]*luar.LTable)}
}

// Get returns the table registered under key, creating it on first use. The
// same *LTable is returned for the lifetime of the process, so a module can
// stash fields on it that survive the module's own reload.
func (r *StateRegistry) Get(L *luar.LState, key string) *luar.LTable {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tables[key]; ok {
		return t
	}
	t := L.NewTable()
	r.tables[key] = t
	return t
}

// Delete removes a key, e.g. when a plugin is permanently unloaded.
func (r *StateRegistry) Delete(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tables, key)
}
