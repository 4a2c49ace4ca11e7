package lua

import (
	"log/slog"
	"sort"
	"sync"

	luar "github.com/yuin/gopher-lua"
)

// hookEntry is one callback registered on a chain.
type hookEntry struct {
	name     string
	fn       *luar.LFunction
	priority int
	enabled  bool
}

// HookChains holds every named hook chain registered by Lua code. A chain is
// a sequence of callbacks sorted by priority (descending); each receives the
// previous callback's return value, may transform it, and a nil return drops
// the value and stops the chain early. A callback error is logged and the
// chain keeps the value from before that callback ran.
type HookChains struct {
	mu     sync.Mutex
	chains map[string][]*hookEntry
}

// NewHookChains creates an empty set of hook chains.
func NewHookChains() *HookChains {
	return &HookChains{chains: make(map[string][]*hookEntry)}
}

// Register adds or replaces (by name) a callback on event's chain.
func (h *HookChains) Register(event, name string, fn *luar.LFunction, priority int, enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := h.chains[event]
	for i, e := range entries {
		if e.name == name {
			entries[i] = &hookEntry{name: name, fn: fn, priority: priority, enabled: enabled}
			return
		}
	}
	h.chains[event] = append(entries, &hookEntry{name: name, fn: fn, priority: priority, enabled: enabled})
}

// SetEnabled toggles a registered hook without removing it.
func (h *HookChains) SetEnabled(event, name string, enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, e := range h.chains[event] {
		if e.name == name {
			e.enabled = enabled
			return
		}
	}
}

// Run threads initial through event's chain, sorted by priority descending,
// and returns whatever value survives (nil if some hook dropped it).
func (h *HookChains) Run(L *luar.LState, logger *slog.Logger, event string, initial luar.LValue) luar.LValue {
	h.mu.Lock()
	entries := make([]*hookEntry, len(h.chains[event]))
	copy(entries, h.chains[event])
	h.mu.Unlock()

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].priority > entries[j].priority })

	value := initial
	for _, e := range entries {
		if !e.enabled {
			continue
		}
		if value == luar.LNil {
			break
		}

		err := L.CallByParam(luar.P{Fn: e.fn, NRet: 1, Protect: true}, value)
		if err != nil {
			logger.Warn("lua hook callback failed, keeping previous value", "event", event, "hook", e.name, "error", hookCallbackError(e.name, err))
			continue
		}
		value = L.Get(-1)
		L.Pop(1)
	}
	return value
}
