package lua

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	luar "github.com/yuin/gopher-lua"

	"github.com/botster/hub/internal/hub"
)

// moduleClass distinguishes how a module may be loaded and reloaded.
type moduleClass int

const (
	// classCore modules load once at startup and are never hot-reloaded.
	classCore moduleClass = iota
	// classLib modules are hot-reloaded on file change.
	classLib
	// classPlugin modules live under a per-plugin directory that can be
	// created or removed at runtime, loading or unloading the plugin.
	classPlugin
)

// module tracks one loaded Lua file/chunk.
type module struct {
	class moduleClass
	path  string
	value luar.LValue
}

// Deps bundles the host callbacks the sandboxed API surface needs to reach
// into the rest of the hub, passed explicitly rather than the runtime
// importing internal/hub's concrete Hub type.
type Deps struct {
	ListAgentKeys func() []string
}

// Runtime is the embedded Lua VM: one *LState driven by a single goroutine
// (gopher-lua states aren't safe for concurrent use), a module table keyed
// by path (not Lua's own require/package.loaded, so reload can swap a
// module's value out from under anything holding a stale reference to the
// old one), a process-lifetime StateRegistry, hook chains, an event bus,
// and a pending-timer set.
type Runtime struct {
	L       *luar.LState
	logger  *slog.Logger
	deps    Deps
	baseDir string

	registry *StateRegistry
	hooks    *HookChains
	events   *EventBus
	timers   *Timers

	modules map[string]*module

	fired   chan timerFired
	watch   chan watchEvent
	actions chan hub.HubAction
}

// New creates a Runtime rooted at baseDir, which must contain core/, lib/,
// handlers/, and plugins/ subdirectories (missing ones are treated as
// empty).
func New(baseDir string, deps Deps, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.ListAgentKeys == nil {
		deps.ListAgentKeys = func() []string { return nil }
	}

	r := &Runtime{
		L:        luar.NewState(),
		logger:   logger,
		deps:     deps,
		baseDir:  baseDir,
		registry: NewStateRegistry(),
		hooks:    NewHookChains(),
		events:   NewEventBus(),
		modules:  make(map[string]*module),
		fired:    make(chan timerFired, 32),
		watch:    make(chan watchEvent, 32),
		actions:  make(chan hub.HubAction, 32),
	}
	r.timers = NewTimers(r.fired)
	r.registerAPI()
	return r
}

// Actions returns hub-facing actions emitted by Lua code (e.g.
// hub.close_agent). The caller is expected to apply them via
// hub.Hub.ApplyHubAction, mirroring the browser relay's event channel.
func (r *Runtime) Actions() <-chan hub.HubAction {
	return r.actions
}

// emit queues an action for the caller to apply; never blocks indefinitely
// since the channel is sized generously and the owning goroutine drains it.
func (r *Runtime) emit(a hub.HubAction) {
	select {
	case r.actions <- a:
	default:
		r.logger.Warn("lua action queue full, dropping action", "type", a.Type.String())
	}
}

// LoadAll loads every core module (in directory order, since core modules
// may depend on ones loaded earlier), then every lib/handlers module, then
// every discovered plugin. Call once at startup before Run.
func (r *Runtime) LoadAll() {
	for _, dir := range []string{"core"} {
		r.loadDir(filepath.Join(r.baseDir, dir), classCore)
	}
	for _, dir := range []string{"lib", "handlers"} {
		r.loadDir(filepath.Join(r.baseDir, dir), classLib)
	}
	r.loadPlugins()
}

func (r *Runtime) loadDir(dir string, class moduleClass) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("lua: reading module directory failed", "dir", dir, "error", err)
		}
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		r.loadModule(path, class)
	}
}

func (r *Runtime) loadPlugins() {
	pluginsDir := filepath.Join(r.baseDir, "plugins")
	entries, err := os.ReadDir(pluginsDir)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("lua: reading plugins directory failed", "error", err)
		}
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r.loadPlugin(filepath.Join(pluginsDir, entry.Name()))
	}
}

// loadPlugin loads every .lua file directly under a plugin's directory.
func (r *Runtime) loadPlugin(dir string) {
	r.loadDir(dir, classPlugin)
}

// unloadPlugin removes every module previously loaded from a plugin
// directory, deleting their StateRegistry entries too.
func (r *Runtime) unloadPlugin(dir string) {
	for path := range r.modules {
		if filepath.Dir(path) == dir {
			delete(r.modules, path)
			r.registry.Delete(path)
		}
	}
	r.logger.Info("lua plugin unloaded", "dir", dir)
}

// loadModule compiles and runs the chunk at path, calling the module's
// _before_reload (on the OLD value, if one exists) before swapping in the
// new value and _after_reload on the new one. A failure is logged as a
// PluginError and the previous module (if any) is left in place.
func (r *Runtime) loadModule(path string, class moduleClass) {
	prev := r.modules[path]
	if prev != nil {
		r.callLifecycle(prev.value, "_before_reload", path)
	}

	fn, err := r.L.LoadFile(path)
	if err != nil {
		r.logger.Error("lua module failed to load", "error", moduleLoadError(path, err))
		return
	}

	r.L.Push(fn)
	if err := r.L.PCall(0, 1, nil); err != nil {
		r.logger.Error("lua module failed to run", "error", moduleLoadError(path, err))
		return
	}

	value := r.L.Get(-1)
	r.L.Pop(1)

	r.modules[path] = &module{class: class, path: path, value: value}
	r.callLifecycle(value, "_after_reload", path)

	if prev == nil {
		r.logger.Info("lua module loaded", "path", path)
	} else {
		r.logger.Info("lua module reloaded", "path", path)
	}
}

// callLifecycle invokes a module-table field (_before_reload/_after_reload)
// if present and callable, logging (not propagating) any error.
func (r *Runtime) callLifecycle(value luar.LValue, field, path string) {
	table, ok := value.(*luar.LTable)
	if !ok {
		return
	}
	fn, ok := table.RawGetString(field).(*luar.LFunction)
	if !ok {
		return
	}
	if err := r.L.CallByParam(luar.P{Fn: fn, NRet: 0, Protect: true}, table); err != nil {
		r.logger.Warn("lua lifecycle callback failed", "error", pluginLifecycleError(path, err))
	}
}

// RunHook threads initial through event's registered hook chain.
func (r *Runtime) RunHook(event string, initial luar.LValue) luar.LValue {
	return r.hooks.Run(r.L, r.logger, event, initial)
}

// Emit fires topic to every subscriber registered via events.on.
func (r *Runtime) Emit(topic string, args ...luar.LValue) {
	r.events.Emit(r.L, r.logger, topic, args...)
}

// Run drives the single goroutine that owns r.L: filesystem watch events
// trigger reload/load/unload, fired timers invoke their callbacks, until ctx
// is cancelled.
func (r *Runtime) Run(ctx context.Context) {
	defer r.timers.StopAll()
	defer r.L.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-r.watch:
			r.handleWatchEvent(ev)

		case t := <-r.fired:
			if err := r.L.CallByParam(luar.P{Fn: t.fn, NRet: 0, Protect: true}); err != nil {
				r.logger.Warn("lua timer callback failed", "error", hookCallbackError(fmt.Sprintf("timer#%d", t.id), err))
			}
		}
	}
}

// watchEvent classifies a debounced filesystem change for handleWatchEvent.
type watchEvent struct {
	kind watchEventKind
	path string
}

type watchEventKind int

const (
	watchModuleChanged watchEventKind = iota
	watchPluginAdded
	watchPluginRemoved
)

func (r *Runtime) handleWatchEvent(ev watchEvent) {
	switch ev.kind {
	case watchModuleChanged:
		class := classLib
		if m, ok := r.modules[ev.path]; ok {
			class = m.class
		}
		r.loadModule(ev.path, class)
	case watchPluginAdded:
		r.loadPlugin(ev.path)
	case watchPluginRemoved:
		r.unloadPlugin(ev.path)
	}
}

// postWatchEvent is called by the filesystem watcher goroutine; it never
// blocks the watcher on a slow/stuck Run loop beyond the channel's buffer.
func (r *Runtime) postWatchEvent(ev watchEvent) {
	select {
	case r.watch <- ev:
	case <-time.After(time.Second):
		r.logger.Warn("lua watch event dropped, runtime busy", "path", ev.path)
	}
}
