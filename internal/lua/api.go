package lua

import (
	"os"
	"time"

	luar "github.com/yuin/gopher-lua"

	"github.com/botster/hub/internal/hub"
)

// registerAPI installs the sandboxed globals every module sees: log, timer,
// fs, events, hub, hooks, and state. Host-side capabilities (listing agents,
// closing one) are reached only through the hub.* table, never by exposing
// Go internals directly to Lua.
func (r *Runtime) registerAPI() {
	r.L.SetGlobal("log", r.buildLogTable())
	r.L.SetGlobal("timer", r.buildTimerTable())
	r.L.SetGlobal("fs", r.buildFSTable())
	r.L.SetGlobal("events", r.buildEventsTable())
	r.L.SetGlobal("hub", r.buildHubTable())

	r.L.SetGlobal("hooks", r.L.NewFunction(func(L *luar.LState) int {
		event := L.CheckString(1)
		name := L.CheckString(2)
		fn := L.CheckFunction(3)
		priority := 0
		enabled := true
		if L.GetTop() >= 4 {
			priority = L.CheckInt(4)
		}
		if L.GetTop() >= 5 {
			enabled = L.ToBool(5)
		}
		r.hooks.Register(event, name, fn, priority, enabled)
		return 0
	}))

	r.L.SetGlobal("state", r.L.NewFunction(func(L *luar.LState) int {
		key := L.CheckString(1)
		L.Push(r.registry.Get(L, key))
		return 1
	}))
}

func (r *Runtime) buildLogTable() *luar.LTable {
	t := r.L.NewTable()
	level := func(fn func(string, ...any)) luar.LGFunction {
		return func(L *luar.LState) int {
			msg := L.CheckString(1)
			fn(msg)
			return 0
		}
	}
	t.RawSetString("info", r.L.NewFunction(level(func(msg string, _ ...any) { r.logger.Info(msg) })))
	t.RawSetString("warn", r.L.NewFunction(level(func(msg string, _ ...any) { r.logger.Warn(msg) })))
	t.RawSetString("error", r.L.NewFunction(level(func(msg string, _ ...any) { r.logger.Error(msg) })))
	return t
}

func (r *Runtime) buildTimerTable() *luar.LTable {
	t := r.L.NewTable()
	t.RawSetString("after", r.L.NewFunction(func(L *luar.LState) int {
		seconds := L.CheckNumber(1)
		fn := L.CheckFunction(2)
		id := r.timers.After(time.Duration(float64(seconds)*float64(time.Second)), fn)
		L.Push(luar.LNumber(id))
		return 1
	}))
	t.RawSetString("cancel", r.L.NewFunction(func(L *luar.LState) int {
		id := uint64(L.CheckNumber(1))
		L.Push(luar.LBool(r.timers.Cancel(id)))
		return 1
	}))
	return t
}

func (r *Runtime) buildFSTable() *luar.LTable {
	t := r.L.NewTable()
	t.RawSetString("exists", r.L.NewFunction(func(L *luar.LState) int {
		_, err := os.Stat(L.CheckString(1))
		L.Push(luar.LBool(err == nil))
		return 1
	}))
	t.RawSetString("is_dir", r.L.NewFunction(func(L *luar.LState) int {
		info, err := os.Stat(L.CheckString(1))
		L.Push(luar.LBool(err == nil && info.IsDir()))
		return 1
	}))
	return t
}

func (r *Runtime) buildEventsTable() *luar.LTable {
	t := r.L.NewTable()
	t.RawSetString("on", r.L.NewFunction(func(L *luar.LState) int {
		topic := L.CheckString(1)
		fn := L.CheckFunction(2)
		r.events.On(topic, fn)
		return 0
	}))
	return t
}

// buildHubTable exposes the subset of host actions a plugin may trigger,
// each pushing a hub.HubAction onto Runtime.Actions() for the owning
// goroutine to apply — the runtime never calls into *hub.Hub directly.
func (r *Runtime) buildHubTable() *luar.LTable {
	t := r.L.NewTable()

	t.RawSetString("close_agent", r.L.NewFunction(func(L *luar.LState) int {
		sessionKey := L.CheckString(1)
		deleteWorktree := false
		if L.GetTop() >= 2 {
			deleteWorktree = L.ToBool(2)
		}
		r.emit(hub.CloseAgentAction(sessionKey, deleteWorktree))
		return 0
	}))

	t.RawSetString("select_agent", r.L.NewFunction(func(L *luar.LState) int {
		r.emit(hub.SelectByKeyAction(L.CheckString(1)))
		return 0
	}))

	t.RawSetString("list_agent_keys", r.L.NewFunction(func(L *luar.LState) int {
		keys := r.deps.ListAgentKeys()
		out := L.NewTable()
		for _, k := range keys {
			out.Append(luar.LString(k))
		}
		L.Push(out)
		return 1
	}))

	return t
}
