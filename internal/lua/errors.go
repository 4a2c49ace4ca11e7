// Package lua embeds a Lua scripting runtime (hooks, event subscribers,
// hot-reloadable modules, filesystem-watched plugins) that the hub can use
// to extend its behavior without a rebuild.
package lua

import "fmt"

// PluginError represents a failure inside the Lua runtime: a module failed
// to load, a hook callback errored, or a plugin's lifecycle function failed.
// Per the runtime's reload semantics, a PluginError is always non-fatal to
// the hub — the prior module state is retained and the hub continues.
type PluginError struct {
	Kind   PluginErrorKind
	Module string
	Err    error
}

// PluginErrorKind identifies the kind of Lua runtime failure.
type PluginErrorKind int

const (
	ErrModuleLoad PluginErrorKind = iota
	ErrHookCallback
	ErrPluginLifecycle
)

func (e *PluginError) Error() string {
	switch e.Kind {
	case ErrModuleLoad:
		return fmt.Sprintf("loading module %q: %v", e.Module, e.Err)
	case ErrHookCallback:
		return fmt.Sprintf("hook callback in %q: %v", e.Module, e.Err)
	case ErrPluginLifecycle:
		return fmt.Sprintf("plugin lifecycle callback in %q: %v", e.Module, e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *PluginError) Unwrap() error {
	return e.Err
}

func moduleLoadError(module string, err error) *PluginError {
	return &PluginError{Kind: ErrModuleLoad, Module: module, Err: err}
}

func hookCallbackError(module string, err error) *PluginError {
	return &PluginError{Kind: ErrHookCallback, Module: module, Err: err}
}

func pluginLifecycleError(module string, err error) *PluginError {
	return &PluginError{Kind: ErrPluginLifecycle, Module: module, Err: err}
}
