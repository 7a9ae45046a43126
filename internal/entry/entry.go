// Package entry runs extension entry modules against the host runtime API.
//
// An entry module is what an extension's manifest names in its `main` field.
// Two forms exist: a Lua script shipped inside the extension's install
// directory, and a compiled-in Go entry (used by builtin extensions). Both
// are handed the same Host surface: the slot registry, the hook manager, and
// a logger scoped to the extension.
package entry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vk/plugboard/internal/hooks"
	"github.com/vk/plugboard/internal/slots"
)

// BuiltinPrefix marks a manifest `main` reference that names a compiled-in
// entry instead of a script, e.g. "builtin:base-theme".
const BuiltinPrefix = "builtin:"

// Host is the runtime API surface the host exposes to entry modules. Fields
// are swappable so a transactional reload can stage registrations into a
// scratch registry before publishing them to the live one.
type Host struct {
	Source string
	Slots  *slots.Registry
	Hooks  *hooks.Manager
	Logger *slog.Logger
}

// Entry is a compiled-in extension entry module. Activate must register the
// extension's integration with host.Hooks; slot population belongs in the
// integration's components:ready handler.
type Entry interface {
	ID() string
	Activate(ctx context.Context, host *Host) error
}

// Runtime activates entry modules by their manifest `main` reference.
type Runtime struct {
	builtins map[string]Entry
}

// NewRuntime creates a runtime knowing the given compiled-in entries.
func NewRuntime(builtins ...Entry) *Runtime {
	m := make(map[string]Entry, len(builtins))
	for _, b := range builtins {
		m[b.ID()] = b
	}
	return &Runtime{builtins: m}
}

// Activate runs the entry module referenced by main, resolved relative to
// the extension's install directory for script entries.
func (r *Runtime) Activate(ctx context.Context, host *Host, installDir, main string) error {
	if name, ok := strings.CutPrefix(main, BuiltinPrefix); ok {
		b, found := r.builtins[name]
		if !found {
			return fmt.Errorf("unknown builtin entry %q", name)
		}
		return b.Activate(ctx, host)
	}
	if strings.HasSuffix(main, ".lua") {
		return activateLua(ctx, host, installDir, main)
	}
	return fmt.Errorf("unsupported entry reference %q", main)
}
