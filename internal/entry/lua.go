package entry

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Shopify/go-lua"

	"github.com/vk/plugboard/internal/hooks"
	"github.com/vk/plugboard/internal/slots"
)

// luaEntry owns one Lua state for the lifetime of an activation. Hook
// handlers registered by the script keep the state alive; the mutex
// serializes all access to it, since a lua.State is not safe for concurrent
// use.
type luaEntry struct {
	mu    sync.Mutex
	state *lua.State
	host  *Host
	hookN int
}

// activateLua runs a Lua entry script with the host API bound as globals:
//
//	slots.register(slot_id, { html = "...", priority = 0, when = "expr" })
//	slots.inject_style{ css = "...", priority = 0 }
//	log.debug / log.info / log.warn / log.error
//	register{ name = "...", hooks = { ["components:ready"] = function() ... end } }
func activateLua(ctx context.Context, host *Host, installDir, main string) error {
	scriptPath := filepath.Join(installDir, filepath.FromSlash(main))
	rel, err := filepath.Rel(installDir, scriptPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("entry script %q escapes the install directory", main)
	}

	e := &luaEntry{state: lua.NewState(), host: host}
	lua.OpenLibraries(e.state)
	e.bind()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := lua.LoadFile(e.state, scriptPath, ""); err != nil {
		return fmt.Errorf("load entry script %s: %w", main, err)
	}
	if err := e.state.ProtectedCall(0, 0, 0); err != nil {
		return fmt.Errorf("run entry script %s: %w", main, err)
	}
	return nil
}

// bind installs the host API globals into the Lua state.
func (e *luaEntry) bind() {
	l := e.state

	l.NewTable()
	l.PushGoFunction(e.luaSlotRegister)
	l.SetField(-2, "register")
	l.PushGoFunction(e.luaInjectStyle)
	l.SetField(-2, "inject_style")
	l.SetGlobal("slots")

	l.NewTable()
	for _, level := range []string{"debug", "info", "warn", "error"} {
		level := level
		l.PushGoFunction(func(l *lua.State) int {
			msg := lua.CheckString(l, 1)
			logger := e.host.Logger
			switch level {
			case "debug":
				logger.Debug(msg)
			case "info":
				logger.Info(msg)
			case "warn":
				logger.Warn(msg)
			case "error":
				logger.Error(msg)
			}
			return 0
		})
		l.SetField(-2, level)
	}
	l.SetGlobal("log")

	l.PushGoFunction(e.luaRegisterIntegration)
	l.SetGlobal("register")
}

// optStringField reads a string field from the table at index, or returns
// fallback when absent.
func optStringField(l *lua.State, index int, name, fallback string) string {
	l.Field(index, name)
	defer l.Pop(1)
	if l.IsNil(-1) {
		return fallback
	}
	s, ok := l.ToString(-1)
	if !ok {
		return fallback
	}
	return s
}

func optIntField(l *lua.State, index int, name string, fallback int) int {
	l.Field(index, name)
	defer l.Pop(1)
	if l.IsNil(-1) {
		return fallback
	}
	n, ok := l.ToInteger(-1)
	if !ok {
		return fallback
	}
	return n
}

// luaSlotRegister implements slots.register(slot_id, spec).
func (e *luaEntry) luaSlotRegister(l *lua.State) int {
	slotID := lua.CheckString(l, 1)
	lua.CheckType(l, 2, lua.TypeTable)

	html := optStringField(l, 2, "html", "")
	if html == "" {
		lua.Errorf(l, "slots.register: 'html' is required")
		return 0
	}

	reg := slots.Registration{
		SlotID:    slotID,
		Component: slots.HTML(html),
		Source:    e.host.Source,
		Priority:  optIntField(l, 2, "priority", 0),
	}

	if when := optStringField(l, 2, "when", ""); when != "" {
		cond, err := slots.ExprCondition(when)
		if err != nil {
			lua.Errorf(l, "slots.register: %s", err.Error())
			return 0
		}
		reg.Condition = cond
	}

	if err := e.host.Slots.Register(reg); err != nil {
		lua.Errorf(l, "slots.register: %s", err.Error())
		return 0
	}
	return 0
}

// luaInjectStyle implements slots.inject_style{ css = ..., priority = ... }.
func (e *luaEntry) luaInjectStyle(l *lua.State) int {
	lua.CheckType(l, 1, lua.TypeTable)

	css := optStringField(l, 1, "css", "")
	if css == "" {
		lua.Errorf(l, "slots.inject_style: 'css' is required")
		return 0
	}

	err := e.host.Slots.InjectStyle(slots.StyleInjection{
		Source:   e.host.Source,
		CSS:      css,
		Priority: optIntField(l, 1, "priority", 0),
	})
	if err != nil {
		lua.Errorf(l, "slots.inject_style: %s", err.Error())
	}
	return 0
}

// luaRegisterIntegration implements register{ name = ..., hooks = {...} }.
// Hook functions are parked in Lua globals so Go handlers can call back into
// the state later without holding stack references.
func (e *luaEntry) luaRegisterIntegration(l *lua.State) int {
	lua.CheckType(l, 1, lua.TypeTable)

	name := optStringField(l, 1, "name", e.host.Source)
	handlers := make(map[string]hooks.HandlerFunc)

	l.Field(1, "hooks")
	if l.TypeOf(-1) == lua.TypeTable {
		l.PushNil()
		for l.Next(-2) {
			// key at -2, value at -1
			hookName, keyOK := l.ToString(-2)
			if !keyOK || !l.IsFunction(-1) {
				l.Pop(1)
				continue
			}
			e.hookN++
			global := fmt.Sprintf("__plugboard_hook_%s_%d", e.host.Source, e.hookN)
			l.PushValue(-1)
			l.SetGlobal(global)
			handlers[hookName] = e.hookHandler(global)
			l.Pop(1)
		}
	}
	l.Pop(1)

	if err := e.host.Hooks.Register(hooks.Integration{Name: name, Source: e.host.Source, Handlers: handlers}); err != nil {
		lua.Errorf(l, "register: %s", err.Error())
	}
	return 0
}

// hookHandler returns a Go handler that invokes the Lua function parked
// under the given global name.
func (e *luaEntry) hookHandler(global string) hooks.HandlerFunc {
	return func(ctx context.Context) error {
		e.mu.Lock()
		defer e.mu.Unlock()

		e.state.Global(global)
		if !e.state.IsFunction(-1) {
			e.state.Pop(1)
			return fmt.Errorf("hook handler %s is gone", global)
		}
		if err := e.state.ProtectedCall(0, 0, 0); err != nil {
			return fmt.Errorf("lua hook handler: %w", err)
		}
		return nil
	}
}
