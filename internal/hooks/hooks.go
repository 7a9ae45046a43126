// Package hooks runs the fixed sequence of lifecycle events across all
// registered integrations.
//
// Hooks fire in a fixed global order: framework:ready, components:ready,
// app:start, app:started, and app:destroy on shutdown. Within one hook,
// integrations run strictly in registration order, never concurrently,
// because later integrations may depend on state established by earlier ones
// (components:ready is where extensions populate the slot registry). A
// handler that fails is isolated: it is logged and recorded, and the other
// integrations' handlers still run.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// The fixed lifecycle hook names integrations can subscribe to.
const (
	FrameworkReady  = "framework:ready"
	ComponentsReady = "components:ready"
	AppStart        = "app:start"
	AppStarted      = "app:started"
	AppDestroy      = "app:destroy"
)

// StartupSequence is the order hooks fire during host startup. AppDestroy
// fires separately on shutdown.
var StartupSequence = []string{FrameworkReady, ComponentsReady, AppStart, AppStarted}

func knownHook(name string) bool {
	switch name {
	case FrameworkReady, ComponentsReady, AppStart, AppStarted, AppDestroy:
		return true
	}
	return false
}

// HandlerFunc is one integration's handler for one hook.
type HandlerFunc func(ctx context.Context) error

// Integration is a named bundle of lifecycle hook handlers contributed by an
// extension or by the host itself.
type Integration struct {
	Name string

	// Source is the extension id that contributed the integration. An entry
	// module may register under any name, but every integration it registers
	// carries its extension's id here, so disabling the extension removes
	// all of them. Register defaults an empty Source to the Name.
	Source string

	Handlers map[string]HandlerFunc
}

type integrationState struct {
	integration Integration
	degraded    bool
	lastErr     error
}

// Manager owns the ordered list of integrations for one application
// instance. Construct one per host; there is no shared global manager.
type Manager struct {
	mu     sync.Mutex
	order  []*integrationState
	byName map[string]*integrationState
	logger *slog.Logger

	// degradeOnFailure marks an integration degraded after its first
	// failed handler, skipping its remaining hooks. This is an explicit
	// policy choice, not incidental behavior.
	degradeOnFailure bool
}

// NewManager creates an empty hook manager. When degradeOnFailure is set, an
// integration whose handler fails is skipped for all subsequent hooks until
// it is re-registered.
func NewManager(logger *slog.Logger, degradeOnFailure bool) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		byName:           make(map[string]*integrationState),
		logger:           logger,
		degradeOnFailure: degradeOnFailure,
	}
}

// Register adds an integration at the end of the firing order. A duplicate
// name is rejected rather than silently replaced, so firing order stays
// deterministic.
func (m *Manager) Register(i Integration) error {
	if i.Name == "" {
		return fmt.Errorf("integration name is required")
	}
	if i.Source == "" {
		i.Source = i.Name
	}
	for hook := range i.Handlers {
		if !knownHook(hook) {
			return fmt.Errorf("integration %q subscribes to unknown hook %q", i.Name, hook)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byName[i.Name]; exists {
		m.logger.Warn("Rejecting duplicate integration registration.", "name", i.Name)
		return fmt.Errorf("integration %q already registered", i.Name)
	}

	st := &integrationState{integration: i}
	m.byName[i.Name] = st
	m.order = append(m.order, st)
	m.logger.Debug("Registered integration.", "name", i.Name, "hooks", len(i.Handlers))
	return nil
}

// Unregister removes an integration by name. Unknown names are a no-op.
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.byName[name]
	if !ok {
		return
	}
	delete(m.byName, name)
	for idx, cur := range m.order {
		if cur == st {
			m.order = append(m.order[:idx], m.order[idx+1:]...)
			break
		}
	}
	m.logger.Debug("Unregistered integration.", "name", name)
}

// NamesBySource returns, in registration order, the names of every
// integration the given source extension registered.
func (m *Manager) NamesBySource(source string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for _, st := range m.order {
		if st.integration.Source == source {
			names = append(names, st.integration.Name)
		}
	}
	return names
}

// CollectSource returns every integration registered by the given source
// extension, in registration order.
func (m *Manager) CollectSource(source string) []Integration {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Integration
	for _, st := range m.order {
		if st.integration.Source == source {
			out = append(out, st.integration)
		}
	}
	return out
}

// UnregisterBySource removes every integration the given source extension
// registered, whatever names it chose. Returns the number removed.
func (m *Manager) UnregisterBySource(source string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.order[:0]
	removed := 0
	for _, st := range m.order {
		if st.integration.Source == source {
			delete(m.byName, st.integration.Name)
			removed++
			continue
		}
		kept = append(kept, st)
	}
	m.order = kept
	if removed > 0 {
		m.logger.Debug("Unregistered integrations.", "source", source, "count", removed)
	}
	return removed
}

// Registered reports whether an integration with the given name exists.
func (m *Manager) Registered(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byName[name]
	return ok
}

// Degraded reports whether the named integration has been marked degraded.
func (m *Manager) Degraded(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.byName[name]
	return ok && st.degraded
}

// Fire runs one hook across all integrations in registration order. Failures
// are isolated per integration and returned collectively; they never abort
// the remaining integrations.
func (m *Manager) Fire(ctx context.Context, hook string) []error {
	m.mu.Lock()
	states := make([]*integrationState, len(m.order))
	copy(states, m.order)
	m.mu.Unlock()

	var errs []error
	for _, st := range states {
		if err := m.fireOne(ctx, st, hook); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// FireFor runs one hook for a single integration, used when an extension is
// enabled after the host's startup sequence has already run.
func (m *Manager) FireFor(ctx context.Context, name, hook string) error {
	m.mu.Lock()
	st, ok := m.byName[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("integration %q not registered", name)
	}
	return m.fireOne(ctx, st, hook)
}

// RunStartup fires the full startup sequence across all integrations.
func (m *Manager) RunStartup(ctx context.Context) []error {
	var errs []error
	for _, hook := range StartupSequence {
		errs = append(errs, m.Fire(ctx, hook)...)
	}
	return errs
}

// RunStartupForSource fires the full startup sequence for every integration
// the given source extension registered, used when an extension is enabled
// after the host's own startup. A source with no integrations is a no-op.
func (m *Manager) RunStartupForSource(ctx context.Context, source string) error {
	for _, hook := range StartupSequence {
		for _, name := range m.NamesBySource(source) {
			if err := m.FireFor(ctx, name, hook); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) fireOne(ctx context.Context, st *integrationState, hook string) error {
	m.mu.Lock()
	if st.degraded {
		m.mu.Unlock()
		m.logger.Debug("Skipping degraded integration.", "name", st.integration.Name, "hook", hook)
		return nil
	}
	handler := st.integration.Handlers[hook]
	m.mu.Unlock()

	if handler == nil {
		return nil
	}

	err := runIsolated(ctx, handler)
	if err == nil {
		return nil
	}

	m.logger.Error("Integration hook handler failed.", "name", st.integration.Name, "hook", hook, "error", err)

	m.mu.Lock()
	st.lastErr = err
	if m.degradeOnFailure {
		st.degraded = true
	}
	m.mu.Unlock()

	return fmt.Errorf("integration %q, hook %s: %w", st.integration.Name, hook, err)
}

// runIsolated invokes a handler and converts a panic into an error, so one
// misbehaving integration cannot take down the hook sequence.
func runIsolated(ctx context.Context, handler HandlerFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx)
}
