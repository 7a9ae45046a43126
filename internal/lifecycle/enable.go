package lifecycle

import (
	"context"
	"errors"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/vk/plugboard/internal/ctxlog"
	"github.com/vk/plugboard/internal/depgraph"
	"github.com/vk/plugboard/internal/hooks"
	"github.com/vk/plugboard/internal/manifest"
	"github.com/vk/plugboard/internal/store"
)

// Enable activates an installed extension: it verifies that every declared
// dependency is already enabled at a satisfying version, runs the entry
// module against the live registries, and transitions the record to Enabled.
// Enabling an already enabled extension is a no-op.
func (s *Service) Enable(ctx context.Context, id string) error {
	lock := s.idLock(id)
	lock.Lock()
	defer lock.Unlock()
	return s.enableLocked(ctx, id)
}

func (s *Service) enableLocked(ctx context.Context, id string) error {
	logger := ctxlog.FromContext(ctx)

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(KindConflict, "enable", "extension %q is not installed", id)
		}
		return wrapError(KindIO, "enable", err)
	}

	switch rec.Status {
	case store.StatusEnabled:
		return nil
	case store.StatusInstalled, store.StatusDisabled:
	case store.StatusError:
		return newError(KindConflict, "enable",
			"extension %q is in the error state; retry it first (last error: %s)", id, rec.LastError)
	default:
		return newError(KindConflict, "enable",
			"extension %q cannot be enabled from state %q", id, rec.Status)
	}

	warning, compatErr := s.checkCompatibility("enable", id, rec.HostRange)
	if compatErr != nil {
		return compatErr
	}
	if warning != "" {
		logger.Warn("Enabling despite host range mismatch.", "id", id, "hostRange", rec.HostRange)
	}

	if err := s.checkDependenciesEnabled(ctx, rec); err != nil {
		return err
	}

	host := newHostFor(s, id)
	if err := s.runtime.Activate(ctx, host, rec.InstallPath, rec.Main); err != nil {
		s.teardownRuntime(ctx, id)
		if statusErr := s.store.SetStatus(ctx, id, store.StatusError, err.Error()); statusErr != nil {
			logger.Error("Failed to record error state.", "id", id, "error", statusErr)
		}
		return wrapError(KindRuntime, "enable", err)
	}

	// Extensions enabled after startup get the full hook sequence replayed
	// for their own integrations. A failing handler is isolated: the
	// extension stays enabled and the failure is logged by the manager.
	if s.started.Load() {
		if err := s.hooks.RunStartupForSource(ctx, id); err != nil {
			logger.Warn("Startup hook replay failed.", "id", id, "error", err)
		}
	}

	if err := s.store.SetStatus(ctx, id, store.StatusEnabled, ""); err != nil {
		s.teardownRuntime(ctx, id)
		return wrapError(KindIO, "enable", err)
	}

	s.mu.Lock()
	s.hosts[id] = host
	s.mu.Unlock()

	logger.Info("Enabled extension.", "id", id, "version", rec.Version)
	return nil
}

// checkDependenciesEnabled verifies every declared dependency against the
// set of currently enabled records, including its version range.
func (s *Service) checkDependenciesEnabled(ctx context.Context, rec *store.Record) error {
	if len(rec.Dependencies) == 0 {
		return nil
	}
	records, err := s.store.List(ctx)
	if err != nil {
		return wrapError(KindIO, "enable", err)
	}
	enabled := make(map[string]*store.Record)
	for _, r := range records {
		if r.Status == store.StatusEnabled {
			enabled[r.ID] = r
		}
	}

	for _, raw := range rec.Dependencies {
		dep, err := manifest.ParseDependency(raw)
		if err != nil {
			return newError(KindValidation, "enable",
				"extension %q declares malformed dependency %q", rec.ID, raw)
		}
		target, ok := enabled[dep.ID]
		if !ok {
			return newError(KindConflict, "enable",
				"extension %q requires %q, which is not enabled", rec.ID, dep.ID)
		}
		if dep.Range == nil {
			continue
		}
		v, err := semver.NewVersion(target.Version)
		if err != nil {
			return newError(KindConflict, "enable",
				"extension %q requires %q, whose recorded version %q is unreadable", rec.ID, dep.ID, target.Version)
		}
		if !dep.Range.Check(v) {
			return newError(KindConflict, "enable",
				"extension %q requires %s, but %s is enabled", rec.ID, raw, target.Version)
		}
	}
	return nil
}

// Disable deactivates an enabled extension: its app:destroy hook fires, its
// slot registrations and integration are removed, and the record moves to
// Disabled. When other enabled extensions depend on it, the call fails with
// a conflict unless cascade is set, in which case dependents are disabled
// first, farthest dependents leading.
func (s *Service) Disable(ctx context.Context, id string, cascade bool) error {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(KindConflict, "disable", "extension %q is not installed", id)
		}
		return wrapError(KindIO, "disable", err)
	}
	if rec.Status == store.StatusDisabled {
		return nil
	}
	if rec.Status != store.StatusEnabled {
		return newError(KindConflict, "disable",
			"extension %q cannot be disabled from state %q", id, rec.Status)
	}

	records, err := s.store.List(ctx)
	if err != nil {
		return wrapError(KindIO, "disable", err)
	}
	var enabledRecords []*store.Record
	for _, r := range records {
		if r.Status == store.StatusEnabled {
			enabledRecords = append(enabledRecords, r)
		}
	}
	graph, err := enabledGraph(enabledRecords)
	if err != nil {
		return wrapError(KindConflict, "disable", err)
	}

	dependents, err := graph.TransitiveDependents(id)
	if err != nil {
		return wrapError(KindConflict, "disable", err)
	}
	if len(dependents) > 0 && !cascade {
		sort.Strings(dependents)
		return newError(KindConflict, "disable",
			"extension %q is required by enabled extension(s) %v", id, dependents)
	}

	visited := make(map[string]bool)
	return s.disableCascade(ctx, graph, id, visited)
}

// disableCascade disables id after recursively disabling its direct enabled
// dependents, so nothing is ever left enabled with a disabled dependency.
func (s *Service) disableCascade(ctx context.Context, graph *depgraph.Graph, id string, visited map[string]bool) error {
	if visited[id] {
		return nil
	}
	visited[id] = true

	dependents, err := graph.Dependents(id)
	if err != nil {
		return wrapError(KindConflict, "disable", err)
	}
	for _, dep := range dependents {
		if err := s.disableCascade(ctx, graph, dep, visited); err != nil {
			return err
		}
	}
	return s.disableOne(ctx, id)
}

func (s *Service) disableOne(ctx context.Context, id string) error {
	logger := ctxlog.FromContext(ctx)

	lock := s.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return wrapError(KindIO, "disable", err)
	}
	if rec.Status != store.StatusEnabled {
		return nil
	}

	s.teardownRuntime(ctx, id)

	if err := s.store.SetStatus(ctx, id, store.StatusDisabled, ""); err != nil {
		return wrapError(KindIO, "disable", err)
	}
	logger.Info("Disabled extension.", "id", id)
	return nil
}

// teardownRuntime removes every live trace of an extension from the host:
// its shutdown hooks fire, then every integration it registered (under
// whatever names) and its slot registrations go.
func (s *Service) teardownRuntime(ctx context.Context, id string) {
	logger := ctxlog.FromContext(ctx)

	for _, name := range s.hooks.NamesBySource(id) {
		if err := s.hooks.FireFor(ctx, name, hooks.AppDestroy); err != nil {
			logger.Warn("Shutdown hook failed during teardown.", "id", id, "integration", name, "error", err)
		}
	}
	if removed := s.hooks.UnregisterBySource(id); removed > 0 {
		logger.Debug("Removed integrations.", "id", id, "count", removed)
	}
	if removed := s.slots.UnregisterBySource(id); removed > 0 {
		logger.Debug("Removed slot registrations.", "id", id, "count", removed)
	}

	s.mu.Lock()
	delete(s.hosts, id)
	s.mu.Unlock()
}
