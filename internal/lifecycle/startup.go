package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/vk/plugboard/internal/ctxlog"
	"github.com/vk/plugboard/internal/depgraph"
	"github.com/vk/plugboard/internal/manifest"
	"github.com/vk/plugboard/internal/store"
)

// EnsureBuiltin registers a compiled-in extension's record. On first run the
// builtin is recorded as enabled; afterwards its descriptive fields are kept
// current while the operator-controlled lifecycle state is preserved, so a
// disabled builtin stays disabled across restarts.
func (s *Service) EnsureBuiltin(ctx context.Context, m *manifest.Manifest) error {
	logger := ctxlog.FromContext(ctx)

	lock := s.idLock(m.ID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.store.Get(ctx, m.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		rec := recordFromManifest(m, nil)
		rec.Status = store.StatusEnabled
		rec.IsBuiltIn = true
		rec.IsVerified = true
		rec.InstalledAt = time.Now().UTC()
		rec.EnabledAt = rec.InstalledAt
		if err := s.store.Put(ctx, rec); err != nil {
			return wrapError(KindIO, "builtin", err)
		}
		logger.Info("Registered builtin extension.", "id", m.ID, "version", rec.Version)
		return nil
	case err != nil:
		return wrapError(KindIO, "builtin", err)
	}

	hostRange := ""
	if m.HostRange != nil {
		hostRange = m.HostRange.String()
	}
	existing.Name = m.Name
	existing.Version = m.Version.String()
	existing.Description = m.Description
	existing.Homepage = m.Homepage
	existing.Repository = m.Repository
	existing.HostRange = hostRange
	existing.Tags = m.Tags
	existing.Permissions = m.Permissions
	if err := s.store.UpdateMetadata(ctx, existing); err != nil {
		return wrapError(KindIO, "builtin", err)
	}
	return nil
}

// ActivateEnabled activates the entry module of every extension recorded as
// enabled, in dependency order. Called once during host startup, before the
// hook sequence runs. An extension whose activation fails is moved to the
// error state and skipped; the others still come up.
func (s *Service) ActivateEnabled(ctx context.Context) []error {
	logger := ctxlog.FromContext(ctx)

	records, err := s.store.List(ctx)
	if err != nil {
		return []error{wrapError(KindIO, "startup", err)}
	}
	var enabled []*store.Record
	byID := make(map[string]*store.Record)
	for _, rec := range records {
		if rec.Status == store.StatusEnabled {
			enabled = append(enabled, rec)
			byID[rec.ID] = rec
		}
	}
	if len(enabled) == 0 {
		return nil
	}

	graph, err := enabledGraph(enabled)
	if err != nil {
		return []error{wrapError(KindConflict, "startup", err)}
	}
	order, err := activationOrder(graph, enabled)
	if err != nil {
		return []error{wrapError(KindConflict, "startup", err)}
	}

	var errs []error
	for _, id := range order {
		rec := byID[id]
		if err := s.activateRecord(ctx, rec); err != nil {
			logger.Error("Failed to activate extension at startup.", "id", id, "error", err)
			if statusErr := s.store.SetStatus(ctx, id, store.StatusError, err.Error()); statusErr != nil {
				logger.Error("Failed to record error state.", "id", id, "error", statusErr)
			}
			errs = append(errs, err)
		}
	}
	return errs
}

func (s *Service) activateRecord(ctx context.Context, rec *store.Record) error {
	lock := s.idLock(rec.ID)
	lock.Lock()
	defer lock.Unlock()

	host := newHostFor(s, rec.ID)
	if err := s.runtime.Activate(ctx, host, rec.InstallPath, rec.Main); err != nil {
		s.teardownRuntime(ctx, rec.ID)
		return wrapError(KindRuntime, "startup", err)
	}

	s.mu.Lock()
	s.hosts[rec.ID] = host
	s.mu.Unlock()
	return nil
}

// activationOrder orders enabled extensions so dependencies activate before
// their dependents. Ids without edges keep their (sorted) listing order.
func activationOrder(graph *depgraph.Graph, enabled []*store.Record) ([]string, error) {
	var order []string
	visited := make(map[string]bool)

	var visit func(id string) error
	visit = func(id string) error {
		if visited[id] {
			return nil
		}
		visited[id] = true
		deps, err := graph.Dependencies(id)
		if err != nil {
			return err
		}
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		order = append(order, id)
		return nil
	}

	for _, rec := range enabled {
		if err := visit(rec.ID); err != nil {
			return nil, err
		}
	}
	return order, nil
}
