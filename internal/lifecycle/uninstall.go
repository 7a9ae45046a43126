package lifecycle

import (
	"context"
	"errors"
	"os"
	"sort"

	"github.com/vk/plugboard/internal/ctxlog"
	"github.com/vk/plugboard/internal/manifest"
	"github.com/vk/plugboard/internal/store"
)

// Uninstall removes an extension's files and record. The extension must not
// be enabled; disable it first. Built-in extensions cannot be uninstalled,
// and neither can an extension some other installed extension depends on.
// A failure mid-removal leaves the record in the error state for Retry.
func (s *Service) Uninstall(ctx context.Context, id string) error {
	logger := ctxlog.FromContext(ctx)

	lock := s.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(KindConflict, "uninstall", "extension %q is not installed", id)
		}
		return wrapError(KindIO, "uninstall", err)
	}
	if rec.IsBuiltIn {
		return newError(KindConflict, "uninstall", "extension %q is built in and cannot be uninstalled", id)
	}
	switch rec.Status {
	case store.StatusInstalled, store.StatusDisabled, store.StatusError:
	default:
		return newError(KindConflict, "uninstall",
			"extension %q cannot be uninstalled from state %q", id, rec.Status)
	}

	if err := s.checkNoInstalledDependents(ctx, id); err != nil {
		return err
	}

	if err := s.store.SetStatus(ctx, id, store.StatusUninstalling, ""); err != nil {
		return wrapError(KindIO, "uninstall", err)
	}

	if rec.InstallPath != "" {
		if err := os.RemoveAll(rec.InstallPath); err != nil {
			if statusErr := s.store.SetStatus(ctx, id, store.StatusError, err.Error()); statusErr != nil {
				logger.Error("Failed to record error state.", "id", id, "error", statusErr)
			}
			return wrapError(KindIO, "uninstall", err)
		}
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return wrapError(KindIO, "uninstall", err)
	}
	logger.Info("Uninstalled extension.", "id", id)
	return nil
}

// checkNoInstalledDependents rejects removal while any installed record,
// whatever its state, still declares a dependency on id.
func (s *Service) checkNoInstalledDependents(ctx context.Context, id string) error {
	records, err := s.store.List(ctx)
	if err != nil {
		return wrapError(KindIO, "uninstall", err)
	}
	var dependents []string
	for _, rec := range records {
		if rec.ID == id {
			continue
		}
		for _, raw := range rec.Dependencies {
			dep, err := manifest.ParseDependency(raw)
			if err != nil {
				continue
			}
			if dep.ID == id {
				dependents = append(dependents, rec.ID)
				break
			}
		}
	}
	if len(dependents) > 0 {
		sort.Strings(dependents)
		return newError(KindConflict, "uninstall",
			"extension %q is required by installed extension(s) %v; uninstall them first", id, dependents)
	}
	return nil
}

// Retry moves an extension out of the error state. The record returns to
// Disabled, from where it can be enabled or uninstalled again. Error state
// is never left implicitly.
func (s *Service) Retry(ctx context.Context, id string) error {
	logger := ctxlog.FromContext(ctx)

	lock := s.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(KindConflict, "retry", "extension %q is not installed", id)
		}
		return wrapError(KindIO, "retry", err)
	}
	if rec.Status != store.StatusError {
		return newError(KindConflict, "retry",
			"extension %q is in state %q, not error", id, rec.Status)
	}

	if err := s.store.SetStatus(ctx, id, store.StatusDisabled, ""); err != nil {
		return wrapError(KindIO, "retry", err)
	}
	logger.Info("Cleared error state.", "id", id, "lastError", rec.LastError)
	return nil
}
