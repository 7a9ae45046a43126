package lifecycle

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/vk/plugboard/internal/ctxlog"
	"github.com/vk/plugboard/internal/entry"
	"github.com/vk/plugboard/internal/hooks"
	"github.com/vk/plugboard/internal/manifest"
	"github.com/vk/plugboard/internal/slots"
	"github.com/vk/plugboard/internal/store"
)

// Reload re-activates an enabled extension from its on-disk files without
// restarting the host. The reload is transactional: the new entry module is
// staged against scratch registries, and only once it has activated cleanly
// is the old runtime state swapped out. A failed reload leaves the old
// version fully in place.
func (s *Service) Reload(ctx context.Context, id string) error {
	logger := ctxlog.FromContext(ctx)

	lock := s.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(KindConflict, "reload", "extension %q is not installed", id)
		}
		return wrapError(KindIO, "reload", err)
	}
	if rec.Status != store.StatusEnabled {
		return newError(KindConflict, "reload",
			"extension %q is not enabled (state %q)", id, rec.Status)
	}
	if rec.IsBuiltIn {
		return newError(KindConflict, "reload", "extension %q is built in and cannot be reloaded", id)
	}

	m, err := s.readInstalledManifest(rec)
	if err != nil {
		return err
	}

	if _, compatErr := s.checkManifestCompatibility("reload", m); compatErr != nil {
		return compatErr
	}

	// Stage the new entry against scratch registries. Nothing live changes
	// until the activation has fully succeeded.
	staging := &entry.Host{
		Source: id,
		Slots:  slots.NewRegistry(s.logger),
		Hooks:  hooks.NewManager(s.logger, false),
		Logger: s.logger.With("extension", id),
	}
	if err := s.runtime.Activate(ctx, staging, rec.InstallPath, m.Main); err != nil {
		return wrapError(KindRuntime, "reload", err)
	}

	regs, styles := staging.Slots.CollectSource(id)

	// Commit. The old integrations get their shutdown hooks, then the staged
	// hooks and slot registrations replace the old ones. Entry callbacks go
	// through the host's registry pointers, so repointing them at the live
	// registries makes later hook firings land in the right place.
	for _, name := range s.hooks.NamesBySource(id) {
		if err := s.hooks.FireFor(ctx, name, hooks.AppDestroy); err != nil {
			logger.Warn("Shutdown hook failed during reload.", "id", id, "integration", name, "error", err)
		}
	}
	s.hooks.UnregisterBySource(id)
	stagedIntegrations := staging.Hooks.CollectSource(id)
	staging.Slots = s.slots
	staging.Hooks = s.hooks
	for _, integration := range stagedIntegrations {
		if err := s.hooks.Register(integration); err != nil {
			return wrapError(KindRuntime, "reload", err)
		}
	}
	if err := s.slots.ReplaceSource(id, regs, styles); err != nil {
		return wrapError(KindRuntime, "reload", err)
	}

	s.mu.Lock()
	s.hosts[id] = staging
	s.mu.Unlock()

	if s.started.Load() && len(stagedIntegrations) > 0 {
		if err := s.hooks.RunStartupForSource(ctx, id); err != nil {
			logger.Warn("Startup hook replay failed after reload.", "id", id, "error", err)
		}
	}

	updated := recordFromManifest(m, nil)
	updated.InstallPath = rec.InstallPath
	updated.FileSize = rec.FileSize
	updated.Checksum = rec.Checksum
	updated.Status = rec.Status
	updated.IsBuiltIn = rec.IsBuiltIn
	updated.IsVerified = rec.IsVerified
	updated.InstalledAt = rec.InstalledAt
	updated.EnabledAt = rec.EnabledAt
	updated.UploadedBy = rec.UploadedBy
	updated.InstallNote = rec.InstallNote
	updated.DownloadCount = rec.DownloadCount
	updated.UseCount = rec.UseCount
	if err := s.store.Put(ctx, updated); err != nil {
		return wrapError(KindIO, "reload", err)
	}

	logger.Info("Reloaded extension.", "id", id, "version", updated.Version)
	return nil
}

// RefreshMetadata re-reads an installed extension's manifest and updates the
// record's descriptive fields. The running entry module, its slot
// registrations, and its lifecycle state are untouched. Used when a manifest
// edit changes nothing functional.
func (s *Service) RefreshMetadata(ctx context.Context, id string) error {
	logger := ctxlog.FromContext(ctx)

	lock := s.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(KindConflict, "refresh", "extension %q is not installed", id)
		}
		return wrapError(KindIO, "refresh", err)
	}

	m, err := s.readInstalledManifest(rec)
	if err != nil {
		return err
	}

	warning, compatErr := s.checkManifestCompatibility("refresh", m)
	if compatErr != nil {
		return compatErr
	}
	if warning != "" {
		logger.Warn("Refreshing metadata despite host range mismatch.", "id", id, "warning", warning)
	}

	hostRange := ""
	if m.HostRange != nil {
		hostRange = m.HostRange.String()
	}
	rec.Name = m.Name
	rec.Version = m.Version.String()
	rec.Description = m.Description
	rec.Homepage = m.Homepage
	rec.Repository = m.Repository
	rec.HostRange = hostRange
	rec.Tags = m.Tags
	rec.Permissions = m.Permissions
	if err := s.store.UpdateMetadata(ctx, rec); err != nil {
		return wrapError(KindIO, "refresh", err)
	}

	logger.Info("Refreshed extension metadata.", "id", id, "version", rec.Version)
	return nil
}

// readInstalledManifest parses the manifest from an extension's install
// directory and checks its id still matches the record.
func (s *Service) readInstalledManifest(rec *store.Record) (*manifest.Manifest, error) {
	if rec.InstallPath == "" {
		return nil, newError(KindValidation, "reload", "extension %q has no install directory", rec.ID)
	}
	m, problems := manifest.ParseFile(filepath.Join(rec.InstallPath, manifest.FileName))
	if len(problems) > 0 {
		return nil, newError(KindValidation, "reload",
			"extension %q manifest has %d problem(s): %s", rec.ID, len(problems), problems[0])
	}
	if m.ID != rec.ID {
		return nil, newError(KindValidation, "reload",
			"manifest in %s declares id %q, expected %q", rec.InstallPath, m.ID, rec.ID)
	}
	return m, nil
}
