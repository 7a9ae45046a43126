package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/vk/plugboard/internal/ctxlog"
	"github.com/vk/plugboard/internal/discovery"
	"github.com/vk/plugboard/internal/store"
)

// AdoptLocal records an extension found on disk that never went through a
// package install, e.g. a developer checkout dropped into the extensions
// directory. The record starts Installed; enabling it is a separate step.
// Adopting an id that is already recorded is a no-op.
func (s *Service) AdoptLocal(ctx context.Context, ext *discovery.Extension) error {
	logger := ctxlog.FromContext(ctx)
	m := ext.Manifest

	lock := s.idLock(m.ID)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.store.Get(ctx, m.ID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
	default:
		return wrapError(KindIO, "adopt", err)
	}

	warning, compatErr := s.checkManifestCompatibility("adopt", m)
	if compatErr != nil {
		return compatErr
	}
	if warning != "" {
		logger.Warn("Adopting despite host range mismatch.", "id", m.ID, "warning", warning)
	}

	rec := recordFromManifest(m, nil)
	rec.InstallPath = ext.Dir
	rec.Status = store.StatusInstalled
	rec.InstalledAt = time.Now().UTC()
	rec.InstallNote = "adopted from local directory"
	if err := s.store.Put(ctx, rec); err != nil {
		return wrapError(KindIO, "adopt", err)
	}
	logger.Info("Adopted local extension.", "id", m.ID, "version", rec.Version, "dir", ext.Dir)
	return nil
}
