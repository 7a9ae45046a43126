package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/vk/plugboard/internal/archive"
	"github.com/vk/plugboard/internal/ctxlog"
	"github.com/vk/plugboard/internal/fsutil"
	"github.com/vk/plugboard/internal/manifest"
	"github.com/vk/plugboard/internal/store"
)

// InstallRequest describes one package installation.
type InstallRequest struct {
	// Archive is the path of the uploaded zip package.
	Archive string

	// ExtensionType, when set, must match the manifest's declared type.
	ExtensionType string

	// AutoEnable enables the extension right after a successful install.
	// An enable failure does not fail the install; it becomes a warning.
	AutoEnable bool

	// OverrideExisting allows replacing an already installed extension of
	// the same id. Without it a same-id install is a conflict.
	OverrideExisting bool

	InstallNote string
	UploadedBy  string
}

// InstallResult is the structured outcome of an install attempt.
type InstallResult struct {
	Success     bool
	ExtensionID string
	Version     string
	InstallPath string
	Enabled     bool
	Warnings    []string
	Errors      []string
	InstalledAt time.Time
}

// Install validates, extracts, and records a packaged extension. Extraction
// is crash-atomic: the package is unpacked into a hidden staging directory
// and renamed into place only once complete, so a crash mid-install leaves
// either the previous installation or nothing. Installs of the same id are
// serialized; different ids proceed in parallel.
func (s *Service) Install(ctx context.Context, req InstallRequest) (*InstallResult, error) {
	logger := ctxlog.FromContext(ctx)
	result := &InstallResult{}

	fail := func(err *Error) (*InstallResult, error) {
		result.Errors = append(result.Errors, err.Err.Error())
		return result, err
	}

	info, err := archive.Inspect(req.Archive)
	if err != nil {
		return fail(wrapError(KindValidation, "install", err))
	}

	m, problems := manifest.Parse(manifest.FileName, info.ManifestSrc)
	if len(problems) > 0 {
		result.Errors = append(result.Errors, problems...)
		return result, newError(KindValidation, "install", "manifest has %d problem(s): %s", len(problems), problems[0])
	}
	if req.ExtensionType != "" && string(m.Type) != req.ExtensionType {
		return fail(newError(KindValidation, "install",
			"package declares type %q, expected %q", m.Type, req.ExtensionType))
	}

	warning, compatErr := s.checkManifestCompatibility("install", m)
	if compatErr != nil {
		return fail(compatErr)
	}
	if warning != "" {
		result.Warnings = append(result.Warnings, warning)
	}

	result.ExtensionID = m.ID
	result.Version = m.Version.String()

	lock := s.idLock(m.ID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.store.Get(ctx, m.ID)
	switch {
	case err == nil:
		if existing.IsBuiltIn {
			return fail(newError(KindConflict, "install",
				"extension %q is built in and cannot be replaced", m.ID))
		}
		if !req.OverrideExisting {
			return fail(newError(KindConflict, "install",
				"extension %q is already installed (version %s)", m.ID, existing.Version))
		}
		if existing.Status == store.StatusEnabled {
			return fail(newError(KindConflict, "install",
				"extension %q is enabled; disable it before reinstalling", m.ID))
		}
	case errors.Is(err, store.ErrNotFound):
		existing = nil
	default:
		return fail(wrapError(KindIO, "install", err))
	}

	if err := os.MkdirAll(s.extensionsDir, 0o755); err != nil {
		return fail(wrapError(KindIO, "install", err))
	}

	staging := filepath.Join(s.extensionsDir, ".staging-"+uuid.NewString())
	if err := archive.Extract(ctx, req.Archive, staging); err != nil {
		os.RemoveAll(staging)
		return fail(wrapError(KindIO, "install", err))
	}

	final := filepath.Join(s.extensionsDir, m.ID)
	var oldAside string
	if existing != nil {
		oldAside = filepath.Join(s.extensionsDir, ".old-"+uuid.NewString())
		if err := os.Rename(final, oldAside); err != nil && !errors.Is(err, os.ErrNotExist) {
			os.RemoveAll(staging)
			return fail(wrapError(KindIO, "install", err))
		}
	}
	if err := fsutil.PublishDir(staging, final); err != nil {
		os.RemoveAll(staging)
		if oldAside != "" {
			if restoreErr := os.Rename(oldAside, final); restoreErr != nil {
				logger.Error("Failed to restore previous installation.", "id", m.ID, "error", restoreErr)
			}
		}
		return fail(wrapError(KindIO, "install", err))
	}

	now := time.Now().UTC()
	rec := recordFromManifest(m, existing)
	rec.InstallPath = final
	rec.FileSize = info.Size
	rec.Checksum = info.Checksum
	rec.Status = store.StatusInstalled
	rec.InstalledAt = now
	rec.UploadedBy = req.UploadedBy
	rec.InstallNote = req.InstallNote

	if err := s.store.Put(ctx, rec); err != nil {
		// The new files are on disk but the record is not. Remove them and,
		// on an override, put the previous installation back so the existing
		// record keeps pointing at real files.
		os.RemoveAll(final)
		if oldAside != "" {
			if restoreErr := os.Rename(oldAside, final); restoreErr != nil {
				logger.Error("Failed to restore previous installation.", "id", m.ID, "error", restoreErr)
			}
		}
		return fail(wrapError(KindIO, "install", err))
	}
	if oldAside != "" {
		os.RemoveAll(oldAside)
	}

	result.Success = true
	result.InstallPath = final
	result.InstalledAt = now
	logger.Info("Installed extension.", "id", m.ID, "version", rec.Version, "path", final)

	if req.AutoEnable {
		if err := s.enableLocked(ctx, m.ID); err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("installed but not enabled: %s", err))
			logger.Warn("Auto-enable after install failed.", "id", m.ID, "error", err)
		} else {
			result.Enabled = true
		}
	}
	return result, nil
}

// recordFromManifest builds a fresh record from a parsed manifest, carrying
// over counters and provenance from a replaced installation when present.
func recordFromManifest(m *manifest.Manifest, prev *store.Record) *store.Record {
	hostRange := ""
	if m.HostRange != nil {
		hostRange = m.HostRange.String()
	}
	rec := &store.Record{
		ID:           m.ID,
		Name:         m.Name,
		Version:      m.Version.String(),
		Type:         string(m.Type),
		Author:       m.Author,
		Main:         m.Main,
		Description:  m.Description,
		Homepage:     m.Homepage,
		Repository:   m.Repository,
		HostRange:    hostRange,
		Dependencies: m.DependencyStrings(),
		Permissions:  m.Permissions,
		Tags:         m.Tags,
	}
	if prev != nil {
		rec.DownloadCount = prev.DownloadCount + 1
		rec.UseCount = prev.UseCount
		rec.IsVerified = prev.IsVerified
	} else {
		rec.DownloadCount = 1
	}
	return rec
}
