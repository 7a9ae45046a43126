package lifecycle

import (
	"context"
	"errors"

	"github.com/vk/plugboard/internal/archive"
	"github.com/vk/plugboard/internal/ctxlog"
	"github.com/vk/plugboard/internal/manifest"
	"github.com/vk/plugboard/internal/store"
)

// PreviewResult reports what installing a package would do, without any
// filesystem side effect. Warnings and Errors are user-renderable; the
// package is installable only when IsValid is true.
type PreviewResult struct {
	IsValid  bool
	Manifest *manifest.Manifest
	Warnings []string
	Errors   []string

	// Exists reports whether an extension with the same id is already
	// installed, and at which version.
	Exists          bool
	ExistingVersion string
}

// Preview extracts and validates a package's manifest in memory. It never
// writes to the filesystem and never returns validation findings as errors;
// they land in the result's Warnings and Errors lists.
func (s *Service) Preview(ctx context.Context, archivePath string) (*PreviewResult, error) {
	logger := ctxlog.FromContext(ctx)
	result := &PreviewResult{}

	info, err := archive.Inspect(archivePath)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result, nil
	}

	m, problems := manifest.Parse(manifest.FileName, info.ManifestSrc)
	result.Manifest = m
	if len(problems) > 0 {
		result.Errors = append(result.Errors, problems...)
		return result, nil
	}

	warning, compatErr := s.checkManifestCompatibility("preview", m)
	if compatErr != nil {
		result.Errors = append(result.Errors, compatErr.Err.Error())
		return result, nil
	}
	if warning != "" {
		result.Warnings = append(result.Warnings, warning)
	}

	existing, err := s.store.Get(ctx, m.ID)
	switch {
	case err == nil:
		result.Exists = true
		result.ExistingVersion = existing.Version
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, wrapError(KindIO, "preview", err)
	}

	result.IsValid = true
	logger.Debug("Previewed package.", "id", m.ID, "version", m.Version, "exists", result.Exists)
	return result, nil
}
