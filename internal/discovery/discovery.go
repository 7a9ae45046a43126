// Package discovery scans extension source roots for manifests and produces
// a catalog of candidate extensions.
//
// Discovery is deliberately tolerant: a malformed manifest excludes that one
// extension from the catalog and surfaces a warning, it never fails the scan
// wholesale. The catalog feeds the installer, and its modification metadata
// feeds the development hot-reload watcher.
package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vk/plugboard/internal/ctxlog"
	"github.com/vk/plugboard/internal/fsutil"
	"github.com/vk/plugboard/internal/manifest"
)

// Root is one directory scanned for extensions. Local roots are developer
// checkouts: their extensions are eligible for hot reload.
type Root struct {
	Path  string
	Local bool
}

// Extension is one candidate found during a scan.
type Extension struct {
	Manifest     *manifest.Manifest
	Dir          string
	ManifestPath string
	Local        bool
	ModTime      time.Time
}

// Result is the outcome of one discovery pass.
type Result struct {
	Extensions []*Extension
	Warnings   []string
}

// Discover walks every root and catalogs each valid extension manifest found.
// Cancellation of ctx aborts the walk between files.
func Discover(ctx context.Context, roots []Root) (*Result, error) {
	logger := ctxlog.FromContext(ctx)
	result := &Result{}

	for _, root := range roots {
		if _, err := os.Stat(root.Path); os.IsNotExist(err) {
			logger.Debug("Discovery root does not exist, skipping.", "path", root.Path)
			continue
		}

		paths, err := fsutil.FindFilesByName(root.Path, manifest.FileName)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", root.Path, err)
		}

		for _, manifestPath := range paths {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			ext, warning := load(manifestPath, root.Local)
			if warning != "" {
				logger.Warn("Excluding extension with invalid manifest.", "manifest", manifestPath, "reason", warning)
				result.Warnings = append(result.Warnings, warning)
				continue
			}
			logger.Debug("Discovered extension.", "id", ext.Manifest.ID, "version", ext.Manifest.Version, "dir", ext.Dir, "local", ext.Local)
			result.Extensions = append(result.Extensions, ext)
		}
	}

	logger.Info("Discovery pass complete.", "found", len(result.Extensions), "warnings", len(result.Warnings))
	return result, nil
}

// DiscoverOne re-reads a single extension directory, used by the hot-reload
// watcher after a change is detected.
func DiscoverOne(ctx context.Context, dir string, local bool) (*Extension, error) {
	manifestPath := filepath.Join(dir, manifest.FileName)
	ext, warning := load(manifestPath, local)
	if warning != "" {
		return nil, fmt.Errorf("%s", warning)
	}
	return ext, nil
}

func load(manifestPath string, local bool) (*Extension, string) {
	m, problems := manifest.ParseFile(manifestPath)
	if err := problems.Err(); err != nil {
		return nil, fmt.Sprintf("%s: %s", manifestPath, err)
	}

	info, err := os.Stat(manifestPath)
	if err != nil {
		return nil, fmt.Sprintf("%s: %s", manifestPath, err)
	}

	return &Extension{
		Manifest:     m,
		Dir:          filepath.Dir(manifestPath),
		ManifestPath: manifestPath,
		Local:        local,
		ModTime:      info.ModTime(),
	}, ""
}
