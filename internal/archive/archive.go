// Package archive verifies and extracts extension packages (zip archives).
//
// A valid package carries an extension.hcl manifest either at the archive
// root or inside a single wrapping directory; extraction strips the wrapper
// so the manifest always ends up at the destination root.
package archive

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/vk/plugboard/internal/manifest"
)

// Info describes a package without extracting it.
type Info struct {
	Size        int64
	Checksum    string // hex-encoded sha256 of the archive file
	ManifestSrc []byte
	// prefix is the wrapping directory stripped during extraction, if any.
	prefix string
}

// Inspect verifies that the file is a readable zip archive containing a
// manifest, and computes its checksum. No filesystem writes happen here.
func Inspect(archivePath string) (*Info, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open package: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat package: %w", err)
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("checksum package: %w", err)
	}

	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("package is not a valid zip archive: %w", err)
	}
	defer zr.Close()

	entry, prefix, err := findManifest(&zr.Reader)
	if err != nil {
		return nil, err
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("open manifest entry: %w", err)
	}
	defer rc.Close()

	src, err := io.ReadAll(io.LimitReader(rc, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read manifest entry: %w", err)
	}

	return &Info{
		Size:        stat.Size(),
		Checksum:    hex.EncodeToString(h.Sum(nil)),
		ManifestSrc: src,
		prefix:      prefix,
	}, nil
}

// findManifest locates the shallowest manifest entry and the directory
// prefix to strip so it lands at the extraction root.
func findManifest(zr *zip.Reader) (*zip.File, string, error) {
	var best *zip.File
	bestDepth := -1
	for _, f := range zr.File {
		name := path.Clean(f.Name)
		if path.Base(name) != manifest.FileName {
			continue
		}
		depth := strings.Count(name, "/")
		if depth > 1 {
			continue // only root or one wrapping directory
		}
		if bestDepth == -1 || depth < bestDepth {
			best = f
			bestDepth = depth
		}
	}
	if best == nil {
		return nil, "", fmt.Errorf("package does not contain %s", manifest.FileName)
	}
	return best, path.Dir(path.Clean(best.Name)), nil
}

// Extract unpacks the archive into destDir, stripping the wrapping directory
// located by Inspect. Entry paths are confined to destDir; an entry escaping
// it fails the whole extraction.
func Extract(ctx context.Context, archivePath, destDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("package is not a valid zip archive: %w", err)
	}
	defer zr.Close()

	_, prefix, err := findManifest(&zr.Reader)
	if err != nil {
		return err
	}

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		name := path.Clean(f.Name)
		if prefix != "." {
			if name == prefix {
				continue
			}
			rel, ok := strings.CutPrefix(name, prefix+"/")
			if !ok {
				continue // entry outside the wrapping directory
			}
			name = rel
		}

		target := filepath.Join(destDir, filepath.FromSlash(name))
		rel, err := filepath.Rel(destDir, target)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
			return fmt.Errorf("package entry %q escapes the install directory", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", name, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", name, err)
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", target, err)
	}
	return nil
}
