// Package watcher polls installed extension directories for changes and
// drives hot reloads through the lifecycle service. Polling keeps the watcher
// portable across filesystems that deliver no change events (network mounts,
// bind mounts in containers).
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/vk/plugboard/internal/ctxlog"
	"github.com/vk/plugboard/internal/discovery"
	"github.com/vk/plugboard/internal/lifecycle"
	"github.com/vk/plugboard/internal/manifest"
	"github.com/vk/plugboard/internal/store"
)

// Event describes one watcher outcome, published to connected clients.
type Event struct {
	Type        string
	ExtensionID string
	Version     string
	Err         string
}

// Event types the watcher publishes.
const (
	EventReloaded     = "extension:reloaded"
	EventMetadata     = "extension:metadata"
	EventReloadFailed = "extension:reload-failed"
)

// Notifier receives watcher events. Implementations must not block.
type Notifier interface {
	Publish(Event)
}

// Config tunes one Watcher.
type Config struct {
	Service  *lifecycle.Service
	Store    *store.Store
	Notifier Notifier
	Logger   *slog.Logger

	// Interval is the poll period.
	Interval time.Duration
	// Quiet is how long a changed extension must stay unchanged before its
	// reload fires, so multi-file saves coalesce into one reload.
	Quiet time.Duration
	// MaxBackoff caps the exponential backoff applied after failed reloads.
	MaxBackoff time.Duration
}

const (
	defaultInterval   = 2 * time.Second
	defaultQuiet      = 500 * time.Millisecond
	defaultMaxBackoff = time.Minute
)

// extState is the watcher's per-extension memory between polls. The
// "applied" fingerprints describe the version the host is running; the
// "seen" fingerprints track what is currently on disk.
type extState struct {
	appliedCode     string
	appliedManifest string
	seenCode        string
	seenManifest    string

	dirty       bool
	lastChange  time.Time
	failures    int
	nextAttempt time.Time
}

// Watcher is the development-mode hot reload loop.
type Watcher struct {
	svc      *lifecycle.Service
	store    *store.Store
	notifier Notifier
	logger   *slog.Logger

	interval   time.Duration
	quiet      time.Duration
	maxBackoff time.Duration

	states map[string]*extState
}

// New creates a watcher. Zero durations take the defaults.
func New(cfg Config) *Watcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		svc:        cfg.Service,
		store:      cfg.Store,
		notifier:   cfg.Notifier,
		logger:     logger,
		interval:   cfg.Interval,
		quiet:      cfg.Quiet,
		maxBackoff: cfg.MaxBackoff,
		states:     make(map[string]*extState),
	}
	if w.interval <= 0 {
		w.interval = defaultInterval
	}
	if w.quiet <= 0 {
		w.quiet = defaultQuiet
	}
	if w.maxBackoff <= 0 {
		w.maxBackoff = defaultMaxBackoff
	}
	return w
}

// Run polls until the context is canceled. Individual reload failures never
// stop the loop; they back off and retry.
func (w *Watcher) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Watching extensions for changes.", "interval", w.interval, "quiet", w.quiet)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll runs one scan cycle. Exported so tests can drive the watcher without
// real time passing between ticks.
func (w *Watcher) Poll(ctx context.Context) {
	records, err := w.store.List(ctx)
	if err != nil {
		w.logger.Error("Failed to list extensions for watching.", "error", err)
		return
	}

	now := time.Now()
	seen := make(map[string]bool)
	for _, rec := range records {
		if rec.Status != store.StatusEnabled || rec.IsBuiltIn || rec.InstallPath == "" {
			continue
		}
		seen[rec.ID] = true
		w.pollOne(ctx, rec, now)
	}

	// Forget extensions that were disabled or uninstalled.
	for id := range w.states {
		if !seen[id] {
			delete(w.states, id)
		}
	}
}

func (w *Watcher) pollOne(ctx context.Context, rec *store.Record, now time.Time) {
	codeFP, manifestFP, err := fingerprint(rec.InstallPath)
	if err != nil {
		w.logger.Warn("Failed to fingerprint extension directory.", "id", rec.ID, "error", err)
		return
	}

	st, known := w.states[rec.ID]
	if !known {
		// First sighting establishes the baseline without a reload.
		w.states[rec.ID] = &extState{
			appliedCode: codeFP, appliedManifest: manifestFP,
			seenCode: codeFP, seenManifest: manifestFP,
		}
		return
	}

	if codeFP != st.seenCode || manifestFP != st.seenManifest {
		// Still churning; restart the quiet window.
		st.seenCode = codeFP
		st.seenManifest = manifestFP
		st.dirty = codeFP != st.appliedCode || manifestFP != st.appliedManifest
		st.lastChange = now
		return
	}

	if !st.dirty || now.Sub(st.lastChange) < w.quiet || now.Before(st.nextAttempt) {
		return
	}

	w.apply(ctx, rec, st, now)
}

// apply picks the cheapest sufficient operation: a manifest-only edit that
// changes nothing functional refreshes metadata in place, anything else goes
// through a full transactional reload.
func (w *Watcher) apply(ctx context.Context, rec *store.Record, st *extState, now time.Time) {
	metadataOnly := st.seenCode == st.appliedCode && manifestStillFunctional(ctx, rec)

	var err error
	eventType := EventReloaded
	if metadataOnly {
		eventType = EventMetadata
		err = w.svc.RefreshMetadata(ctx, rec.ID)
	} else {
		err = w.svc.Reload(ctx, rec.ID)
	}

	if err != nil {
		st.failures++
		backoff := w.quiet << uint(st.failures)
		if backoff > w.maxBackoff {
			backoff = w.maxBackoff
		}
		st.nextAttempt = now.Add(backoff)
		w.logger.Error("Hot reload failed; backing off.",
			"id", rec.ID, "attempt", st.failures, "retryIn", backoff, "error", err)
		w.publish(Event{Type: EventReloadFailed, ExtensionID: rec.ID, Err: err.Error()})
		return
	}

	st.dirty = false
	st.failures = 0
	st.nextAttempt = time.Time{}
	st.appliedCode = st.seenCode
	st.appliedManifest = st.seenManifest
	w.logger.Info("Hot reloaded extension.", "id", rec.ID, "metadataOnly", metadataOnly)

	version := rec.Version
	if updated, getErr := w.store.Get(ctx, rec.ID); getErr == nil {
		version = updated.Version
	}
	w.publish(Event{Type: eventType, ExtensionID: rec.ID, Version: version})
}

// manifestStillFunctional reports whether the on-disk manifest still agrees
// with the record on every functional field (entry reference, type, and
// dependency set). An unreadable manifest is never metadata only; the full
// reload path surfaces its problems.
func manifestStillFunctional(ctx context.Context, rec *store.Record) bool {
	ext, err := discovery.DiscoverOne(ctx, rec.InstallPath, true)
	if err != nil {
		return false
	}
	m := ext.Manifest
	if m.ID != rec.ID || m.Main != rec.Main || string(m.Type) != rec.Type {
		return false
	}
	deps := m.DependencyStrings()
	if len(deps) != len(rec.Dependencies) {
		return false
	}
	for i := range deps {
		if deps[i] != rec.Dependencies[i] {
			return false
		}
	}
	return true
}

func (w *Watcher) publish(ev Event) {
	if w.notifier == nil {
		return
	}
	w.notifier.Publish(ev)
}

// fingerprint hashes an extension directory into two digests: one over the
// manifest file and one over everything else, so the watcher can tell a
// manifest edit from a code change.
func fingerprint(dir string) (code, manifestSum string, err error) {
	codeHash := sha256.New()
	manifestHash := sha256.New()

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		h := codeHash
		if d.Name() == manifest.FileName && filepath.Dir(path) == dir {
			h = manifestHash
		}
		fmt.Fprintf(h, "%s|%d|%d\n", path, info.Size(), info.ModTime().UnixNano())
		return nil
	})
	if walkErr != nil {
		return "", "", walkErr
	}
	return hex.EncodeToString(codeHash.Sum(nil)), hex.EncodeToString(manifestHash.Sum(nil)), nil
}
