// Package lifecycle drives extensions through their installation state
// machine:
//
//	NotInstalled → Installing → Installed → Enabled ⇄ Disabled →
//	Uninstalling → NotInstalled
//
// with Error reachable from any transition and left only by an explicit
// Retry. The service validates packages, extracts them crash-atomically,
// persists installation records, enforces dependency and host-compatibility
// rules, and wires enabled extensions into the slot registry and hook
// manager through their entry modules.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Masterminds/semver/v3"

	"github.com/vk/plugboard/internal/depgraph"
	"github.com/vk/plugboard/internal/entry"
	"github.com/vk/plugboard/internal/hooks"
	"github.com/vk/plugboard/internal/manifest"
	"github.com/vk/plugboard/internal/slots"
	"github.com/vk/plugboard/internal/store"
)

// Store is the record persistence surface the service depends on,
// implemented by *store.Store.
type Store interface {
	Get(ctx context.Context, id string) (*store.Record, error)
	Put(ctx context.Context, rec *store.Record) error
	List(ctx context.Context) ([]*store.Record, error)
	SetStatus(ctx context.Context, id string, status store.Status, lastError string) error
	UpdateMetadata(ctx context.Context, rec *store.Record) error
	Delete(ctx context.Context, id string) error
}

// Config collects the collaborators and policy knobs of a Service.
type Config struct {
	Store   Store
	Slots   *slots.Registry
	Hooks   *hooks.Manager
	Runtime *entry.Runtime

	// ExtensionsDir is the directory installed extensions are published
	// into, one subdirectory per extension id.
	ExtensionsDir string

	// HostVersion is the running host's version, matched against each
	// extension's declared host range.
	HostVersion *semver.Version

	// StrictCompatibility turns a host-range mismatch from a warning into
	// a hard error.
	StrictCompatibility bool

	Logger *slog.Logger
}

// Service is the installer / lifecycle service.
type Service struct {
	store   Store
	slots   *slots.Registry
	hooks   *hooks.Manager
	runtime *entry.Runtime

	extensionsDir string
	hostVersion   *semver.Version
	strictCompat  bool
	logger        *slog.Logger

	// started flips once the host's startup hook sequence has run;
	// extensions enabled after that point get their hooks replayed
	// individually.
	started atomic.Bool

	mu      sync.Mutex
	idLocks map[string]*sync.Mutex
	// hosts keeps the live runtime host per enabled extension so reloads
	// can repoint entry callbacks at the live registries.
	hosts map[string]*entry.Host
}

// New creates a lifecycle service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:         cfg.Store,
		slots:         cfg.Slots,
		hooks:         cfg.Hooks,
		runtime:       cfg.Runtime,
		extensionsDir: cfg.ExtensionsDir,
		hostVersion:   cfg.HostVersion,
		strictCompat:  cfg.StrictCompatibility,
		logger:        logger,
		idLocks:       make(map[string]*sync.Mutex),
		hosts:         make(map[string]*entry.Host),
	}
}

// MarkStarted records that the host's startup hook sequence has completed.
// From here on, newly enabled extensions replay the sequence individually.
func (s *Service) MarkStarted() {
	s.started.Store(true)
}

// newHostFor builds the runtime API surface handed to an extension's entry
// module, wired to the live registries.
func newHostFor(s *Service, id string) *entry.Host {
	return &entry.Host{
		Source: id,
		Slots:  s.slots,
		Hooks:  s.hooks,
		Logger: s.logger.With("extension", id),
	}
}

// idLock serializes operations on a single extension id. Operations on
// different ids proceed in parallel.
func (s *Service) idLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.idLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.idLocks[id] = l
	}
	return l
}

// enabledGraph builds the dependency graph over the given records,
// considering only edges whose endpoints are both present.
func enabledGraph(records []*store.Record) (*depgraph.Graph, error) {
	g := depgraph.New()
	byID := make(map[string]*store.Record, len(records))
	for _, rec := range records {
		g.AddNode(rec.ID)
		byID[rec.ID] = rec
	}
	for _, rec := range records {
		for _, raw := range rec.Dependencies {
			dep, err := manifest.ParseDependency(raw)
			if err != nil {
				continue // recorded dependencies were validated at install time
			}
			if _, ok := byID[dep.ID]; !ok {
				continue
			}
			if err := g.AddEdge(dep.ID, rec.ID); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// checkManifestCompatibility applies the host-range policy to a parsed
// manifest. It returns a warning message (non-strict mismatch), an error
// (strict mismatch), or neither.
func (s *Service) checkManifestCompatibility(op string, m *manifest.Manifest) (string, *Error) {
	if s.hostVersion == nil {
		return "", nil
	}
	err := m.CheckHostCompatibility(s.hostVersion)
	if err == nil {
		return "", nil
	}
	if s.strictCompat {
		return "", wrapError(KindCompatibility, op, err)
	}
	return err.Error(), nil
}

// checkCompatibility is the record-based variant of the host-range policy,
// for operations that only have the range string persisted at install time.
func (s *Service) checkCompatibility(op, id, hostRange string) (string, *Error) {
	if hostRange == "" || s.hostVersion == nil {
		return "", nil
	}
	c, err := semver.NewConstraint(hostRange)
	if err != nil {
		return "", newError(KindValidation, op, "extension %q: invalid host range %q", id, hostRange)
	}
	if c.Check(s.hostVersion) {
		return "", nil
	}
	if s.strictCompat {
		return "", newError(KindCompatibility, op,
			"extension %q declares host range %q, which does not match host version %s", id, hostRange, s.hostVersion)
	}
	return "extension " + id + " declares host range " + hostRange +
		", which does not match host version " + s.hostVersion.String(), nil
}
