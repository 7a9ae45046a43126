package app

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/Masterminds/semver/v3"

	"github.com/vk/plugboard/internal/builtin"
	"github.com/vk/plugboard/internal/entry"
	"github.com/vk/plugboard/internal/hooks"
	"github.com/vk/plugboard/internal/lifecycle"
	"github.com/vk/plugboard/internal/notify"
	"github.com/vk/plugboard/internal/slots"
	"github.com/vk/plugboard/internal/store"
	"github.com/vk/plugboard/internal/watcher"
)

// App encapsulates the extension host's dependencies and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config

	store    *store.Store
	slots    *slots.Registry
	hooks    *hooks.Manager
	service  *lifecycle.Service
	builtins []entry.Entry
	notify   *notify.Server
	watcher  *watcher.Watcher
	httpSrv  *http.Server
}

// NewApp constructs a fully initialized App with its own isolated logger and
// registries. When no builtins are given, the compiled-in defaults are used.
func NewApp(outW io.Writer, cfg *Config, builtins ...entry.Entry) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	hostVersion, err := semver.NewVersion(Version)
	if err != nil {
		return nil, fmt.Errorf("host version %q: %w", Version, err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open extension store: %w", err)
	}
	logger.Debug("Extension store opened.", "path", cfg.DatabasePath)

	if len(builtins) == 0 {
		builtins = builtin.All()
	}

	slotRegistry := slots.NewRegistry(logger)
	hookManager := hooks.NewManager(logger, cfg.DegradeFailedIntegrations)

	service := lifecycle.New(lifecycle.Config{
		Store:               st,
		Slots:               slotRegistry,
		Hooks:               hookManager,
		Runtime:             entry.NewRuntime(builtins...),
		ExtensionsDir:       cfg.ExtensionsDir,
		HostVersion:         hostVersion,
		StrictCompatibility: cfg.StrictCompatibility,
		Logger:              logger,
	})
	logger.Debug("Lifecycle service constructed.", "builtins", len(builtins))

	a := &App{
		outW:     outW,
		logger:   logger,
		config:   cfg,
		store:    st,
		slots:    slotRegistry,
		hooks:    hookManager,
		service:  service,
		builtins: builtins,
	}

	if cfg.DevMode {
		a.notify = notify.NewServer(logger)
		a.watcher = watcher.New(watcher.Config{
			Service:  service,
			Store:    st,
			Notifier: a.notify,
			Logger:   logger,
			Interval: cfg.WatchInterval,
			Quiet:    cfg.WatchQuiet,
		})
	}
	return a, nil
}

// Service returns the lifecycle service, for the CLI's one-shot commands.
func (a *App) Service() *lifecycle.Service {
	return a.service
}

// Store returns the record store, for listings.
func (a *App) Store() *store.Store {
	return a.store
}

// Slots returns the slot registry. This is primarily for testing.
func (a *App) Slots() *slots.Registry {
	return a.slots
}

// Logger returns the app's isolated logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Close releases the App's resources without running the shutdown hooks.
// Run performs the full graceful shutdown; Close covers one-shot commands.
func (a *App) Close() error {
	if a.notify != nil {
		a.notify.Close()
	}
	return a.store.Close()
}
