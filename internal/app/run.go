package app

import (
	"context"
	"time"

	"github.com/vk/plugboard/internal/ctxlog"
	"github.com/vk/plugboard/internal/discovery"
	"github.com/vk/plugboard/internal/hooks"
	"github.com/vk/plugboard/internal/manifest"
)

// manifestProvider is implemented by builtins that ship their own manifest.
type manifestProvider interface {
	Manifest() (*manifest.Manifest, error)
}

// Run brings the host up and serves until the context is canceled: builtins
// are recorded, every extension recorded as enabled is activated, the hook
// sequence fires, and in dev mode the hot reload watcher starts. On
// cancellation the app:destroy hook runs before resources are released.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	for _, b := range a.builtins {
		provider, ok := b.(manifestProvider)
		if !ok {
			continue
		}
		m, err := provider.Manifest()
		if err != nil {
			return err
		}
		if err := a.service.EnsureBuiltin(ctx, m); err != nil {
			return err
		}
	}

	if a.config.DevMode {
		a.adoptLocalExtensions(ctx)
	}

	if errs := a.service.ActivateEnabled(ctx); len(errs) > 0 {
		a.logger.Warn("Some extensions failed to activate.", "failed", len(errs))
	}

	a.logger.Info("Running startup hook sequence.")
	if errs := a.hooks.RunStartup(ctx); len(errs) > 0 {
		a.logger.Warn("Startup hooks finished with failures.", "failed", len(errs))
	}
	a.service.MarkStarted()

	if a.config.HTTPPort > 0 {
		a.startHTTPServer()
	}

	if a.watcher != nil {
		go func() {
			if err := a.watcher.Run(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("Watcher stopped unexpectedly.", "error", err)
			}
		}()
	}

	a.logger.Info("Extension host started.", "version", Version, "dev", a.config.DevMode)
	<-ctx.Done()
	return a.shutdown()
}

// adoptLocalExtensions catalogs developer checkouts dropped straight into
// the extensions directory, so dev mode does not require packaging a zip for
// every iteration. Discovery warnings are logged, never fatal.
func (a *App) adoptLocalExtensions(ctx context.Context) {
	result, err := discovery.Discover(ctx, []discovery.Root{{Path: a.config.ExtensionsDir, Local: true}})
	if err != nil {
		a.logger.Error("Local extension discovery failed.", "error", err)
		return
	}
	for _, ext := range result.Extensions {
		if err := a.service.AdoptLocal(ctx, ext); err != nil {
			a.logger.Warn("Failed to adopt local extension.", "id", ext.Manifest.ID, "error", err)
		}
	}
}

// shutdown runs the app:destroy hook and releases resources. It uses a fresh
// context; the run context is already canceled by the time we get here.
func (a *App) shutdown() error {
	a.logger.Info("Shutting down extension host.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shutdownCtx = ctxlog.WithLogger(shutdownCtx, a.logger)

	if errs := a.hooks.Fire(shutdownCtx, hooks.AppDestroy); len(errs) > 0 {
		a.logger.Warn("Shutdown hooks finished with failures.", "failed", len(errs))
	}
	if err := a.closeHTTPServer(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown failed.", "error", err)
	}
	return a.Close()
}
