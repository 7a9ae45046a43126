package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// startHTTPServer serves the health endpoint and, in dev mode, the socket.io
// event stream, in a background goroutine.
func (a *App) startHTTPServer() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.healthHandler)
	if a.notify != nil {
		mux.Handle("/socket.io/", a.notify.Handler())
	}

	addr := fmt.Sprintf(":%d", a.config.HTTPPort)
	a.httpSrv = &http.Server{Addr: addr, Handler: mux}

	go func() {
		a.logger.Info("HTTP server starting.", "address", fmt.Sprintf("http://localhost%s/health", addr))
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server failed unexpectedly.", "error", err)
		}
	}()
}

func (a *App) closeHTTPServer(ctx context.Context) error {
	if a.httpSrv == nil {
		return nil
	}
	a.logger.Debug("Shutting down HTTP server.")
	return a.httpSrv.Shutdown(ctx)
}
