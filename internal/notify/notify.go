// Package notify pushes lifecycle events to connected clients over
// socket.io, so development tooling and admin UIs can refresh the moment an
// extension reloads instead of polling the host.
package notify

import (
	"log/slog"
	"net/http"

	"github.com/zishang520/socket.io/v2/socket"

	"github.com/vk/plugboard/internal/watcher"
)

// Server broadcasts watcher events to every connected socket.io client. It
// implements watcher.Notifier.
type Server struct {
	io     *socket.Server
	logger *slog.Logger
}

// NewServer creates a broadcast server.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	io := socket.NewServer(nil, nil)
	s := &Server{io: io, logger: logger}

	io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		logger.Debug("Notify client connected.", "sid", client.Id())
		client.On("disconnect", func(...any) {
			logger.Debug("Notify client disconnected.", "sid", client.Id())
		})
	})
	return s
}

// Handler returns the HTTP handler to mount at the socket.io path.
func (s *Server) Handler() http.Handler {
	return s.io.ServeHandler(nil)
}

// Publish broadcasts one watcher event. Emission is fire-and-forget; a
// client that misses an event reconciles on its next full listing.
func (s *Server) Publish(ev watcher.Event) {
	payload := map[string]any{
		"id":      ev.ExtensionID,
		"version": ev.Version,
	}
	if ev.Err != "" {
		payload["error"] = ev.Err
	}
	if err := s.io.Sockets().Emit(ev.Type, payload); err != nil {
		s.logger.Warn("Failed to broadcast event.", "type", ev.Type, "error", err)
	}
}

// Close shuts the socket.io server down, disconnecting all clients.
func (s *Server) Close() {
	s.io.Close(nil)
}
