package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/vk/plugboard/internal/ctxlog"
	"github.com/vk/plugboard/internal/watcher"
)

// FollowOptions configures a follow session.
type FollowOptions struct {
	// URL is the host's socket.io endpoint, e.g. http://localhost:8080/socket.io.
	URL string
	// ConnectTimeout bounds the initial connection. Zero means 10s.
	ConnectTimeout time.Duration
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
}

// Follow connects to a running host and streams its lifecycle events to out,
// one line per event, until the context is canceled or the connection fails.
func Follow(ctx context.Context, out io.Writer, opts FollowOptions) error {
	logger := ctxlog.FromContext(ctx).With("url", opts.URL)

	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	parsedURL, err := url.Parse(opts.URL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)

	sockOpts := socket.DefaultOptions()
	sockOpts.SetPath(parsedURL.Path)
	sockOpts.SetTransports(types.NewSet(transports.WebSocket))
	if opts.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		sockOpts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}

	manager := socket.NewManager(baseURL, sockOpts)
	client := manager.Socket("/", sockOpts)
	defer client.Disconnect()

	connected := make(chan struct{}, 1)
	failed := make(chan error, 1)

	client.On(types.EventName("connect"), func(...any) {
		logger.Info("Connected to host.", "sid", client.Id())
		connected <- struct{}{}
	})
	client.On(types.EventName("connect_error"), func(errs ...any) {
		if len(errs) > 0 {
			if err, ok := errs[0].(error); ok {
				failed <- err
				return
			}
		}
		failed <- fmt.Errorf("connection failed")
	})

	for _, eventType := range []string{watcher.EventReloaded, watcher.EventMetadata, watcher.EventReloadFailed} {
		eventType := eventType
		client.On(types.EventName(eventType), func(data ...any) {
			fmt.Fprintln(out, formatEvent(eventType, data))
		})
	}

	client.Connect()

	select {
	case <-connected:
	case err := <-failed:
		return fmt.Errorf("connect to %s: %w", opts.URL, err)
	case <-time.After(connectTimeout):
		return fmt.Errorf("timed out connecting to %s", opts.URL)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-failed:
		return fmt.Errorf("connection lost: %w", err)
	case <-ctx.Done():
		return nil
	}
}

func formatEvent(eventType string, data []any) string {
	if len(data) == 0 {
		return eventType
	}
	encoded, err := json.Marshal(data[0])
	if err != nil {
		return fmt.Sprintf("%s %v", eventType, data[0])
	}
	return fmt.Sprintf("%s %s", eventType, encoded)
}
