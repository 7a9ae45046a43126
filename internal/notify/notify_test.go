package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/plugboard/internal/watcher"
)

func TestServerPublishWithoutClients(t *testing.T) {
	s := NewServer(nil)
	defer s.Close()

	require.NotNil(t, s.Handler())

	// Broadcasting into an empty room must not block or panic.
	s.Publish(watcher.Event{Type: watcher.EventReloaded, ExtensionID: "forum-polls", Version: "1.2.0"})
	s.Publish(watcher.Event{Type: watcher.EventReloadFailed, ExtensionID: "forum-polls", Err: "boom"})
}

func TestFormatEvent(t *testing.T) {
	assert.Equal(t, "extension:reloaded", formatEvent("extension:reloaded", nil))

	line := formatEvent("extension:reloaded", []any{map[string]any{"id": "forum-polls"}})
	assert.Contains(t, line, `"id":"forum-polls"`)
}
