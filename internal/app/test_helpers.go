package app

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/vk/plugboard/internal/entry"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// SetupAppTest creates an isolated App instance backed by temp directories,
// with debug logging captured in the returned buffer.
func SetupAppTest(t *testing.T, builtins ...entry.Entry) (*App, *SafeBuffer) {
	t.Helper()

	logBuffer := &SafeBuffer{}
	cfg := &Config{
		ExtensionsDir: t.TempDir(),
		DatabasePath:  filepath.Join(t.TempDir(), "plugboard.db"),
		LogFormat:     "text",
		LogLevel:      "debug",
		HTTPPort:      0,
	}

	testApp, err := NewApp(logBuffer, cfg, builtins...)
	if err != nil {
		t.Fatalf("failed to build test app: %v", err)
	}

	t.Cleanup(func() {
		testApp.Close()
		if os.Getenv("PLUGBOARD_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}
