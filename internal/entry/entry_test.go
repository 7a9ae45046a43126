package entry

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/plugboard/internal/hooks"
	"github.com/vk/plugboard/internal/slots"
)

func newHost(source string) *Host {
	return &Host{
		Source: source,
		Slots:  slots.NewRegistry(nil),
		Hooks:  hooks.NewManager(nil, false),
		Logger: slog.Default(),
	}
}

func writeScript(t *testing.T, dir, name, src string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
}

func TestActivateLuaRegistersSlotsAndHooks(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "entry.lua", `
log.info("activating")

slots.register("thread.sidebar", {
  html = "<div>poll</div>",
  priority = 10,
})

slots.inject_style{ css = ".poll { color: red }" }

register{
  hooks = {
    ["components:ready"] = function()
      slots.register("thread.footer", { html = "<div>late</div>" })
    end,
  },
}
`)

	host := newHost("forum-polls")
	rt := NewRuntime()
	require.NoError(t, rt.Activate(context.Background(), host, dir, "entry.lua"))

	regs := host.Slots.Resolve("thread.sidebar", nil)
	require.Len(t, regs, 1)
	assert.Equal(t, "forum-polls", regs[0].Source)
	assert.Equal(t, 10, regs[0].Priority)

	require.Len(t, host.Slots.Styles(), 1)

	// The integration was registered under the extension id and its
	// components:ready handler populates the registry when fired.
	assert.True(t, host.Hooks.Registered("forum-polls"))
	require.NoError(t, host.Hooks.FireFor(context.Background(), "forum-polls", hooks.ComponentsReady))
	assert.Len(t, host.Slots.Resolve("thread.footer", nil), 1)
}

func TestActivateLuaCustomIntegrationName(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "entry.lua", `
register{
  name = "polls-widgets",
  hooks = {
    ["components:ready"] = function()
      slots.register("header", { html = "<div>late</div>" })
    end,
  },
}
`)

	host := newHost("forum-polls")
	require.NoError(t, NewRuntime().Activate(context.Background(), host, dir, "entry.lua"))

	// The integration keeps its chosen name but is indexed under the
	// extension id, so lifecycle teardown finds it.
	assert.True(t, host.Hooks.Registered("polls-widgets"))
	assert.Equal(t, []string{"polls-widgets"}, host.Hooks.NamesBySource("forum-polls"))
}

func TestActivateLuaCondition(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "entry.lua", `
slots.register("header", { html = "<nav/>", when = 'page == "thread"' })
`)

	host := newHost("cond-ext")
	require.NoError(t, NewRuntime().Activate(context.Background(), host, dir, "entry.lua"))

	regs := host.Slots.Resolve("header", nil)
	assert.Empty(t, regs, "condition must filter without the context variable")
}

func TestActivateLuaScriptError(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "entry.lua", `slots.register("header", {})`)

	host := newHost("bad-ext")
	err := NewRuntime().Activate(context.Background(), host, dir, "entry.lua")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "html")
}

func TestActivateLuaMissingScript(t *testing.T) {
	host := newHost("ghost")
	err := NewRuntime().Activate(context.Background(), host, t.TempDir(), "entry.lua")
	assert.Error(t, err)
}

func TestActivateRejectsEscapingEntry(t *testing.T) {
	host := newHost("sneaky")
	err := NewRuntime().Activate(context.Background(), host, t.TempDir(), "../outside.lua")
	assert.ErrorContains(t, err, "escapes the install directory")
}

type fakeBuiltin struct{ activated bool }

func (f *fakeBuiltin) ID() string { return "base-theme" }
func (f *fakeBuiltin) Activate(ctx context.Context, host *Host) error {
	f.activated = true
	return host.Hooks.Register(hooks.Integration{Name: host.Source})
}

func TestActivateBuiltin(t *testing.T) {
	b := &fakeBuiltin{}
	rt := NewRuntime(b)
	host := newHost("base-theme")

	require.NoError(t, rt.Activate(context.Background(), host, "", "builtin:base-theme"))
	assert.True(t, b.activated)

	err := rt.Activate(context.Background(), host, "", "builtin:nope")
	assert.ErrorContains(t, err, "unknown builtin")
}

func TestActivateUnsupportedReference(t *testing.T) {
	err := NewRuntime().Activate(context.Background(), newHost("x"), t.TempDir(), "entry.wasm")
	assert.ErrorContains(t, err, "unsupported entry reference")
}
