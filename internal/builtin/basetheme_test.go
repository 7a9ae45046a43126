package builtin

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/plugboard/internal/entry"
	"github.com/vk/plugboard/internal/hooks"
	"github.com/vk/plugboard/internal/slots"
)

func TestBaseThemeManifest(t *testing.T) {
	m, err := BaseTheme{}.Manifest()
	require.NoError(t, err)
	assert.Equal(t, "base-theme", m.ID)
	assert.Equal(t, "builtin:base-theme", m.Main)
}

func TestBaseThemeActivation(t *testing.T) {
	host := &entry.Host{
		Source: "base-theme",
		Slots:  slots.NewRegistry(nil),
		Hooks:  hooks.NewManager(nil, false),
		Logger: slog.Default(),
	}
	ctx := context.Background()
	require.NoError(t, BaseTheme{}.Activate(ctx, host))

	// Slot population happens on components:ready, not on activation.
	assert.Empty(t, host.Slots.Slots())
	require.NoError(t, host.Hooks.FireFor(ctx, "base-theme", hooks.ComponentsReady))

	assert.Len(t, host.Slots.Resolve("page.header", nil), 1)
	assert.Len(t, host.Slots.Styles(), 1)

	// The sidebar only renders on thread pages.
	assert.Empty(t, host.Slots.Resolve("thread.sidebar", nil))
	onThread := slots.RenderContext{"page": cty.StringVal("thread")}
	regs := host.Slots.Resolve("thread.sidebar", onThread)
	require.Len(t, regs, 1)
	assert.Equal(t, -100, regs[0].Priority)
}

func TestBaseThemeLosesContestedSlots(t *testing.T) {
	host := &entry.Host{
		Source: "base-theme",
		Slots:  slots.NewRegistry(nil),
		Hooks:  hooks.NewManager(nil, false),
		Logger: slog.Default(),
	}
	ctx := context.Background()
	require.NoError(t, BaseTheme{}.Activate(ctx, host))
	require.NoError(t, host.Hooks.FireFor(ctx, "base-theme", hooks.ComponentsReady))

	require.NoError(t, host.Slots.Register(slots.Registration{
		SlotID:    "page.header",
		Source:    "custom-theme",
		Component: slots.HTML("<header>custom</header>"),
	}))

	regs := host.Slots.Resolve("page.header", nil)
	require.Len(t, regs, 2)
	assert.Equal(t, "custom-theme", regs[0].Source, "default priority 0 beats the builtin's -100")
}
