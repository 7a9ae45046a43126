// Package builtin holds the compiled-in extensions every installation ships
// with. They go through the same lifecycle records and hook sequence as
// uploaded extensions, but their entry modules are Go code and their files
// cannot be uninstalled or replaced.
package builtin

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/plugboard/internal/entry"
	"github.com/vk/plugboard/internal/hooks"
	"github.com/vk/plugboard/internal/manifest"
	"github.com/vk/plugboard/internal/slots"
)

// baseThemeManifest mirrors what a packaged extension would declare, so the
// builtin shows up in listings with full metadata.
const baseThemeManifest = `
extension "base-theme" {
  name        = "Base Theme"
  version     = "1.0.0"
  type        = "theme"
  author      = "plugboard"
  main        = "builtin:base-theme"
  description = "Default layout and styling, always available as a fallback."
  tags        = ["theme", "builtin"]
}
`

// BaseTheme is the default theme. It registers the layout skeleton at low
// priority so installed themes win every slot they contest.
type BaseTheme struct{}

func (BaseTheme) ID() string { return "base-theme" }

// Manifest returns the builtin's parsed manifest.
func (BaseTheme) Manifest() (*manifest.Manifest, error) {
	m, problems := manifest.Parse("builtin:base-theme", []byte(baseThemeManifest))
	if err := problems.Err(); err != nil {
		return nil, fmt.Errorf("builtin base-theme manifest: %w", err)
	}
	return m, nil
}

func (BaseTheme) Activate(ctx context.Context, host *entry.Host) error {
	return host.Hooks.Register(hooks.Integration{
		Name:   host.Source,
		Source: host.Source,
		Handlers: map[string]hooks.HandlerFunc{
			hooks.ComponentsReady: func(context.Context) error {
				return registerLayout(host)
			},
		},
	})
}

func registerLayout(host *entry.Host) error {
	regs := []slots.Registration{
		{
			SlotID:    "page.header",
			Source:    host.Source,
			Component: slots.HTML(`<header class="pb-header"><nav class="pb-nav"></nav></header>`),
			Priority:  -100,
		},
		{
			SlotID:    "page.footer",
			Source:    host.Source,
			Component: slots.HTML(`<footer class="pb-footer"></footer>`),
			Priority:  -100,
		},
		{
			SlotID:    "thread.sidebar",
			Source:    host.Source,
			Component: slots.ComponentFunc(threadSidebar),
			Priority:  -100,
			Condition: func(rc slots.RenderContext) bool {
				page, ok := rc["page"]
				return ok && page.Type() == cty.String && page.AsString() == "thread"
			},
		},
	}
	for _, reg := range regs {
		if err := host.Slots.Register(reg); err != nil {
			return err
		}
	}
	return host.Slots.InjectStyle(slots.StyleInjection{
		Source:   host.Source,
		CSS:      ".pb-header{display:flex}.pb-footer{margin-top:2rem}",
		Priority: -100,
	})
}

func threadSidebar(rc slots.RenderContext) (string, error) {
	title := ""
	if v, ok := rc["thread_title"]; ok && v.Type() == cty.String {
		title = v.AsString()
	}
	return fmt.Sprintf(`<aside class="pb-sidebar" data-thread=%q></aside>`, title), nil
}

// All returns every compiled-in extension, in registration order.
func All() []entry.Entry {
	return []entry.Entry{BaseTheme{}}
}
