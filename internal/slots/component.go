package slots

import "github.com/zclconf/go-cty/cty"

// RenderContext carries the host-provided values a slot is rendered against,
// such as the current page, the viewing user's role, or the active locale.
type RenderContext map[string]cty.Value

// Component is the typed handle for anything an extension can contribute to
// a slot. The registry depends only on this single render contract, not on
// any specific UI framework.
type Component interface {
	Render(rc RenderContext) (string, error)
}

// ComponentFunc adapts a plain function to the Component interface.
type ComponentFunc func(rc RenderContext) (string, error)

func (f ComponentFunc) Render(rc RenderContext) (string, error) {
	return f(rc)
}

// HTML is a static markup component, the common case for theme contributions.
type HTML string

func (h HTML) Render(RenderContext) (string, error) {
	return string(h), nil
}
