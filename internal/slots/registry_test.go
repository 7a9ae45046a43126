package slots

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func mustRegister(t *testing.T, r *Registry, slot, source string, priority int, c Component) {
	t.Helper()
	require.NoError(t, r.Register(Registration{
		SlotID:    slot,
		Component: c,
		Source:    source,
		Priority:  priority,
	}))
}

func rendered(t *testing.T, regs []Registration) []string {
	t.Helper()
	out := make([]string, 0, len(regs))
	for _, reg := range regs {
		s, err := reg.Component.Render(nil)
		require.NoError(t, err)
		out = append(out, s)
	}
	return out
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry(nil)

	err := r.Register(Registration{Component: HTML("x"), Source: "a"})
	assert.ErrorContains(t, err, "slot id is required")

	err = r.Register(Registration{SlotID: "s", Source: "a"})
	assert.ErrorContains(t, err, "component is required")

	err = r.Register(Registration{SlotID: "s", Component: HTML("x")})
	assert.ErrorContains(t, err, "source extension id is required")
}

func TestResolveOrdering(t *testing.T) {
	// Three components with priorities 20, 10, 10 in that insertion order
	// must resolve as [20, 10(first inserted), 10(second inserted)].
	r := NewRegistry(nil)
	mustRegister(t, r, "thread.sidebar", "a", 20, HTML("p20"))
	mustRegister(t, r, "thread.sidebar", "b", 10, HTML("p10-first"))
	mustRegister(t, r, "thread.sidebar", "c", 10, HTML("p10-second"))

	got := rendered(t, r.Resolve("thread.sidebar", nil))
	assert.Equal(t, []string{"p20", "p10-first", "p10-second"}, got)

	// Resolution is deterministic across repeated calls.
	for i := 0; i < 10; i++ {
		assert.Equal(t, got, rendered(t, r.Resolve("thread.sidebar", nil)))
	}
}

func TestResolveConditions(t *testing.T) {
	r := NewRegistry(nil)

	onThread, err := ExprCondition(`page == "thread"`)
	require.NoError(t, err)

	require.NoError(t, r.Register(Registration{
		SlotID:    "header",
		Component: HTML("thread-only"),
		Source:    "a",
		Condition: onThread,
	}))
	mustRegister(t, r, "header", "b", 0, HTML("always"))

	threadCtx := RenderContext{"page": cty.StringVal("thread")}
	assert.Equal(t, []string{"thread-only", "always"}, rendered(t, r.Resolve("header", threadCtx)))

	indexCtx := RenderContext{"page": cty.StringVal("index")}
	assert.Equal(t, []string{"always"}, rendered(t, r.Resolve("header", indexCtx)))

	// A context missing the variable filters the conditional registration
	// out instead of failing the render.
	assert.Equal(t, []string{"always"}, rendered(t, r.Resolve("header", RenderContext{})))
}

func TestExprConditionParseError(t *testing.T) {
	_, err := ExprCondition(`page ==`)
	assert.Error(t, err)
}

func TestUnregisterBySource(t *testing.T) {
	r := NewRegistry(nil)
	mustRegister(t, r, "header", "doomed", 5, HTML("one"))
	mustRegister(t, r, "footer", "doomed", 0, HTML("two"))
	mustRegister(t, r, "header", "keeper", 0, HTML("three"))
	require.NoError(t, r.InjectStyle(StyleInjection{Source: "doomed", CSS: ".x{}"}))

	removed := r.UnregisterBySource("doomed")
	assert.Equal(t, 3, removed)

	for _, slot := range r.Slots() {
		for _, reg := range r.Resolve(slot, nil) {
			assert.NotEqual(t, "doomed", reg.Source)
		}
	}
	assert.Empty(t, r.Styles())
	assert.Equal(t, []string{"three"}, rendered(t, r.Resolve("header", nil)))
}

func TestHotReloadPreservesPosition(t *testing.T) {
	r := NewRegistry(nil)
	mustRegister(t, r, "header", "a", 10, HTML("old"))
	mustRegister(t, r, "header", "b", 10, HTML("stable"))

	require.NoError(t, r.HotReload("a", HTML("new")))
	assert.Equal(t, []string{"new", "stable"}, rendered(t, r.Resolve("header", nil)))

	err := r.HotReload("nobody", HTML("x"))
	assert.ErrorContains(t, err, "no registrations")
}

func TestReplaceSourceIsAtomic(t *testing.T) {
	r := NewRegistry(nil)
	mustRegister(t, r, "header", "ext", 10, HTML("old"))
	mustRegister(t, r, "header", "other", 0, HTML("other"))

	t.Run("invalid replacement leaves old set intact", func(t *testing.T) {
		err := r.ReplaceSource("ext", []Registration{
			{SlotID: "header", Source: "ext"}, // missing component
		}, nil)
		require.Error(t, err)
		assert.Equal(t, []string{"old", "other"}, rendered(t, r.Resolve("header", nil)))
	})

	t.Run("valid replacement swaps completely", func(t *testing.T) {
		err := r.ReplaceSource("ext", []Registration{
			{SlotID: "footer", Component: HTML("moved"), Source: "ext"},
		}, []StyleInjection{{Source: "ext", CSS: ".y{}"}})
		require.NoError(t, err)

		assert.Equal(t, []string{"other"}, rendered(t, r.Resolve("header", nil)))
		assert.Equal(t, []string{"moved"}, rendered(t, r.Resolve("footer", nil)))
		require.Len(t, r.Styles(), 1)
	})

	t.Run("foreign source is rejected", func(t *testing.T) {
		err := r.ReplaceSource("ext", []Registration{
			{SlotID: "s", Component: HTML("x"), Source: "intruder"},
		}, nil)
		assert.ErrorContains(t, err, "owned by")
	})
}

func TestCollectSource(t *testing.T) {
	r := NewRegistry(nil)
	mustRegister(t, r, "header", "ext", 10, HTML("one"))
	mustRegister(t, r, "footer", "ext", 0, HTML("two"))
	mustRegister(t, r, "header", "other", 0, HTML("x"))

	regs, styles := r.CollectSource("ext")
	require.Len(t, regs, 2)
	assert.Equal(t, "header", regs[0].SlotID)
	assert.Equal(t, "footer", regs[1].SlotID)
	assert.Empty(t, styles)
}

func TestConcurrentResolveAndMutate(t *testing.T) {
	r := NewRegistry(nil)
	mustRegister(t, r, "header", "base", 0, HTML("base"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		source := fmt.Sprintf("ext-%d", i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = r.Register(Registration{SlotID: "header", Component: HTML("x"), Source: source})
				r.UnregisterBySource(source)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				regs := r.Resolve("header", nil)
				// The base registration is never removed, so every
				// observed state includes it.
				assert.NotEmpty(t, regs)
			}
		}()
	}
	wg.Wait()
}
