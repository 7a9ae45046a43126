package slots

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registration binds a component to a slot on behalf of an extension.
type Registration struct {
	SlotID    string
	Component Component
	// Source is the id of the owning extension. Every registration is
	// removed when its source is disabled or uninstalled.
	Source   string
	Priority int
	// Condition filters the registration at resolve time; nil always passes.
	Condition Condition

	// seq is the registration-order sequence number, the stable tie-break
	// for equal priorities.
	seq uint64
}

// StyleInjection is a stylesheet contributed by an extension, collected by
// the host's page renderer.
type StyleInjection struct {
	Source   string
	CSS      string
	Priority int

	seq uint64
}

// Registry maintains, per named slot, the ordered set of component
// registrations contributed by enabled extensions. A single Registry is
// constructed per application instance; there is no package-level state.
type Registry struct {
	mu     sync.RWMutex
	slots  map[string][]*Registration
	styles []*StyleInjection
	seq    uint64
	logger *slog.Logger
}

// NewRegistry creates and initializes a new Registry instance.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		slots:  make(map[string][]*Registration),
		logger: logger,
	}
}

func validate(reg Registration) error {
	if reg.SlotID == "" {
		return fmt.Errorf("slot registration: slot id is required")
	}
	if reg.Component == nil {
		return fmt.Errorf("slot registration: component is required")
	}
	if reg.Source == "" {
		return fmt.Errorf("slot registration: source extension id is required")
	}
	return nil
}

// Register adds a registration to its slot. The slot id, component, and
// source must all be present.
func (r *Registry) Register(reg Registration) error {
	if err := validate(reg); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	reg.seq = r.seq
	r.slots[reg.SlotID] = append(r.slots[reg.SlotID], &reg)
	r.logger.Debug("Registered slot component.", "slot", reg.SlotID, "source", reg.Source, "priority", reg.Priority)
	return nil
}

// InjectStyle records a stylesheet contribution.
func (r *Registry) InjectStyle(style StyleInjection) error {
	if style.Source == "" {
		return fmt.Errorf("style injection: source extension id is required")
	}
	if style.CSS == "" {
		return fmt.Errorf("style injection: css is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	style.seq = r.seq
	r.styles = append(r.styles, &style)
	r.logger.Debug("Injected style.", "source", style.Source, "bytes", len(style.CSS))
	return nil
}

// Resolve returns the registrations for a slot whose condition passes the
// given render context, ordered by descending priority. Registrations with
// equal priority keep their original registration order, so resolution is
// reproducible across repeated calls with identical inputs.
func (r *Registry) Resolve(slotID string, rc RenderContext) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	regs := r.slots[slotID]
	out := make([]Registration, 0, len(regs))
	for _, reg := range regs {
		if reg.Condition != nil && !reg.Condition(rc) {
			continue
		}
		out = append(out, *reg)
	}

	// The backing slice is in registration order, so a stable sort on
	// priority alone preserves the sequence tie-break.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

// Styles returns every style injection, ordered by descending priority with
// the registration-order tie-break.
func (r *Registry) Styles() []StyleInjection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]StyleInjection, 0, len(r.styles))
	for _, s := range r.styles {
		out = append(out, *s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

// Slots returns the ids of all slots that currently have registrations.
func (r *Registry) Slots() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.slots))
	for id, regs := range r.slots {
		if len(regs) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// UnregisterBySource removes every registration and style injection owned by
// the given extension, across all slots, in one atomic step. No Resolve call
// after this returns may observe a component from that source.
func (r *Registry) UnregisterBySource(source string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeSourceLocked(source)
}

func (r *Registry) removeSourceLocked(source string) int {
	removed := 0
	for slotID, regs := range r.slots {
		kept := regs[:0]
		for _, reg := range regs {
			if reg.Source == source {
				removed++
				continue
			}
			kept = append(kept, reg)
		}
		if len(kept) == 0 {
			delete(r.slots, slotID)
		} else {
			r.slots[slotID] = kept
		}
	}

	keptStyles := r.styles[:0]
	for _, s := range r.styles {
		if s.Source == source {
			removed++
			continue
		}
		keptStyles = append(keptStyles, s)
	}
	r.styles = keptStyles

	if removed > 0 {
		r.logger.Debug("Unregistered source.", "source", source, "removed", removed)
	}
	return removed
}

// HotReload replaces the component handle of every registration owned by the
// given source, in place. Priority, condition, and position are all
// preserved, so live updates do not disturb resolution order.
func (r *Registry) HotReload(source string, handle Component) error {
	if handle == nil {
		return fmt.Errorf("hot reload: component is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	replaced := 0
	for _, regs := range r.slots {
		for _, reg := range regs {
			if reg.Source == source {
				reg.Component = handle
				replaced++
			}
		}
	}
	if replaced == 0 {
		return fmt.Errorf("hot reload: no registrations owned by %q", source)
	}
	r.logger.Debug("Hot reloaded component handle.", "source", source, "replaced", replaced)
	return nil
}

// ReplaceSource atomically swaps every registration and style owned by the
// given source for the provided new set. The swap happens under a single
// write lock: a concurrent Resolve sees either the complete old set or the
// complete new set, never a partial state. Validation happens before any
// mutation, so an invalid entry leaves the previous set fully intact.
func (r *Registry) ReplaceSource(source string, regs []Registration, styles []StyleInjection) error {
	for _, reg := range regs {
		if err := validate(reg); err != nil {
			return err
		}
		if reg.Source != source {
			return fmt.Errorf("replace source %q: registration owned by %q", source, reg.Source)
		}
	}
	for _, s := range styles {
		if s.Source != source {
			return fmt.Errorf("replace source %q: style owned by %q", source, s.Source)
		}
		if s.CSS == "" {
			return fmt.Errorf("style injection: css is required")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeSourceLocked(source)
	for _, reg := range regs {
		reg := reg
		r.seq++
		reg.seq = r.seq
		r.slots[reg.SlotID] = append(r.slots[reg.SlotID], &reg)
	}
	for _, s := range styles {
		s := s
		r.seq++
		s.seq = r.seq
		r.styles = append(r.styles, &s)
	}
	r.logger.Debug("Replaced source registrations.", "source", source, "registrations", len(regs), "styles", len(styles))
	return nil
}

// CollectSource returns copies of the registrations and styles currently
// owned by the given source, in registration order. Used to stage
// transactional reloads.
func (r *Registry) CollectSource(source string) ([]Registration, []StyleInjection) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var regs []*Registration
	for _, slotRegs := range r.slots {
		for _, reg := range slotRegs {
			if reg.Source == source {
				regs = append(regs, reg)
			}
		}
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].seq < regs[j].seq })

	outRegs := make([]Registration, 0, len(regs))
	for _, reg := range regs {
		outRegs = append(outRegs, *reg)
	}

	var outStyles []StyleInjection
	for _, s := range r.styles {
		if s.Source == source {
			outStyles = append(outStyles, *s)
		}
	}
	return outRegs, outStyles
}
