// Package slots implements the slot-based component registry.
//
// A slot is a named insertion point in the host UI. Enabled extensions
// contribute component registrations to slots; at render time the host asks
// the registry to resolve a slot into the final ordered, filtered list of
// components. Ordering is deterministic: priority descending, then original
// registration order for equal priorities.
//
// All mutating operations take the registry's write lock, so a concurrent
// Resolve never observes a half-applied mutation. Resolution itself is
// read-only and safe to call freely from the rendering flow.
package slots
