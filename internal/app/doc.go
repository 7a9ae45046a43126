// Package app wires the extension host together: configuration, logging,
// the record store, the slot registry, the hook manager, the lifecycle
// service, and the development-mode hot reload loop. Each App instance is
// fully isolated, with its own logger and registries, so tests can run many
// hosts side by side.
package app
