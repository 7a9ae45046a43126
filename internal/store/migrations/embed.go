// Package migrations embeds the store's schema migration files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
