package migrations

import "embed"

// FS contains embedded SQLite migrations for pool and session storage.
//
//go:embed *.sql
var FS embed.FS
