package migrations

import "embed"

// FS contains embedded SQLite migrations for the offline queue.
//
//go:embed *.sql
var FS embed.FS
