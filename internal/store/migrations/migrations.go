package migrations

import "embed"

// FS holds the numbered up/down SQL migrations applied by store.Migrate.
//
//go:embed *.sql
var FS embed.FS
