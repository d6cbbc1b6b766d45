// Package migrations holds the PostgreSQL schema applied by cmd/migrate.
package migrations

import "embed"

// FS contains every *.sql migration, applied in filename order.
//
//go:embed *.sql
var FS embed.FS
