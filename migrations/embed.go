// Package migrations embeds the invocation journal schema so the binary can
// migrate without a migrations directory on disk.
package migrations

import "embed"

// FS holds the .sql migrations in name order.
//
//go:embed *.sql
var FS embed.FS
