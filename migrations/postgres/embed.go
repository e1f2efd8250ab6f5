// Package migrations embeds SQL migration files.
package migrations

import "embed"

// FS contains the postgres schema migrations, applied in lexical order.
//
//go:embed *_up.sql
var FS embed.FS
