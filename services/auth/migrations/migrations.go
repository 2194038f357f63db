// Package migrations embeds the auth service's SQL schema.
package migrations

import "embed"

// FS holds the *.sql migration files, applied in lexical order.
//
//go:embed *.sql
var FS embed.FS
