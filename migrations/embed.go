// Package migrations embeds the SQL schema so goose can apply it at
// startup, from the migrate command and in tests.
package migrations

import "embed"

// FS holds all *.sql migration files embedded at compile time.
//
//go:embed *.sql
var FS embed.FS
