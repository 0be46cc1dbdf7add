// Package migrations embeds the current-generation schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
