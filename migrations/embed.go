// Package migrations embeds the goose SQL migrations that define the
// mnemo schema. The store applies them on startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
