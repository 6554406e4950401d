// Package migrations embeds the goose SQL migrations.
package migrations

import "embed"

// FS holds every migration so the API can migrate without files on disk.
//
//go:embed *.sql
var FS embed.FS
