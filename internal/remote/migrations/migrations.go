// Package migrations embeds the goose migrations of the remote task table.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
