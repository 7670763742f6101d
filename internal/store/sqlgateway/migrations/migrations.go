// Package migrations embeds the goose migration files for the self-hosted
// SQL backend.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
