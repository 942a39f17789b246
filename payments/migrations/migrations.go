// Package migrations embeds the payments schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
