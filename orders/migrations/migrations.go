// Package migrations embeds the orders schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
