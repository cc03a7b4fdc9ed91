// Package migrations embeds the numbered schema files applied by
// "id3c migrate up".
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
