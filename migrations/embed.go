// Package migrations embeds the pool's SQL schema. The server applies these
// at startup when the postgres catalog backend is selected; integration
// fixtures reuse the same path.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
