package migrations

import "embed"

// Files embeds the goose SQL migrations, versioned by their numeric prefix.
//
//go:embed *.sql
var Files embed.FS
