package tabletop

import "embed"

// WebFS holds the lobby pages served at "/".
//
//go:embed web
var WebFS embed.FS
