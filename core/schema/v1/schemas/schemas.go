// Package schemas embeds the JSON schemas for every persisted artifact.
package schemas

import "embed"

//go:embed *.schema.json
var FS embed.FS
