// Package migrations embeds the versioned schema files, one directory per
// SQL dialect.
package migrations

import "embed"

//go:embed mysql/*.sql sqlite/*.sql
var FS embed.FS
