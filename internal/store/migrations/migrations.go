// Package migrations embeds the versioned schema applied by goose on every
// store open. Migrations are idempotent at the runner level: goose tracks the
// applied version and re-running is a no-op when current.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
