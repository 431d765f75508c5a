// Package migrations embeds the PostgreSQL schema for the sentry record store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
