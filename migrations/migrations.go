// Package migrations embeds the Postgres schema for the draft store and event log.
package migrations

import "embed"

// Files holds the numbered up/down SQL scripts.
//
//go:embed *.sql
var Files embed.FS
