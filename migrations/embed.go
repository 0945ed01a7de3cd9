// Package migrations embeds the SQL schema applied by cmd/ledgerctl.
package migrations

import "embed"

// FS holds the versioned *.up.sql and *.down.sql files.
//
//go:embed *.sql
var FS embed.FS
