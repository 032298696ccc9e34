// Package migrations contiene el esquema SQL del ledger, embebido para goose.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
