// Package migrations embedea las migraciones SQL del gateway para poder
// correrlas sin depender del working directory.
package migrations

import "embed"

// FS contiene las migraciones core (*_up.sql / *_down.sql).
//
//go:embed *.sql
var FS embed.FS
