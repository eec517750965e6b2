// Package db provides the embedded database schema.
package db

import _ "embed"

// Schema contains the DDL for the realtime node table, its change
// notification trigger and the account tables.
//
//go:embed migrations/001_schema.sql
var Schema string
