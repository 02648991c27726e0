// Package db embeds the shop's PostgreSQL schema.
package db

import _ "embed"

// Schema creates the catalog, coupon, order, invoice, audit and API key
// tables. Every statement is idempotent so it runs on each start.
//
//go:embed migrations/001_schema.sql
var Schema string
