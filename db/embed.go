// Package db provides the embedded PostgreSQL schema.
package db

import _ "embed"

// Schema contains the idempotent DDL for shops, coupons and API keys.
//
//go:embed migrations/001_schema.sql
var Schema string
