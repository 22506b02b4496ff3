// Package migrations holds the assessment store schema
package migrations

import "embed"

// FS contains the ordered .sql migrations
//
//go:embed *.sql
var FS embed.FS
