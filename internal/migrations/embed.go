package migrations

import "embed"

// FS holds one directory of golang-migrate files per dialect: postgres, mysql and sqllite3.
//
//go:embed postgres mysql sqllite3
var FS embed.FS
