// Package migrations embeds the SQL schema files into the binary so the
// bridge can initialise its local cache without shipping loose files.
package migrations

import (
	"embed"

	"github.com/duwi2024/duwi-bridge/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
