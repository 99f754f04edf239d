package store

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
)

//go:embed migrations
var migrationsFS embed.FS

// DevMode switches migrations from the embedded copy to the on-disk
// directory, so new .sql files can be iterated on without rebuilding.
var DevMode = false

// devMigrationsDir is where the live migration files sit relative to the
// repository root.
const devMigrationsDir = "internal/store/migrations"

// getMigrationsFS returns the migrations filesystem with the .sql files at
// its root: the embedded copy normally, the working tree in DevMode.
func getMigrationsFS() (fs.FS, error) {
	if DevMode {
		if _, err := os.Stat(devMigrationsDir); err != nil {
			return nil, fmt.Errorf("dev mode: migrations directory not found: %w", err)
		}
		return os.DirFS(devMigrationsDir), nil
	}
	return fs.Sub(migrationsFS, "migrations")
}
