package store

import (
	"fmt"
	"log"
	"os"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand dispatching. The
// daemon migrates on boot; this is the manual path for operators working
// on a stopped database.
func RunMigrateCommand(args []string, dbPath string) {
	if len(args) < 1 {
		PrintMigrateHelp()
		os.Exit(1)
	}

	action := args[0]

	// Get migrations filesystem (uses embedded FS in production, local files in dev)
	migrations, err := getMigrationsFS()
	if err != nil {
		log.Fatalf("Failed to get migrations filesystem: %v", err)
	}

	st, err := Open(dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()

	switch action {
	case "up":
		log.Printf("Running migrations...")
		if err := st.MigrateUp(migrations); err != nil {
			log.Fatalf("Migration up failed: %v", err)
		}
		log.Println("✓ All migrations applied successfully")
		version, dirty, _ := st.MigrateVersion(migrations)
		log.Printf("Current version: %d (dirty: %v)", version, dirty)

	case "down":
		log.Printf("Rolling back one migration...")
		if err := st.MigrateDown(migrations); err != nil {
			log.Fatalf("Migration down failed: %v", err)
		}
		log.Println("✓ Migration rolled back successfully")
		version, dirty, _ := st.MigrateVersion(migrations)
		log.Printf("Current version: %d (dirty: %v)", version, dirty)

	case "status":
		version, dirty, err := st.MigrateVersion(migrations)
		if err != nil {
			log.Fatalf("Failed to get migration status: %v", err)
		}
		fmt.Println("=== Migration Status ===")
		fmt.Printf("Current version: %d\n", version)
		fmt.Printf("Dirty: %v\n", dirty)
		if dirty {
			fmt.Println("\nA migration failed mid-execution. Inspect the database,")
			fmt.Println("then use 'migrate force <version>' to clear the dirty flag.")
		}

	case "force":
		if len(args) < 2 {
			log.Fatal("Usage: sebtd migrate force <version_number>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatalf("Invalid version number %q: %v", args[1], err)
		}
		if err := st.MigrateForce(migrations, version); err != nil {
			log.Fatalf("Force migration failed: %v", err)
		}
		log.Printf("✓ Migration version forced to %d", version)

	case "help":
		PrintMigrateHelp()

	default:
		fmt.Printf("Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp()
		os.Exit(1)
	}
}

// PrintMigrateHelp prints usage for the migrate subcommand.
func PrintMigrateHelp() {
	fmt.Println(`Usage: sebtd migrate <action> [arguments]

Actions:
  up           Apply all pending migrations
  down         Roll back the most recent migration
  status       Show the current schema version and dirty state
  force <n>    Force the recorded version without running migrations
               (recovery from a dirty state only)
  help         Show this help`)
}
