package db

import (
	"fmt"
	"io"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand. Output goes to w.
func RunMigrateCommand(w io.Writer, args []string, dbPath string) error {
	if len(args) < 1 {
		PrintMigrateHelp(w)
		return fmt.Errorf("missing migrate action")
	}
	action := args[0]
	if action == "help" {
		PrintMigrateHelp(w)
		return nil
	}

	// Open database connection without running schema initialization
	// (migrations will manage the schema)
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action {
	case "up":
		if err := database.MigrateUp(); err != nil {
			return err
		}
		fmt.Fprintln(w, "✓ All migrations applied successfully")

	case "down":
		if err := database.MigrateDown(); err != nil {
			return err
		}
		fmt.Fprintln(w, "✓ Migration rolled back successfully")

	case "status", "version":

	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: planner migrate force <version_number>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version number %q: %w", args[1], err)
		}
		if err := database.MigrateForce(version); err != nil {
			return err
		}
		fmt.Fprintf(w, "✓ Forced version to %d\n", version)

	default:
		PrintMigrateHelp(w)
		return fmt.Errorf("unknown migrate action: %s", action)
	}

	version, dirty, err := database.MigrateVersion()
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	latest, err := LatestMigrationVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Current version: %d (latest %d, dirty: %v)\n", version, latest, dirty)
	return nil
}

// PrintMigrateHelp displays help for migrate commands
func PrintMigrateHelp(w io.Writer) {
	fmt.Fprint(w, `Usage: planner migrate <action> [args]

Actions:
  up                Apply all pending migrations
  down              Roll back the most recent migration
  status            Show current migration version
  version           Alias for status
  force <version>   Force the version after a failed migration
  help              Show this help
`)
}
