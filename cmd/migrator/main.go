// Package main provides the database migration CLI for the EPAR loader.
//
// Migrations are embedded in the binary, so the tool needs only DATABASE_URL
// to bring a fresh database to the current schema.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/epar-io/eparload/internal/config"
	"github.com/epar-io/eparload/migrations"
)

const (
	version = "1.0.0"
	name    = "migrator"
)

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help information")
		showVersion = flag.Bool("version", false, "Show version information")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	if *showHelp || flag.NArg() < 1 {
		printUsage()
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	databaseURL := config.GetEnvStr("DATABASE_URL", "")
	if databaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(2)
	}

	migrationTable := config.GetEnvStr("MIGRATION_TABLE", "schema_migrations")

	runner, err := migrations.NewRunner(databaseURL, migrationTable, logger)
	if err != nil {
		logger.Error("failed to create migration runner", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = runner.Close() }()

	if err := executeCommand(flag.Arg(0), runner); err != nil {
		logger.Error("migration command failed",
			slog.String("command", flag.Arg(0)),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}

func executeCommand(command string, runner *migrations.Runner) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "version", "status":
		ver, dirty, applied, err := runner.Version()
		if err != nil {
			return err
		}

		if !applied {
			fmt.Println("schema version: none applied")

			return nil
		}

		state := "clean"
		if dirty {
			state = "dirty (needs manual intervention)"
		}

		fmt.Printf("schema version: %d (%s)\n", ver, state)

		return nil
	case "drop":
		fmt.Print("WARNING: this drops every table. Are you sure? (y/N): ")

		var response string

		_, _ = fmt.Scanln(&response)

		if response == "y" || response == "Y" {
			return runner.Drop()
		}

		fmt.Println("cancelled")

		return nil
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage() {
	fmt.Printf(`%s v%s - database migration tool for the EPAR loader

USAGE:
    %s [OPTIONS] COMMAND

COMMANDS:
    up      Apply all pending migrations
    down    Roll back the last migration
    status  Show current schema version
    version Alias for status
    drop    Drop all tables (requires confirmation)

OPTIONS:
    --help     Show this help message
    --version  Show version information

ENVIRONMENT VARIABLES:
    DATABASE_URL    PostgreSQL connection string (REQUIRED)
    MIGRATION_TABLE Migration tracking table (default: schema_migrations)
    LOG_LEVEL       Log level (default: INFO)

Migrations are embedded in the binary; no files on disk are needed.
`, name, version, name)
}
