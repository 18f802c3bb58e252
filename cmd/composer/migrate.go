// Copyright (c) Composer Authors.
// Licensed under the MIT License.

package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/albertlabs/composer/config"
	"github.com/albertlabs/composer/internal/migration"
)

// runMigrate dispatches the migrate subcommands.
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "up":
		runMigrateUp(subargs)
	case "down":
		runMigrateDown(subargs)
	case "status":
		runMigrateStatus(subargs)
	case "version":
		runMigrateVersion(subargs)
	case "goto":
		runMigrateGoto(subargs)
	case "force":
		runMigrateForce(subargs)
	case "reset":
		runMigrateReset(subargs)
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}
}

func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  composer migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration
  status    Show migration status
  version   Show current migration version
  goto      Migrate to a specific version
  force     Force set migration version (use with caution)
  reset     Rollback all migrations
  help      Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  composer migrate up
  composer migrate up --config /etc/composer/config.yaml
  composer migrate down
  composer migrate down --all
  composer migrate status
  composer migrate goto 1
  composer migrate force 0
  composer migrate reset`)
}

// migrateFlags are the connection flags shared by every subcommand.
type migrateFlags struct {
	configPath *string
	dbType     *string
	dbURL      *string
}

func registerMigrateFlags(fs *flag.FlagSet) migrateFlags {
	return migrateFlags{
		configPath: fs.String("config", "", "Path to config file"),
		dbType:     fs.String("db-type", "", "Database type (postgres, mysql, sqlite)"),
		dbURL:      fs.String("db-url", "", "Database connection URL"),
	}
}

// createMigrator builds a migrator from the parsed flags. Explicit --db-type
// and --db-url win over the config file.
func (f migrateFlags) createMigrator() (*migration.Migrator, error) {
	if *f.dbType != "" && *f.dbURL != "" {
		return migration.FromURL(*f.dbType, *f.dbURL)
	}

	loader := config.NewLoader()
	if *f.configPath != "" {
		loader = loader.WithConfigPath(*f.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if *f.dbType != "" {
		cfg.Database.Driver = *f.dbType
	}
	return migration.FromDatabaseConfig(cfg.Database)
}

// withCLI parses flags, builds the migrator and runs fn against the CLI
// wrapper, exiting non-zero on failure.
func withCLI(name string, args []string, setup func(fs *flag.FlagSet), fn func(cli *migration.CLI) error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	flags := registerMigrateFlags(fs)
	if setup != nil {
		setup(fs)
	}
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		os.Exit(1)
	}

	migrator, err := flags.createMigrator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := fn(migration.NewCLI(migrator)); err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", name, err)
		os.Exit(1)
	}
}

func runMigrateUp(args []string) {
	withCLI("migrate up", args, nil, func(cli *migration.CLI) error {
		return cli.RunUp()
	})
}

func runMigrateDown(args []string) {
	var all *bool
	withCLI("migrate down", args, func(fs *flag.FlagSet) {
		all = fs.Bool("all", false, "Rollback all migrations")
	}, func(cli *migration.CLI) error {
		if *all {
			return cli.RunDownAll()
		}
		return cli.RunDown()
	})
}

func runMigrateStatus(args []string) {
	withCLI("migrate status", args, nil, func(cli *migration.CLI) error {
		return cli.RunStatus()
	})
}

func runMigrateVersion(args []string) {
	withCLI("migrate version", args, nil, func(cli *migration.CLI) error {
		return cli.RunVersion()
	})
}

func runMigrateGoto(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: composer migrate goto <version>\n")
		os.Exit(1)
	}
	version, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid version number: %s\n", args[0])
		os.Exit(1)
	}

	withCLI("migrate goto", args[1:], nil, func(cli *migration.CLI) error {
		return cli.RunGoto(uint(version))
	})
}

func runMigrateForce(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: composer migrate force <version>\n")
		os.Exit(1)
	}
	version, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid version number: %s\n", args[0])
		os.Exit(1)
	}

	withCLI("migrate force", args[1:], nil, func(cli *migration.CLI) error {
		return cli.RunForce(int(version))
	})
}

func runMigrateReset(args []string) {
	withCLI("migrate reset", args, nil, func(cli *migration.CLI) error {
		return cli.RunDownAll()
	})
}
