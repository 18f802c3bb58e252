// Copyright (c) Composer Authors.
// Licensed under the MIT License.

/*
Package migration manages versioned schema migrations for PostgreSQL, MySQL
and SQLite on top of golang-migrate. Dialect-specific SQL files are embedded
per database type and selected at runtime.

Migrator wraps a golang-migrate engine for one dialect (Up, Rollback, Reset,
Goto, Force, Version, Status). FromAppConfig, FromDatabaseConfig and FromURL
build a migrator from the application config or a raw connection URL; the
engine owns the database connection and resolves it from the URL scheme. CLI
wraps a Migrator with formatted terminal output for the migrate subcommand.

The ORM layer also auto-migrates its own tables at startup, which keeps
SQLite development setups zero-step; these migrations are the versioned path
for shared PostgreSQL and MySQL deployments.
*/
package migration
