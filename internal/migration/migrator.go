package migration

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// Database drivers resolve the connection URL scheme.
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
)

//go:embed migrations
var migrationFS embed.FS

// Dialect selects which embedded migration set and database driver to use.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect maps driver name aliases onto a supported dialect.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", s)
	}
}

// ConnectionURL assembles the connection URL the migration engine expects for
// one dialect. For SQLite the name is the database file path and the
// remaining parameters are ignored.
func ConnectionURL(d Dialect, host string, port int, name, user, password, sslMode string) string {
	switch d {
	case DialectPostgres:
		if sslMode == "" {
			sslMode = "require"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", user, password, host, port, name, sslMode)
	case DialectMySQL:
		return fmt.Sprintf("mysql://%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true", user, password, host, port, name)
	case DialectSQLite:
		return "sqlite://" + name
	default:
		return ""
	}
}

// StatusEntry is one embedded migration and whether the database has it.
type StatusEntry struct {
	Version uint
	Name    string
	Applied bool
}

// Status describes the embedded migration set against the database state.
type Status struct {
	Current uint
	Dirty   bool
	Entries []StatusEntry
}

// AppliedCount returns how many embedded migrations the database has.
func (s *Status) AppliedCount() int {
	n := 0
	for _, e := range s.Entries {
		if e.Applied {
			n++
		}
	}
	return n
}

// PendingCount returns how many embedded migrations the database lacks.
func (s *Status) PendingCount() int {
	return len(s.Entries) - s.AppliedCount()
}

// Migrator applies the schema migrations embedded in this package. The
// migration engine owns the database connection; Close releases it.
type Migrator struct {
	dialect Dialect
	engine  *migrate.Migrate
}

// New opens a migrator for the given dialect and connection URL.
func New(dialect Dialect, databaseURL string) (*Migrator, error) {
	if databaseURL == "" {
		return nil, errors.New("migration: connection URL must not be empty")
	}
	src, err := iofs.New(migrationFS, migrationsDir(dialect))
	if err != nil {
		return nil, fmt.Errorf("migration: load embedded %s migrations: %w", dialect, err)
	}
	engine, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("migration: open %s database: %w", dialect, err)
	}
	return &Migrator{dialect: dialect, engine: engine}, nil
}

func migrationsDir(d Dialect) string {
	return path.Join("migrations", string(d))
}

// Up applies every pending migration. An already current schema is not an
// error.
func (m *Migrator) Up() error {
	return squelchNoChange(m.engine.Up(), "apply migrations")
}

// Rollback undoes the most recent migration.
func (m *Migrator) Rollback() error {
	return squelchNoChange(m.engine.Steps(-1), "roll back one migration")
}

// Reset undoes every applied migration.
func (m *Migrator) Reset() error {
	return squelchNoChange(m.engine.Down(), "roll back all migrations")
}

// Goto migrates up or down to the given version.
func (m *Migrator) Goto(version uint) error {
	return squelchNoChange(m.engine.Migrate(version), fmt.Sprintf("migrate to version %d", version))
}

// Force overwrites the recorded version without running any migration. It is
// the escape hatch for a dirty schema.
func (m *Migrator) Force(version int) error {
	if err := m.engine.Force(version); err != nil {
		return fmt.Errorf("migration: force version %d: %w", version, err)
	}
	return nil
}

// Version reports the current schema version and whether it is dirty. A
// pristine database reports version zero.
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.engine.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("migration: read version: %w", err)
	}
	return version, dirty, nil
}

// Status lists every embedded migration and whether it is applied.
func (m *Migrator) Status() (*Status, error) {
	current, dirty, err := m.Version()
	if err != nil {
		return nil, err
	}
	embedded, err := listEmbedded(m.dialect)
	if err != nil {
		return nil, err
	}

	status := &Status{Current: current, Dirty: dirty}
	for _, e := range embedded {
		status.Entries = append(status.Entries, StatusEntry{
			Version: e.version,
			Name:    e.name,
			Applied: e.version <= current,
		})
	}
	return status, nil
}

// Close releases the migration engine and its database connection.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.engine.Close()
	return errors.Join(srcErr, dbErr)
}

func squelchNoChange(err error, op string) error {
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration: %s: %w", op, err)
	}
	return nil
}

type embeddedMigration struct {
	version uint
	name    string
}

// listEmbedded parses the up-migration filenames of one dialect, sorted by
// version. Filenames follow the NNNNNN_name.up.sql convention.
func listEmbedded(d Dialect) ([]embeddedMigration, error) {
	entries, err := fs.ReadDir(migrationFS, migrationsDir(d))
	if err != nil {
		return nil, fmt.Errorf("migration: read embedded %s migrations: %w", d, err)
	}

	var out []embeddedMigration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		prefix, rest, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		version, err := strconv.ParseUint(prefix, 10, 32)
		if err != nil {
			continue
		}
		out = append(out, embeddedMigration{
			version: uint(version),
			name:    strings.TrimSuffix(rest, ".up.sql"),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}
