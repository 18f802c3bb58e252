package migration

import (
	"errors"
	"fmt"

	appconfig "github.com/albertlabs/composer/config"
)

// FromAppConfig builds a migrator from the loaded application configuration.
func FromAppConfig(cfg *appconfig.Config) (*Migrator, error) {
	if cfg == nil {
		return nil, errors.New("migration: config must not be nil")
	}
	return FromDatabaseConfig(cfg.Database)
}

// FromDatabaseConfig builds a migrator from the database section of the
// application configuration.
func FromDatabaseConfig(db appconfig.DatabaseConfig) (*Migrator, error) {
	dialect, err := ParseDialect(db.Driver)
	if err != nil {
		return nil, err
	}
	url := ConnectionURL(dialect, db.Host, db.Port, db.Name, db.User, db.Password, db.SSLMode)
	if url == "" {
		return nil, fmt.Errorf("migration: cannot build connection URL for driver %q", db.Driver)
	}
	return New(dialect, url)
}

// FromURL builds a migrator from an explicit driver name and connection URL,
// bypassing the application configuration.
func FromURL(driver, databaseURL string) (*Migrator, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	return New(dialect, databaseURL)
}
