package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/RealZimboGuy/rpaflow/internal/config"
	"github.com/RealZimboGuy/rpaflow/internal/migrations"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrWorkflowReferenced = errors.New("workflow is referenced by run history")
	ErrWorkflowNameTaken  = errors.New("workflow name already in use")
	ErrRunNotActive       = errors.New("run is not pending or running")
)

// Open runs the embedded migrations for the configured database type and
// returns a ready connection pool.
func Open() (*sql.DB, error) {
	databaseType := config.GetSystemSettingString(config.DATABASE_TYPE)
	switch databaseType {
	case config.DATABASE_TYPE_POSTGRES:
		return openPostgres()
	case config.DATABASE_TYPE_MYSQL:
		return openMysql()
	case config.DATABASE_TYPE_SQLLITE:
		return OpenSqlLite(config.GetSystemSettingString(config.DATABASE_SQLLITE_FILE_NAME))
	}
	return nil, fmt.Errorf("%s must be one of POSTGRES, MYSQL, SQLLITE, got %q", config.DATABASE_TYPE, databaseType)
}

func openPostgres() (*sql.DB, error) {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		return nil, fmt.Errorf("%s must be set when using the POSTGRES database type", config.DATABASE_URL)
	}
	slog.Info("Running migrations", "database", "postgres")
	if err := Migrate("postgres", dbURL); err != nil {
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, err
	}
	return db, db.Ping()
}

func openMysql() (*sql.DB, error) {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		return nil, fmt.Errorf("%s must be set when using the MYSQL database type", config.DATABASE_URL)
	}
	if !strings.Contains(dbURL, "parseTime=true") {
		return nil, fmt.Errorf("%s must contain 'parseTime=true' for MySQL", config.DATABASE_URL)
	}
	if !strings.HasPrefix(dbURL, "mysql://") {
		return nil, fmt.Errorf("%s must start with 'mysql://' for MySQL", config.DATABASE_URL)
	}
	slog.Info("Running migrations", "database", "mysql")
	if err := Migrate("mysql", dbURL); err != nil {
		return nil, fmt.Errorf("migrate mysql: %w", err)
	}
	//the driver wants the DSN without the scheme
	db, err := sql.Open("mysql", strings.Replace(dbURL, "mysql://", "", 1))
	if err != nil {
		return nil, err
	}
	return db, db.Ping()
}

// OpenSqlLite migrates and opens a SQLite file. Writes are serialised through a
// single connection since SQLite allows one writer at a time.
func OpenSqlLite(fileName string) (*sql.DB, error) {
	if fileName == "" {
		return nil, fmt.Errorf("%s must be set", config.DATABASE_SQLLITE_FILE_NAME)
	}
	slog.Info("Running migrations", "database", "sqlite", "file", fileName)
	if err := Migrate("sqllite3", "sqlite3://"+fileName); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	db, err := sql.Open("sqlite3", fileName+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, db.Ping()
}

// Migrate applies the embedded migrations found under dir to dbURL.
func Migrate(dir string, dbURL string) error {
	sub, err := fs.Sub(migrations.FS, dir)
	if err != nil {
		return err
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
