package repository

import (
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/RealZimboGuy/seqflow/internal/config"
	"github.com/RealZimboGuy/seqflow/internal/migrations"

	_ "github.com/go-sql-driver/mysql"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Open migrates and connects to the database selected by SEQFLOW_DATABASE_TYPE.
func Open() (*sql.DB, error) {
	switch t := config.GetSystemSettingString(config.DATABASE_TYPE); t {
	case config.DATABASE_TYPE_POSTGRES:
		return OpenPostgres(config.GetSystemSettingString(config.DATABASE_URL))
	case config.DATABASE_TYPE_MYSQL:
		return OpenMySQL(config.GetSystemSettingString(config.DATABASE_URL))
	case config.DATABASE_TYPE_SQLLITE:
		return OpenSQLite(config.GetSystemSettingString(config.DATABASE_SQLLITE_FILE_NAME))
	default:
		return nil, fmt.Errorf("%s must be one of POSTGRES, MYSQL, SQLLITE, got %q", config.DATABASE_TYPE, t)
	}
}

func OpenPostgres(dbURL string) (*sql.DB, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("%s must be set when using the POSTGRES database type", config.DATABASE_URL)
	}
	slog.Info("Using Postgres database")
	if err := Migrate("postgres", dbURL); err != nil {
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenSQLite keeps a single connection so ticks running in parallel queue
// up instead of failing with "database is locked".
func OpenSQLite(fileName string) (*sql.DB, error) {
	if fileName == "" {
		return nil, fmt.Errorf("%s must be set", config.DATABASE_SQLLITE_FILE_NAME)
	}
	slog.Info("Using SQLite database", "file", fileName)
	if err := Migrate("sqlite3", "sqlite3://"+fileName); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	db, err := sql.Open("sqlite3", fileName)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenMySQL expects a mysql:// url with parseTime=true, the driver gets the
// url without its scheme.
func OpenMySQL(dbURL string) (*sql.DB, error) {
	if !strings.HasPrefix(dbURL, "mysql://") {
		return nil, fmt.Errorf("%s must start with 'mysql://' for MySQL", config.DATABASE_URL)
	}
	if !strings.Contains(dbURL, "parseTime=true") {
		return nil, fmt.Errorf("%s must contain 'parseTime=true' for MySQL", config.DATABASE_URL)
	}
	slog.Info("Using MySQL database")
	if err := Migrate("mysql", dbURL); err != nil {
		return nil, fmt.Errorf("migrate mysql: %w", err)
	}
	db, err := sql.Open("mysql", strings.TrimPrefix(dbURL, "mysql://"))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate runs the embedded migrations of one driver directory up to the latest version.
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
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}
