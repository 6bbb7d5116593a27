package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/studyloop/internal/storage/migrations"
	_ "github.com/mattn/go-sqlite3"
)

// DB is the on-device database holding the key/value cache and the
// analytics projection. One file serves both.
type DB struct {
	*sql.DB
	path string
}

// Open connects to the database at path, creating its directory. Writes are
// serialized through a single connection.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	return &DB{DB: db, path: path}, nil
}

// OpenMigrated opens path and brings its schema up to date
func OpenMigrated(path string) (*DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the database file location
func (db *DB) Path() string {
	return db.path
}

// Migrate applies pending schema migrations
func (db *DB) Migrate() error {
	if _, err := migrations.Apply(db.DB, migrations.SQLite, migrations.SQLiteDialect); err != nil {
		return fmt.Errorf("migrate %s: %w", db.path, err)
	}
	return nil
}

// Version returns the current schema version
func (db *DB) Version() (int, error) {
	return migrations.Version(db.DB)
}
