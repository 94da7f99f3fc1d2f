package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// One process owns each file (relayd's history, relaychat's offline queue),
// guarded by the state dir lock. WAL with NORMAL sync keeps appends cheap; a
// crash can lose the last commit but never corrupts the file.
const dsnParams = "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate"

// DB wraps a single SQLite connection.
type DB struct {
	*sql.DB
	path string
}

// Open opens or creates the database at path. The parent directory is
// created if needed and the file is restricted to its owner, since both the
// history and the offline queue hold message text.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("open db: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?"+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Every statement goes through one connection so writers never contend.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("restrict db %s: %w", path, err)
	}
	return &DB{DB: db, path: path}, nil
}

// Path returns the database file.
func (db *DB) Path() string { return db.path }
