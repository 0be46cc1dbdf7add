package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps a database connection to the conversation store. The backing
// store is a remote Postgres in production; SQLite serves local and test
// deployments. All adapter SQL uses $N placeholders, which both drivers
// accept.
type DB struct {
	*sql.DB
	driver string
}

// Open creates a connection for the given driver ("postgres" or "sqlite3")
// and verifies it. SQLite paths get WAL mode and recommended pragmas.
func Open(driver, dsn string) (*DB, error) {
	if driver == "sqlite3" && !strings.Contains(dsn, "?") {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db, driver: driver}, nil
}

// Driver returns the driver name this connection was opened with.
func (db *DB) Driver() string {
	return db.driver
}
