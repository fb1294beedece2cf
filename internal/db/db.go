// Package db opens the database that backs the semantic memory index. Local
// deployments use a plain SQLite file; hosted deployments point the same URL
// at a remote libSQL instance.
package db

import (
	"database/sql"
	"fmt"

	// Registers the "libsql" driver with database/sql. Handles remote URLs
	// (libsql://, https://, wss://).
	_ "github.com/tursodatabase/libsql-client-go/libsql"

	// Pure-Go SQLite driver; libsql-client-go delegates file: URLs to it.
	_ "modernc.org/sqlite"
)

// driverName is the database/sql driver to use. Package-level so tests can
// force open errors; production always uses "libsql".
var driverName = "libsql"

// Connect opens the memory database and verifies it with a ping.
//
// Supported URL schemes:
//
//	Local file:   "file:neuroforge.db"
//	Remote libSQL: "libsql://[db-name].turso.io?authToken=[token]"
func Connect(dbURL string) (*sql.DB, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("database URL must not be empty")
	}

	conn, err := sql.Open(driverName, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return conn, nil
}
