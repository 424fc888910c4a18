// Package database stores trigger history, module sessions and loop errors
// in a local SQLite file.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/syzsky/autodoor/internal/logging"
)

// historyTables are the tables reported by GetStats and pruned by Prune.
var historyTables = []string{"triggers", "module_sessions", "error_log"}

// DB is an open history database.
type DB struct {
	conn   *sql.DB
	path   string
	logger *logging.Logger
}

// Open opens or creates the database at dbPath.
func Open(dbPath string) (*DB, error) {
	return OpenWithLogger(dbPath, logging.NewLogger("Database"))
}

// OpenWithLogger is Open with an explicit logger.
func OpenWithLogger(dbPath string, logger *logging.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// One writer: every module records triggers through the same handle.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	return &DB{conn: conn, path: dbPath, logger: logger}, nil
}

// Close closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// Path is the database file.
func (db *DB) Path() string {
	return db.path
}

// ExecTx runs fn in a transaction, rolling back when it fails.
func (db *DB) ExecTx(fn func(*sql.Tx) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// GetVersion is the applied schema version, 0 for a fresh file.
func (db *DB) GetVersion() (int, error) {
	return db.getCurrentVersion()
}

// Backup writes a consistent copy of the database to backupPath, replacing
// any file already there.
func (db *DB) Backup(backupPath string) error {
	if err := os.MkdirAll(filepath.Dir(backupPath), 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	if err := os.Remove(backupPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to replace backup: %w", err)
	}
	if _, err := db.conn.Exec(`VACUUM INTO ?`, backupPath); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	db.logger.InfoWithContext("Database backed up", map[string]interface{}{"path": backupPath})
	return nil
}

// PruneResult counts the rows removed by Prune.
type PruneResult struct {
	Triggers int64
	Sessions int64
	Errors   int64
}

// Prune deletes history older than olderThan and compacts the file. Open
// sessions are kept whatever their age.
func (db *DB) Prune(olderThan time.Time) (PruneResult, error) {
	var res PruneResult
	var err error
	if res.Triggers, err = db.DeleteOldTriggers(olderThan); err != nil {
		return res, err
	}
	if res.Sessions, err = db.DeleteOldSessions(olderThan); err != nil {
		return res, err
	}
	if res.Errors, err = db.DeleteOldErrors(olderThan); err != nil {
		return res, err
	}
	if _, err := db.conn.Exec(`VACUUM`); err != nil {
		return res, fmt.Errorf("failed to compact database: %w", err)
	}

	db.logger.InfoWithContext("History pruned", map[string]interface{}{
		"before":   olderThan.Format(time.RFC3339),
		"triggers": res.Triggers,
		"sessions": res.Sessions,
		"errors":   res.Errors,
	})
	return res, nil
}

// GetStats returns the row count of every history table that exists.
func (db *DB) GetStats() (map[string]int64, error) {
	stats := make(map[string]int64, len(historyTables))
	for _, table := range historyTables {
		var exists bool
		err := db.conn.QueryRow(`
			SELECT COUNT(*) > 0 FROM sqlite_master WHERE type = 'table' AND name = ?
		`, table).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect %s: %w", table, err)
		}
		if !exists {
			continue
		}

		var count int64
		if err := db.conn.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats[table] = count
	}
	return stats, nil
}
