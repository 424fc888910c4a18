package database

import (
	"database/sql"
	"fmt"
	"time"
)

// StartSession opens a session row for a module that just started.
func (db *DB) StartSession(module string, workers int) (int64, error) {
	result, err := db.conn.Exec(`
		INSERT INTO module_sessions (module, workers, started_at)
		VALUES (?, ?, ?)
	`, module, workers, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to start session: %w", err)
	}
	return result.LastInsertId()
}

// EndSession closes a session and stores its duration. Ending a session
// twice keeps the first stop time.
func (db *DB) EndSession(id int64) error {
	return db.ExecTx(func(tx *sql.Tx) error {
		var started time.Time
		var stopped sql.NullTime
		err := tx.QueryRow(`
			SELECT started_at, stopped_at FROM module_sessions WHERE id = ?
		`, id).Scan(&started, &stopped)
		if err != nil {
			return fmt.Errorf("failed to load session %d: %w", id, err)
		}
		if stopped.Valid {
			return nil
		}

		now := time.Now()
		_, err = tx.Exec(`
			UPDATE module_sessions
			SET stopped_at = ?, duration_seconds = ?
			WHERE id = ?
		`, now, int(now.Sub(started).Seconds()), id)
		return err
	})
}

// GetSession retrieves a session by ID
func (db *DB) GetSession(id int64) (*ModuleSession, error) {
	s := &ModuleSession{}
	err := db.conn.QueryRow(`
		SELECT id, module, workers, started_at, stopped_at, duration_seconds
		FROM module_sessions
		WHERE id = ?
	`, id).Scan(&s.ID, &s.Module, &s.Workers, &s.StartedAt, &s.StoppedAt, &s.DurationSeconds)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CloseOpenSessions ends every session left open, e.g. after a crash.
func (db *DB) CloseOpenSessions() (int64, error) {
	result, err := db.conn.Exec(`
		UPDATE module_sessions
		SET stopped_at = ?
		WHERE stopped_at IS NULL
	`, time.Now())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteOldSessions removes closed sessions that stopped before olderThan.
func (db *DB) DeleteOldSessions(olderThan time.Time) (int64, error) {
	result, err := db.conn.Exec(`
		DELETE FROM module_sessions
		WHERE stopped_at IS NOT NULL AND stopped_at < ?
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	return result.RowsAffected()
}
