package database

import (
	"context"
	"fmt"
	"time"

	"github.com/syzsky/autodoor/internal/modules"
)

// RecordTrigger stores one fired group.
func (db *DB) RecordTrigger(ctx context.Context, t modules.Trigger) error {
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO triggers (module, group_id, detail, fired_at)
		VALUES (?, ?, ?, ?)
	`, t.Module.String(), t.GroupID, t.Detail, at)
	if err != nil {
		return fmt.Errorf("failed to record trigger: %w", err)
	}
	return nil
}

// GetRecentTriggers returns the newest triggers first. An empty module
// matches every module.
func (db *DB) GetRecentTriggers(module string, limit int) ([]*TriggerRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, module, group_id, detail, fired_at
		FROM triggers
	`
	args := []interface{}{}
	if module != "" {
		query += " WHERE module = ?"
		args = append(args, module)
	}
	query += " ORDER BY fired_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*TriggerRecord{}
	for rows.Next() {
		r := &TriggerRecord{}
		if err := rows.Scan(&r.ID, &r.Module, &r.GroupID, &r.Detail, &r.FiredAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// GetTriggerCounts returns how often each module fired since the given time.
func (db *DB) GetTriggerCounts(since time.Time) (map[string]int, error) {
	rows, err := db.conn.Query(`
		SELECT module, COUNT(*)
		FROM triggers
		WHERE fired_at >= ?
		GROUP BY module
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var module string
		var n int
		if err := rows.Scan(&module, &n); err != nil {
			return nil, err
		}
		counts[module] = n
	}
	return counts, rows.Err()
}

// DeleteOldTriggers prunes history older than the given time.
func (db *DB) DeleteOldTriggers(olderThan time.Time) (int64, error) {
	result, err := db.conn.Exec(`DELETE FROM triggers WHERE fired_at < ?`, olderThan)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
