package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/syzsky/autodoor/internal/logging"
)

// Error logging operations

// LogError stores a reported failure
func (db *DB) LogError(report *logging.ErrorReport) (int64, error) {
	var errText *string
	if report.Error != nil {
		s := report.Error.Error()
		errText = &s
	}
	var stack *string
	if report.StackTrace != "" {
		stack = &report.StackTrace
	}
	occurred := report.Timestamp
	if occurred.IsZero() {
		occurred = time.Now()
	}

	var errorID int64
	err := db.ExecTx(func(tx *sql.Tx) error {
		result, err := tx.Exec(`
			INSERT INTO error_log (
				category, severity, component, message,
				error_text, stack_trace, occurred_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`, string(report.Category), string(report.Severity), report.Component,
			report.Message, errText, stack, occurred)

		if err != nil {
			return fmt.Errorf("failed to insert error log: %w", err)
		}

		errorID, err = result.LastInsertId()
		return err
	})

	if err != nil {
		return 0, err
	}

	return errorID, nil
}

// GetRecentErrors returns the most recent errors
func (db *DB) GetRecentErrors(limit int) ([]*ErrorLog, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.conn.Query(`
		SELECT
			id, category, severity, component, message,
			error_text, stack_trace, occurred_at
		FROM error_log
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`, limit)

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	errors := []*ErrorLog{}
	for rows.Next() {
		errorLog := &ErrorLog{}
		err := rows.Scan(
			&errorLog.ID, &errorLog.Category, &errorLog.Severity,
			&errorLog.Component, &errorLog.Message, &errorLog.ErrorText,
			&errorLog.StackTrace, &errorLog.OccurredAt,
		)
		if err != nil {
			return nil, err
		}
		errors = append(errors, errorLog)
	}

	return errors, rows.Err()
}

// GetErrorStatsByCategory returns error counts grouped by category
func (db *DB) GetErrorStatsByCategory(startDate, endDate time.Time) (map[string]int, error) {
	rows, err := db.conn.Query(`
		SELECT category, COUNT(*) as count
		FROM error_log
		WHERE occurred_at BETWEEN ? AND ?
		GROUP BY category
	`, startDate, endDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, err
		}
		stats[category] = count
	}

	return stats, rows.Err()
}

// DeleteOldErrors deletes error logs older than the specified date
func (db *DB) DeleteOldErrors(olderThan time.Time) (int64, error) {
	var deleted int64
	err := db.ExecTx(func(tx *sql.Tx) error {
		result, err := tx.Exec(`
			DELETE FROM error_log
			WHERE occurred_at < ?
		`, olderThan)

		if err != nil {
			return err
		}

		deleted, err = result.RowsAffected()
		return err
	})

	return deleted, err
}
