package database

import (
	"time"
)

// TriggerRecord is one fired group
type TriggerRecord struct {
	ID      int64     `db:"id"`
	Module  string    `db:"module"`
	GroupID string    `db:"group_id"`
	Detail  string    `db:"detail"`
	FiredAt time.Time `db:"fired_at"`
}

// ModuleSession is one start/stop span of a module
type ModuleSession struct {
	ID              int64      `db:"id"`
	Module          string     `db:"module"`
	Workers         int        `db:"workers"`
	StartedAt       time.Time  `db:"started_at"`
	StoppedAt       *time.Time `db:"stopped_at"`
	DurationSeconds *int       `db:"duration_seconds"`
}

// ErrorLog represents a detailed error record
type ErrorLog struct {
	ID         int64     `db:"id"`
	Category   string    `db:"category"`
	Severity   string    `db:"severity"`
	Component  string    `db:"component"`
	Message    string    `db:"message"`
	ErrorText  *string   `db:"error_text"`
	StackTrace *string   `db:"stack_trace"`
	OccurredAt time.Time `db:"occurred_at"`
}
