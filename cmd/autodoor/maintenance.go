package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/syzsky/autodoor/internal/database"
	"github.com/syzsky/autodoor/internal/modules"
)

// maintenance holds the one-shot database commands given on the command line.
type maintenance struct {
	backup    string
	pruneDays int
	migrateTo int
	history   int
}

func (m maintenance) requested() bool {
	return m.backup != "" || m.pruneDays > 0 || m.migrateTo >= 0 || m.history > 0
}

// run executes every requested command. The backup is taken before anything
// that deletes data.
func (m maintenance) run(db *database.DB) error {
	if m.backup != "" {
		if err := db.Backup(m.backup); err != nil {
			return err
		}
		fmt.Printf("Backup written to %s\n", m.backup)
	}

	if m.migrateTo >= 0 {
		if err := db.Rollback(m.migrateTo); err != nil {
			return fmt.Errorf("failed to roll back schema: %w", err)
		}
		version, err := db.GetVersion()
		if err != nil {
			return err
		}
		fmt.Printf("Schema now at version %d of %d\n", version, database.LatestVersion())
	}

	if m.pruneDays > 0 {
		res, err := db.Prune(time.Now().AddDate(0, 0, -m.pruneDays))
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d triggers, %d sessions, %d errors\n", res.Triggers, res.Sessions, res.Errors)
	}

	if m.history > 0 {
		return printHistory(db, m.history)
	}
	return nil
}

func printHistory(db *database.DB, limit int) error {
	triggers, err := db.GetRecentTriggers("", limit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	for _, t := range triggers {
		fmt.Printf("%s  %-6s  %-36s  %s\n", t.FiredAt.Format("2006-01-02 15:04:05"), t.Module, t.GroupID, t.Detail)
	}

	since := time.Now().Add(-24 * time.Hour)
	counts, err := db.GetTriggerCounts(since)
	if err != nil {
		return fmt.Errorf("failed to read counts: %w", err)
	}
	for _, kind := range modules.All {
		if n := counts[kind.String()]; n > 0 {
			fmt.Printf("%s: %d in the last 24h\n", kind, n)
		}
	}

	byCategory, err := db.GetErrorStatsByCategory(since, time.Now())
	if err != nil {
		return fmt.Errorf("failed to read error stats: %w", err)
	}
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	for _, c := range categories {
		fmt.Printf("%s errors: %d in the last 24h\n", c, byCategory[c])
	}

	recent, err := db.GetRecentErrors(5)
	if err != nil {
		return fmt.Errorf("failed to read errors: %w", err)
	}
	for _, e := range recent {
		fmt.Printf("%s  %-8s  %-10s  %s\n", e.OccurredAt.Format("2006-01-02 15:04:05"), e.Severity, e.Component, e.Message)
	}

	version, err := db.GetVersion()
	if err != nil {
		return err
	}
	stats, err := db.GetStats()
	if err != nil {
		return err
	}
	fmt.Printf("Schema version %d, %d triggers, %d sessions, %d errors stored\n",
		version, stats["triggers"], stats["module_sessions"], stats["error_log"])
	return nil
}
