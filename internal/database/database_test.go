package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/syzsky/autodoor/internal/logging"
	"github.com/syzsky/autodoor/internal/modules"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := OpenWithLogger(dbPath, logging.Discard())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

func TestDatabaseInitialization(t *testing.T) {
	db := openTestDB(t)

	version, err := db.GetVersion()
	if err != nil {
		t.Fatalf("Failed to get version: %v", err)
	}
	if version != LatestVersion() {
		t.Errorf("Expected version %d, got %d", LatestVersion(), version)
	}

	if _, err := os.Stat(db.Path()); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	// Running again is a no-op
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("Second migration run failed: %v", err)
	}
}

func TestRollback(t *testing.T) {
	db := openTestDB(t)

	if err := db.Rollback(1); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	version, err := db.GetVersion()
	if err != nil {
		t.Fatalf("Failed to get version: %v", err)
	}
	if version != 1 {
		t.Errorf("Expected version 1 after rollback, got %d", version)
	}
	if stats, _ := db.GetStats(); len(stats) != 0 {
		t.Errorf("Expected no tables after rollback, got %v", stats)
	}

	if err := db.RunMigrations(); err != nil {
		t.Fatalf("Failed to re-run migrations: %v", err)
	}
	if stats, _ := db.GetStats(); len(stats) != 3 {
		t.Errorf("Expected 3 tables, got %v", stats)
	}
}

func TestTriggerHistory(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute).Truncate(time.Second)

	fired := []modules.Trigger{
		{Module: modules.KindOCR, GroupID: "g1", Detail: "door", At: base},
		{Module: modules.KindNumber, GroupID: "hp", Detail: "123", At: base.Add(time.Second)},
		{Module: modules.KindOCR, GroupID: "g1", Detail: "gate", At: base.Add(2 * time.Second)},
	}
	for _, tr := range fired {
		if err := db.RecordTrigger(ctx, tr); err != nil {
			t.Fatalf("RecordTrigger: %v", err)
		}
	}

	all, err := db.GetRecentTriggers("", 10)
	if err != nil {
		t.Fatalf("GetRecentTriggers: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 triggers, got %d", len(all))
	}
	if all[0].Detail != "gate" || all[0].Module != "ocr" {
		t.Errorf("Expected newest trigger first, got %+v", all[0])
	}

	ocr, err := db.GetRecentTriggers("ocr", 1)
	if err != nil {
		t.Fatalf("GetRecentTriggers: %v", err)
	}
	if len(ocr) != 1 || ocr[0].GroupID != "g1" {
		t.Errorf("Unexpected filtered triggers %+v", ocr)
	}

	counts, err := db.GetTriggerCounts(base.Add(-time.Second))
	if err != nil {
		t.Fatalf("GetTriggerCounts: %v", err)
	}
	if counts["ocr"] != 2 || counts["number"] != 1 {
		t.Errorf("Unexpected counts %v", counts)
	}

	deleted, err := db.DeleteOldTriggers(base.Add(1500 * time.Millisecond))
	if err != nil {
		t.Fatalf("DeleteOldTriggers: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted triggers, got %d", deleted)
	}
}

func TestRecordTriggerViaHooks(t *testing.T) {
	db := openTestDB(t)
	hooks := modules.Hooks{Recorder: db}.Fill()

	if err := hooks.Triggered(context.Background(), modules.KindTimed, "t1", "space"); err != nil {
		t.Fatalf("Triggered: %v", err)
	}
	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats["triggers"] != 1 {
		t.Errorf("Expected 1 trigger row, got %d", stats["triggers"])
	}
}

func TestSessions(t *testing.T) {
	db := openTestDB(t)

	id, err := db.StartSession("timed", 3)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	s, err := db.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s.Module != "timed" || s.Workers != 3 || s.StoppedAt != nil {
		t.Errorf("Unexpected open session %+v", s)
	}

	if err := db.EndSession(id); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	s, err = db.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s.StoppedAt == nil || s.DurationSeconds == nil {
		t.Fatalf("Session not closed: %+v", s)
	}
	first := *s.StoppedAt

	if err := db.EndSession(id); err != nil {
		t.Fatalf("Second EndSession: %v", err)
	}
	s, _ = db.GetSession(id)
	if !s.StoppedAt.Equal(first) {
		t.Errorf("Second EndSession moved the stop time")
	}

	if err := db.EndSession(9999); err == nil {
		t.Error("Expected an error for an unknown session")
	}

	db.StartSession("ocr", 1)
	n, err := db.CloseOpenSessions()
	if err != nil {
		t.Fatalf("CloseOpenSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 open session closed, got %d", n)
	}
}

func TestErrorLogging(t *testing.T) {
	db := openTestDB(t)

	id, err := db.LogError(&logging.ErrorReport{
		Category:  logging.ErrorCategoryCapture,
		Severity:  logging.ErrorSeverityMedium,
		Component: "ocr",
		Message:   "Screenshot failed",
		Error:     errors.New("display closed"),
	})
	if err != nil {
		t.Fatalf("LogError: %v", err)
	}
	if id == 0 {
		t.Error("Expected a row ID")
	}

	db.LogError(&logging.ErrorReport{
		Category:  logging.ErrorCategoryInput,
		Severity:  logging.ErrorSeverityHigh,
		Component: "input",
		Message:   "Key press failed",
	})

	recent, err := db.GetRecentErrors(10)
	if err != nil {
		t.Fatalf("GetRecentErrors: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Expected 2 errors, got %d", len(recent))
	}
	var capture *ErrorLog
	for _, e := range recent {
		if e.Category == "capture" {
			capture = e
		}
	}
	if capture == nil || capture.ErrorText == nil || *capture.ErrorText != "display closed" {
		t.Errorf("Capture error not stored correctly: %+v", capture)
	}

	stats, err := db.GetErrorStatsByCategory(time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("GetErrorStatsByCategory: %v", err)
	}
	if stats["capture"] != 1 || stats["input"] != 1 {
		t.Errorf("Unexpected stats %v", stats)
	}

	deleted, err := db.DeleteOldErrors(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteOldErrors: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted errors, got %d", deleted)
	}
}

func TestTransactions(t *testing.T) {
	db := openTestDB(t)

	// Test transaction rollback on error
	err := db.ExecTx(func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO triggers (module, group_id, fired_at) VALUES (?, ?, ?)", "ocr", "g", time.Now())
		if err != nil {
			return err
		}

		// Force an error to trigger rollback
		_, err = tx.Exec("INVALID SQL QUERY")
		return err
	})
	if err == nil {
		t.Fatal("Expected the transaction to fail")
	}

	triggers, err := db.GetRecentTriggers("", 10)
	if err != nil {
		t.Fatalf("Failed to list triggers: %v", err)
	}
	if len(triggers) != 0 {
		t.Error("Transaction did not rollback correctly")
	}
}

func TestBackup(t *testing.T) {
	db := openTestDB(t)
	db.RecordTrigger(context.Background(), modules.Trigger{Module: modules.KindColor, GroupID: "color"})

	backupPath := filepath.Join(t.TempDir(), "backups", "copy.db")
	if err := db.Backup(backupPath); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	restored, err := OpenWithLogger(backupPath, logging.Discard())
	if err != nil {
		t.Fatalf("Failed to open backup: %v", err)
	}
	defer restored.Close()

	stats, err := restored.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats["triggers"] != 1 {
		t.Errorf("Expected the backup to hold 1 trigger, got %v", stats)
	}

	// A second backup replaces the first.
	db.RecordTrigger(context.Background(), modules.Trigger{Module: modules.KindColor, GroupID: "color"})
	if err := db.Backup(backupPath); err != nil {
		t.Fatalf("Second backup: %v", err)
	}
	again, err := OpenWithLogger(backupPath, logging.Discard())
	if err != nil {
		t.Fatalf("Failed to open second backup: %v", err)
	}
	defer again.Close()
	if stats, _ := again.GetStats(); stats["triggers"] != 2 {
		t.Errorf("Expected the new backup to hold 2 triggers, got %v", stats)
	}
}

func TestPrune(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	db.RecordTrigger(ctx, modules.Trigger{Module: modules.KindOCR, GroupID: "g1"})
	closed, _ := db.StartSession("ocr", 1)
	if err := db.EndSession(closed); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	open, _ := db.StartSession("timed", 2)
	db.LogError(&logging.ErrorReport{
		Category:  logging.ErrorCategoryCapture,
		Severity:  logging.ErrorSeverityLow,
		Component: "ocr",
		Message:   "capture failed",
		Timestamp: time.Now(),
	})

	res, err := db.Prune(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if res.Triggers != 1 || res.Sessions != 1 || res.Errors != 1 {
		t.Errorf("Unexpected prune result %+v", res)
	}
	if _, err := db.GetSession(open); err != nil {
		t.Errorf("Open session was pruned: %v", err)
	}
	if _, err := db.GetSession(closed); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Expected the closed session to be gone, got %v", err)
	}
}
