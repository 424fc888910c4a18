package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/syzsky/autodoor/internal/alarm"
	"github.com/syzsky/autodoor/internal/config"
	"github.com/syzsky/autodoor/internal/database"
	"github.com/syzsky/autodoor/internal/engine"
	"github.com/syzsky/autodoor/internal/events"
	"github.com/syzsky/autodoor/internal/groups"
	"github.com/syzsky/autodoor/internal/hotkey"
	"github.com/syzsky/autodoor/internal/input"
	"github.com/syzsky/autodoor/internal/logging"
	"github.com/syzsky/autodoor/internal/modules"
	"github.com/syzsky/autodoor/internal/ocr"
	"github.com/syzsky/autodoor/internal/screen"
)

func main() {
	// Parse command line flags
	settingsPath := flag.String("settings", "settings.ini", "Path to settings file")
	groupsPath := flag.String("groups", "", "Path to group file (default: from settings)")
	startNow := flag.Bool("start", false, "Start every module immediately")
	history := flag.Int("history", 0, "Print the last N triggers and exit")
	writeSettings := flag.Bool("write-settings", false, "Write the effective settings back and exit")
	backupPath := flag.String("backup", "", "Copy the history database to this path and exit")
	pruneDays := flag.Int("prune", 0, "Delete history older than N days, compact the database and exit")
	migrateTo := flag.Int("migrate-to", -1, "Roll the database schema back to version N and exit")
	flag.Parse()

	settings, err := config.LoadSettings(*settingsPath)
	if err != nil {
		log.Printf("Warning: Failed to load settings: %v", err)
		settings = config.NewDefaultSettings()
	}
	if *groupsPath != "" {
		settings.GroupsFile = *groupsPath
	}

	if *writeSettings {
		if err := config.SaveSettings(settings, *settingsPath); err != nil {
			log.Fatalf("Failed to write settings: %v", err)
		}
		log.Printf("Settings written to %s", *settingsPath)
		return
	}

	logger, logFile, err := openLogger(settings)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logFile.Close()

	// Trigger history
	db, err := database.OpenWithLogger(settings.Database, logger.Named("Database"))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.RunMigrations(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	maint := maintenance{
		backup:    *backupPath,
		pruneDays: *pruneDays,
		migrateTo: *migrateTo,
		history:   *history,
	}
	if maint.requested() {
		if err := maint.run(db); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	if n, err := db.CloseOpenSessions(); err != nil {
		logger.Error("Failed to close stale sessions", err)
	} else if n > 0 {
		logger.InfoWithContext("Closed stale sessions", map[string]interface{}{"count": n})
	}

	bus := events.NewEventBus(256)
	defer bus.Stop()
	eventLogger, err := logging.NewEventLogger(bus, settings.LogDir)
	if err != nil {
		logger.Error("Event log disabled", err)
	} else {
		defer eventLogger.Close()
	}

	player := alarm.NewPlayer(logger.Named("Alarm"))
	prompt := func(permission string) func() {
		return func() {
			bus.Publish(events.NewPermissionRequiredEvent(permission))
			player.Notify("autodoor", fmt.Sprintf("%s permission is required", permission))
		}
	}

	// TODO: query the macOS TCC screen-recording and accessibility state
	// here; Linux and Windows have no such gate, so both checks pass.
	grabber := screen.NewManager(screen.NewVirtualScreen(),
		screen.WithCacheDuration(settings.CacheDuration),
		screen.WithPermissions(screen.AlwaysGranted{}, prompt("Screen recording")),
		screen.WithLogger(logger.Named("Screen")),
	)
	controller := input.NewController(input.NewRobotgo(),
		input.WithFailSafe(settings.FailSafe),
		input.WithPermissions(screen.AlwaysGranted{}, prompt("Accessibility")),
		input.WithLogger(logger.Named("Input")),
	)
	tess := ocr.NewTesseract()
	defer tess.Close()

	set := groups.NewSet(settings.Defaults)
	groupFile, err := config.LoadGroupFile(settings.GroupsFile)
	if err != nil {
		log.Fatalf("Failed to load groups: %v", err)
	}
	if err := groupFile.Apply(set); err != nil {
		log.Fatalf("Invalid group file: %v", err)
	}
	logger.InfoWithContext("Groups loaded", map[string]interface{}{
		"file":   settings.GroupsFile,
		"ocr":    set.OCR.Len(),
		"timed":  set.Timed.Len(),
		"number": set.Number.Len(),
	})

	eng, err := engine.New(engine.Deps{
		Groups:     set,
		Screen:     grabber,
		Input:      controller,
		Recognizer: tess,
		Alarm:      player,
		Notifier:   bus,
		Recorder:   db,
		Sessions:   db,
		Errors:     db,
		Logger:     logger,
		ClickDelay: settings.ClickDelay,
		Callbacks: engine.Callbacks{
			OnIdle: func(kind modules.Kind) {
				player.Notify("autodoor", fmt.Sprintf("%s: no enabled groups", kind))
			},
		},
	})
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listener := hotkey.NewListener(logger.Named("Hotkey"))
	if err := listener.Bind("start", settings.StartHotkey, func() { eng.StartAll() }); err != nil {
		logger.Error("Invalid start hotkey", err)
	}
	if err := listener.Bind("stop", settings.StopHotkey, eng.StopAll); err != nil {
		logger.Error("Invalid stop hotkey", err)
	}
	hotkeysDone := make(chan struct{})
	go func() {
		defer close(hotkeysDone)
		listener.Run(ctx)
	}()

	if *startNow {
		eng.StartAll()
	}

	logger.InfoWithContext("Ready", map[string]interface{}{
		"start": settings.StartHotkey,
		"stop":  settings.StopHotkey,
	})
	<-ctx.Done()

	logger.Info("Shutting down")
	eng.Close()
	<-hotkeysDone

	if err := config.FromSet(set).Save(settings.GroupsFile); err != nil {
		logger.Error("Failed to save groups", err)
	}
	captures, hits := grabber.Stats()
	logger.InfoWithContext("Screenshot cache", map[string]interface{}{
		"captures": captures,
		"hits":     hits,
	})
}

// openLogger sends the root logger to stdout and logs/autodoor_<ts>.log.
func openLogger(settings *config.Settings) (*logging.Logger, *os.File, error) {
	if err := os.MkdirAll(settings.LogDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	name := fmt.Sprintf("autodoor_%s.log", time.Now().Format("2006-01-02_15-04-05"))
	f, err := os.OpenFile(filepath.Join(settings.LogDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create log file: %w", err)
	}
	logger := logging.NewLogger("Main").
		SetMinLevel(logging.ParseLevel(settings.LogLevel)).
		SetOutputs(os.Stdout, f)
	return logger, f, nil
}
