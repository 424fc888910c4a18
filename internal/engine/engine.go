// Package engine wires the recognition modules, the event queue and the
// worker bookkeeping into one object the front ends drive.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/syzsky/autodoor/internal/dispatch"
	"github.com/syzsky/autodoor/internal/events"
	"github.com/syzsky/autodoor/internal/groups"
	"github.com/syzsky/autodoor/internal/input"
	"github.com/syzsky/autodoor/internal/logging"
	"github.com/syzsky/autodoor/internal/modules"
	"github.com/syzsky/autodoor/internal/modules/color"
	"github.com/syzsky/autodoor/internal/modules/number"
	ocrmodule "github.com/syzsky/autodoor/internal/modules/ocr"
	"github.com/syzsky/autodoor/internal/modules/timed"
	"github.com/syzsky/autodoor/internal/monitor"
	"github.com/syzsky/autodoor/internal/ocr"
	"github.com/syzsky/autodoor/internal/screen"
	"github.com/syzsky/autodoor/internal/script"
	"github.com/syzsky/autodoor/internal/workers"
)

const scriptWorker = "script"

// ErrUnknownModule is returned for a Kind the engine does not run.
var ErrUnknownModule = errors.New("engine: unknown module")

// SessionStore persists module run spans.
type SessionStore interface {
	StartSession(module string, workers int) (int64, error)
	EndSession(id int64) error
}

// ErrorLog persists loop failures.
type ErrorLog interface {
	LogError(report *logging.ErrorReport) (int64, error)
}

// Callbacks are optional front-end hooks. Nil fields are no-ops.
type Callbacks struct {
	// OnStatus is called when a module starts or its last worker exits.
	OnStatus func(kind modules.Kind, running bool, workers int)
	// OnIdle is called when a start request found nothing enabled.
	OnIdle func(kind modules.Kind)
}

// Deps are the engine's collaborators. Only Groups, Screen, Input and
// Recognizer are required.
type Deps struct {
	Groups     *groups.Set
	Screen     screen.Grabber
	Input      input.Device
	Recognizer ocr.Recognizer

	Alarm    modules.Alarm
	Notifier modules.Notifier
	Recorder modules.Recorder
	Sessions SessionStore
	Errors   ErrorLog

	Logger      *logging.Logger
	ClickDelay  time.Duration
	StopTimeout time.Duration

	// HealthInterval is how often loop metrics are checked (10s default).
	HealthInterval time.Duration
	Callbacks      Callbacks
}

type nopSessions struct{}

func (nopSessions) StartSession(string, int) (int64, error) { return 0, nil }
func (nopSessions) EndSession(int64) error                  { return nil }

// Engine owns every module of one running application.
type Engine struct {
	deps   Deps
	hooks  modules.Hooks
	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	workers *workers.Manager
	queue   *dispatch.Manager
	health  *monitor.HealthChecker

	ocr    *ocrmodule.Module
	timed  *timed.Module
	number *number.Module
	color  *color.Module
	script *script.Runner

	sessMu   sync.Mutex
	sessions map[modules.Kind]int64
}

// New builds the engine and starts the event consumer.
func New(deps Deps) (*Engine, error) {
	if deps.Groups == nil || deps.Screen == nil || deps.Input == nil || deps.Recognizer == nil {
		return nil, fmt.Errorf("engine: groups, screen, input and recognizer are required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewLogger("Engine")
	}
	if deps.Sessions == nil {
		deps.Sessions = nopSessions{}
	}
	if deps.Callbacks.OnStatus == nil {
		deps.Callbacks.OnStatus = func(modules.Kind, bool, int) {}
	}
	if deps.Callbacks.OnIdle == nil {
		deps.Callbacks.OnIdle = func(modules.Kind) {}
	}

	e := &Engine{
		deps:     deps,
		logger:   deps.Logger,
		sessions: make(map[modules.Kind]int64),
		hooks: modules.Hooks{
			Alarm:    deps.Alarm,
			Notifier: deps.Notifier,
			Recorder: deps.Recorder,
		}.Fill(),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	wopts := []workers.Option{
		workers.WithLogger(deps.Logger.Named("Workers")),
		workers.WithStatusFunc(e.onWorkerStatus),
	}
	if deps.StopTimeout > 0 {
		wopts = append(wopts, workers.WithStopTimeout(deps.StopTimeout))
	}
	e.workers = workers.NewManager(e.ctx, wopts...)
	e.workers.Reporter().OnError(e.onLoopError)
	e.health = monitor.NewHealthChecker(e.workers).
		WithCheckInterval(deps.HealthInterval).
		WithUnhealthyCallback(e.onUnhealthy)

	e.queue = dispatch.NewManager(
		&dispatch.KeyEventExecutor{Keys: deps.Input, Logger: deps.Logger.Named("Events")},
		deps.Groups,
		dispatch.WithDefaults(deps.Groups.Defaults.Key),
		dispatch.WithLogger(deps.Logger.Named("Events")),
	)

	e.ocr = ocrmodule.NewModule(ocrmodule.Deps{
		Screen:     deps.Screen,
		Input:      deps.Input,
		Recognizer: deps.Recognizer,
		Workers:    e.workers,
		Hooks:      e.hooks,
		Logger:     deps.Logger.Named("OCR"),
		ClickDelay: deps.ClickDelay,
	}, deps.Groups.OCR)

	e.timed = timed.NewModule(timed.Deps{
		Input:   deps.Input,
		Workers: e.workers,
		Hooks:   e.hooks,
		Logger:  deps.Logger.Named("Timed"),
	}, deps.Groups.Timed)

	e.number = number.NewModule(number.Deps{
		Screen:     deps.Screen,
		Recognizer: deps.Recognizer,
		Queue:      e.queue,
		Workers:    e.workers,
		Hooks:      e.hooks,
		Logger:     deps.Logger.Named("Number"),
	}, deps.Groups.Number)

	e.color = color.NewModule(color.Deps{
		Screen:  deps.Screen,
		Runner:  script.NewRunner(deps.Input, e, modules.PriorityColor, deps.Logger.Named("ColorScript")),
		Queue:   e.queue,
		Workers: e.workers,
		Hooks:   e.hooks,
		Logger:  deps.Logger.Named("Color"),
	}, deps.Groups.Color)

	e.script = script.NewRunner(deps.Input, e, modules.PriorityScript, deps.Logger.Named("Script"))

	e.queue.Start(e.ctx)
	e.health.Start()
	return e, nil
}

// Start launches one module and returns how many groups it runs. Zero
// means nothing was enabled; the idle notification is sent instead.
func (e *Engine) Start(kind modules.Kind) (int, error) {
	e.sessMu.Lock()
	defer e.sessMu.Unlock()

	var n int
	switch kind {
	case modules.KindOCR:
		n = e.ocr.Start()
	case modules.KindTimed:
		n = e.timed.Start()
	case modules.KindNumber:
		n = e.number.Start()
	case modules.KindColor:
		n = e.color.Start()
	case modules.KindScript:
		n = e.startScript()
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownModule, kind)
	}

	if n == 0 {
		e.logger.InfoWithContext("Nothing enabled, module not running", map[string]interface{}{
			"module": kind.String(),
		})
		e.hooks.Notifier.Publish(events.NewModuleIdleEvent(kind.String()))
		e.deps.Callbacks.OnIdle(kind)
		return 0, nil
	}

	if _, open := e.sessions[kind]; !open {
		id, err := e.deps.Sessions.StartSession(kind.String(), n)
		if err != nil {
			e.logger.Error("Failed to record module session", err)
		}
		e.sessions[kind] = id
		e.hooks.Notifier.Publish(events.NewModuleStartedEvent(kind.String(), n))
		e.logger.InfoWithContext("Module started", map[string]interface{}{
			"module":  kind.String(),
			"workers": n,
		})
	}
	return n, nil
}

// Stop ends one module and waits for its workers. It returns false when
// some worker did not exit within the stop timeout.
func (e *Engine) Stop(kind modules.Kind) bool {
	return e.workers.Stop(kind)
}

// StartAll starts every module, highest priority first, and returns the
// per-module counts.
func (e *Engine) StartAll() map[modules.Kind]int {
	counts := make(map[modules.Kind]int, len(modules.All))
	for _, kind := range modules.All {
		n, _ := e.Start(kind)
		counts[kind] = n
	}
	return counts
}

// StopAll stops every module and drops all pending key events.
func (e *Engine) StopAll() {
	e.workers.StopAll()
	if n := e.queue.ClearEvents(); n > 0 {
		e.logger.InfoWithContext("Pending events cleared", map[string]interface{}{"count": n})
	}
}

// StartScript implements script.Control.
func (e *Engine) StartScript() {
	if _, err := e.Start(modules.KindScript); err != nil {
		e.logger.Error("Failed to start script", err)
	}
}

// StopScript implements script.Control. It only requests the stop so a
// script can stop itself.
func (e *Engine) StopScript() {
	e.workers.Cancel(modules.KindScript)
}

func (e *Engine) startScript() int {
	cmds := script.Compile(e.deps.Groups.Script.Get())
	if len(cmds) == 0 {
		return 0
	}
	if !e.workers.IsRunning(modules.KindScript, scriptWorker) {
		e.workers.Go(modules.KindScript, scriptWorker, func(ctx context.Context) {
			err := e.script.RunLoop(ctx, cmds)
			if err != nil && ctx.Err() == nil {
				e.workers.Reporter().ReportError(logging.ErrorCategoryScript, logging.ErrorSeverityHigh,
					modules.KindScript.String(), "Script stopped", err, nil)
			}
		})
	}
	return 1
}

// Running reports whether kind has live workers.
func (e *Engine) Running(kind modules.Kind) bool {
	return e.workers.Running(kind)
}

// PendingEvents is the number of queued key events.
func (e *Engine) PendingEvents() int {
	return e.queue.Len()
}

// OCRState reports the phase of one keyword group.
func (e *Engine) OCRState(id groups.ID) ocrmodule.State {
	return e.ocr.State(id)
}

// Stats snapshots every loop's metrics keyed by "module/worker".
func (e *Engine) Stats() map[string]workers.LoopStats {
	return e.workers.AllStats()
}

// Close stops all modules and the event consumer.
func (e *Engine) Close() {
	e.StopAll()
	e.health.Stop()
	e.queue.Stop()
	e.cancel()
}

func (e *Engine) onWorkerStatus(kind modules.Kind, running bool, n int) {
	if running {
		e.deps.Callbacks.OnStatus(kind, true, n)
		return
	}

	e.sessMu.Lock()
	id, open := e.sessions[kind]
	delete(e.sessions, kind)
	e.sessMu.Unlock()

	if open && id != 0 {
		if err := e.deps.Sessions.EndSession(id); err != nil {
			e.logger.Error("Failed to close module session", err)
		}
	}
	e.hooks.Notifier.Publish(events.NewModuleStoppedEvent(kind.String()))
	e.logger.InfoWithContext("Module stopped", map[string]interface{}{"module": kind.String()})
	e.deps.Callbacks.OnStatus(kind, false, 0)
}

func (e *Engine) onLoopError(report *logging.ErrorReport) {
	if e.deps.Errors != nil {
		if _, err := e.deps.Errors.LogError(report); err != nil {
			e.logger.Error("Failed to store error report", err)
		}
	}
	err := report.Error
	if err == nil {
		err = errors.New(report.Message)
	}
	e.hooks.Notifier.Publish(events.NewErrorEvent(report.Component, string(report.Category), err, report.Context))
}

func (e *Engine) onUnhealthy(loop, reason string, err error) {
	e.logger.WarnWithContext("Loop keeps failing", map[string]interface{}{
		"loop":   loop,
		"reason": reason,
		"error":  err.Error(),
	})
	e.hooks.Notifier.Publish(events.NewErrorEvent("monitor", loop, err, map[string]interface{}{"reason": reason}))
}
