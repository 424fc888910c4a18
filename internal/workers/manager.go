// Package workers keeps track of the goroutines each module runs and stops
// them cooperatively.
package workers

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/syzsky/autodoor/internal/logging"
	"github.com/syzsky/autodoor/internal/modules"
)

// ErrorBackoff is how long a loop pauses after a failed cycle.
const ErrorBackoff = 5 * time.Second

// DefaultStopTimeout bounds how long Stop waits for workers to exit.
const DefaultStopTimeout = 10 * time.Second

// StatusFunc is told whenever a module's worker count changes between zero
// and non-zero.
type StatusFunc func(kind modules.Kind, running bool, workers int)

type moduleWorkers struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	live   int
	names  map[string]int
}

// Manager is the bookkeeping for every live worker goroutine.
type Manager struct {
	mu          sync.Mutex
	parent      context.Context
	groups      map[modules.Kind]*moduleWorkers
	metrics     map[string]*LoopMetrics
	onStatus    StatusFunc
	logger      *logging.Logger
	reporter    *logging.ErrorReporter
	stopTimeout time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithStatusFunc installs the status callback.
func WithStatusFunc(fn StatusFunc) Option {
	return func(m *Manager) {
		if fn != nil {
			m.onStatus = fn
		}
	}
}

// WithLogger sets the logger and derives the error reporter from it.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
			m.reporter = logging.NewErrorReporter(logger.Named("LoopErrors"))
		}
	}
}

// WithReporter sets the error reporter used by Guard.
func WithReporter(r *logging.ErrorReporter) Option {
	return func(m *Manager) {
		if r != nil {
			m.reporter = r
		}
	}
}

// WithStopTimeout changes how long Stop waits.
func WithStopTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.stopTimeout = d
		}
	}
}

// NewManager creates a manager whose workers derive from parent.
func NewManager(parent context.Context, opts ...Option) *Manager {
	logger := logging.NewLogger("Workers")
	m := &Manager{
		parent:      parent,
		groups:      make(map[modules.Kind]*moduleWorkers),
		metrics:     make(map[string]*LoopMetrics),
		onStatus:    func(modules.Kind, bool, int) {},
		logger:      logger,
		reporter:    logging.NewErrorReporter(logger.Named("LoopErrors")),
		stopTimeout: DefaultStopTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Go starts fn as a worker of kind. fn must return when its context is
// cancelled. A panic escaping fn is logged and ends only that worker.
func (m *Manager) Go(kind modules.Kind, name string, fn func(ctx context.Context)) {
	m.mu.Lock()
	mw := m.groups[kind]
	if mw == nil || mw.ctx.Err() != nil {
		// A cancelled set still draining is left to finish on its own.
		ctx, cancel := context.WithCancel(m.parent)
		mw = &moduleWorkers{ctx: ctx, cancel: cancel, names: make(map[string]int)}
		m.groups[kind] = mw
	}
	mw.live++
	mw.names[name]++
	first := mw.live == 1
	live := mw.live
	mw.wg.Add(1)
	m.mu.Unlock()

	if first {
		m.onStatus(kind, true, live)
	}

	go func() {
		defer m.exited(kind, mw, name)
		defer func() {
			if r := recover(); r != nil {
				m.reporter.Report(&logging.ErrorReport{
					Category:   logging.ErrorCategorySystem,
					Severity:   logging.ErrorSeverityCritical,
					Component:  kind.String(),
					Message:    "Worker crashed",
					Error:      fmt.Errorf("panic: %v", r),
					Context:    map[string]interface{}{"worker": name},
					StackTrace: string(debug.Stack()),
				})
			}
		}()
		fn(mw.ctx)
	}()
}

func (m *Manager) exited(kind modules.Kind, mw *moduleWorkers, name string) {
	m.mu.Lock()
	mw.live--
	mw.names[name]--
	if mw.names[name] <= 0 {
		delete(mw.names, name)
	}
	last := mw.live == 0 && m.groups[kind] == mw
	if last {
		mw.cancel()
		delete(m.groups, kind)
	}
	m.mu.Unlock()

	if last {
		m.onStatus(kind, false, 0)
	}
	mw.wg.Done()
}

// Cancel asks every worker of kind to stop without waiting. Safe to call
// from inside one of those workers.
func (m *Manager) Cancel(kind modules.Kind) {
	m.mu.Lock()
	mw := m.groups[kind]
	m.mu.Unlock()
	if mw != nil {
		mw.cancel()
	}
}

// Stop cancels every worker of kind and waits for them to exit, up to the
// stop timeout. It returns false if some workers were still running.
func (m *Manager) Stop(kind modules.Kind) bool {
	m.mu.Lock()
	mw := m.groups[kind]
	m.mu.Unlock()
	if mw == nil {
		return true
	}

	mw.cancel()

	done := make(chan struct{})
	go func() {
		mw.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(m.stopTimeout):
		m.logger.WarnWithContext("Workers did not exit in time", map[string]interface{}{
			"module":  kind.String(),
			"timeout": m.stopTimeout.String(),
		})
		return false
	}
}

// StopAll stops every module, highest priority first.
func (m *Manager) StopAll() {
	for _, kind := range modules.All {
		m.Stop(kind)
	}
}

// Count returns the number of live workers of kind.
func (m *Manager) Count(kind modules.Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mw := m.groups[kind]; mw != nil {
		return mw.live
	}
	return 0
}

// Running reports whether kind has live workers.
func (m *Manager) Running(kind modules.Kind) bool {
	return m.Count(kind) > 0
}

// IsRunning reports whether the named worker of kind is alive.
func (m *Manager) IsRunning(kind modules.Kind, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mw := m.groups[kind]; mw != nil {
		return mw.names[name] > 0
	}
	return false
}

// Names lists the live workers of kind.
func (m *Manager) Names(kind modules.Kind) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	mw := m.groups[kind]
	if mw == nil {
		return nil
	}
	out := make([]string, 0, len(mw.names))
	for n := range mw.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Metrics returns the metrics for a worker, creating them on first use.
func (m *Manager) Metrics(kind modules.Kind, name string) *LoopMetrics {
	key := kind.String() + "/" + name
	m.mu.Lock()
	defer m.mu.Unlock()
	lm := m.metrics[key]
	if lm == nil {
		lm = NewLoopMetrics()
		m.metrics[key] = lm
	}
	return lm
}

// AllStats snapshots every worker's metrics keyed by "module/name".
func (m *Manager) AllStats() map[string]LoopStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]LoopStats, len(m.metrics))
	for k, lm := range m.metrics {
		out[k] = lm.GetStats()
	}
	return out
}

// Reporter exposes the error reporter used for loop failures.
func (m *Manager) Reporter() *logging.ErrorReporter {
	return m.reporter
}
