// Package dispatch runs the shared priority event queue. Producers enqueue
// key events; a single consumer executes them highest priority first.
package dispatch

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/syzsky/autodoor/internal/groups"
	"github.com/syzsky/autodoor/internal/input"
	"github.com/syzsky/autodoor/internal/logging"
	"github.com/syzsky/autodoor/internal/modules"
	"github.com/syzsky/autodoor/internal/workers"
)

// Consumer cadence.
const (
	BusyDelay = 20 * time.Millisecond
	IdleDelay = 50 * time.Millisecond

	// keyTapHold is how long the executor keeps a key down.
	keyTapHold = 100 * time.Millisecond
)

// ActionKind is what an event asks the consumer to do.
type ActionKind int

const (
	ActionKeypress ActionKind = iota
	ActionExit
)

func (a ActionKind) String() string {
	switch a {
	case ActionKeypress:
		return "keypress"
	case ActionExit:
		return "exit"
	}
	return "unknown"
}

// Event is one queued action. Module and GroupID let the executor look up
// the group's current delay range when it runs.
type Event struct {
	Action  ActionKind
	Key     string
	Module  modules.Kind
	GroupID groups.ID
}

// DelayResolver finds a group's live key configuration.
type DelayResolver interface {
	ResolveKey(kind modules.Kind, id groups.ID) (groups.KeySpec, bool)
}

// Executor performs a keypress event.
type Executor interface {
	Execute(ctx context.Context, ev Event, spec groups.KeySpec, priority int) error
}

type item struct {
	event    Event
	priority int
	seq      uint64
}

// Manager is the event queue plus its consumer goroutine.
type Manager struct {
	executor Executor
	resolver DelayResolver
	defaults groups.KeySpec
	logger   *logging.Logger

	mu    sync.Mutex
	queue eventQueue
	seq   uint64

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	busyDelay time.Duration
	idleDelay time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithDefaults sets the key spec used when an event's group is gone.
func WithDefaults(spec groups.KeySpec) Option {
	return func(m *Manager) { m.defaults = spec }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates an idle event manager. Call Start to run the consumer.
func NewManager(executor Executor, resolver DelayResolver, opts ...Option) *Manager {
	m := &Manager{
		executor:  executor,
		resolver:  resolver,
		defaults:  groups.DefaultValues.Key,
		logger:    logging.NewLogger("Events"),
		busyDelay: BusyDelay,
		idleDelay: IdleDelay,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddEvent enqueues ev. Higher priority runs first; equal priorities run
// in insertion order.
func (m *Manager) AddEvent(ev Event, priority int) {
	m.mu.Lock()
	heap.Push(&m.queue, &item{event: ev, priority: priority, seq: m.seq})
	m.seq++
	n := len(m.queue)
	m.mu.Unlock()

	m.logger.DebugWithContext("Event queued", map[string]interface{}{
		"action":   ev.Action.String(),
		"key":      ev.Key,
		"module":   ev.Module.String(),
		"priority": priority,
		"queued":   n,
	})
}

// Len returns the number of pending events.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// ClearEvents drops every pending event without executing it and returns
// how many were dropped.
func (m *Manager) ClearEvents() int {
	m.mu.Lock()
	n := len(m.queue)
	m.queue = nil
	m.mu.Unlock()

	if n > 0 {
		m.logger.InfoWithContext("Event queue cleared", map[string]interface{}{"dropped": n})
	}
	return n
}

// Start launches the consumer. It is a no-op if already running.
func (m *Manager) Start(parent context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	go m.consume(ctx, m.done)
}

// Stop ends the consumer and waits for the event in flight to finish.
func (m *Manager) Stop() {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.runMu.Unlock()

	cancel()
	<-done
}

// Running reports whether the consumer goroutine is alive.
func (m *Manager) Running() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.running
}

func (m *Manager) consume(ctx context.Context, done chan struct{}) {
	defer func() {
		m.runMu.Lock()
		m.running = false
		m.runMu.Unlock()
		close(done)
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		if it, ok := m.pop(); ok {
			if it.event.Action == ActionExit {
				m.logger.Info("Event consumer exiting")
				return
			}
			m.dispatch(ctx, it)
		}

		delay := m.idleDelay
		if m.Len() > 0 {
			delay = m.busyDelay
		}
		if !workers.SleepContext(ctx, delay) {
			return
		}
	}
}

func (m *Manager) pop() (*item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil, false
	}
	return heap.Pop(&m.queue).(*item), true
}

func (m *Manager) dispatch(ctx context.Context, it *item) {
	ev := it.event
	spec, ok := m.resolver.ResolveKey(ev.Module, ev.GroupID)
	if !ok {
		spec = m.defaults
	}
	if ev.Key != "" {
		spec.Key = ev.Key
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.WarnWithContext("Event executor panicked", map[string]interface{}{
				"module": ev.Module.String(),
				"panic":  r,
			})
		}
	}()

	if err := m.executor.Execute(ctx, ev, spec, it.priority); err != nil {
		m.logger.ErrorWithContext("Event execution failed", err, map[string]interface{}{
			"module": ev.Module.String(),
			"group":  string(ev.GroupID),
			"key":    spec.Key,
		})
	}
}

// KeyEventExecutor presses the event's key: a random pre-delay from the
// group's range, key down, a fixed 100ms hold, key up.
type KeyEventExecutor struct {
	Keys   input.Keyboard
	Logger *logging.Logger

	sleep func(ctx context.Context, d time.Duration) bool
}

// Execute implements Executor.
func (k *KeyEventExecutor) Execute(ctx context.Context, ev Event, spec groups.KeySpec, priority int) error {
	if ev.Action != ActionKeypress || spec.Key == "" {
		return nil
	}
	sleep := k.sleep
	if sleep == nil {
		sleep = workers.SleepContext
	}

	if !sleep(ctx, spec.RandomHold()) {
		return ctx.Err()
	}

	if err := k.Keys.KeyDown(priority, spec.Key); err != nil {
		return err
	}
	sleep(context.WithoutCancel(ctx), keyTapHold)
	if err := k.Keys.KeyUp(priority, spec.Key); err != nil {
		return err
	}

	if k.Logger != nil {
		k.Logger.InfoWithContext("Key event executed", map[string]interface{}{
			"module": ev.Module.String(),
			"group":  string(ev.GroupID),
			"key":    spec.Key,
		})
	}
	return nil
}

type eventQueue []*item

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) { *q = append(*q, x.(*item)) }

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}
