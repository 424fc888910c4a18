// Package timed presses keys on fixed intervals, one goroutine per group.
package timed

import (
	"context"
	"fmt"
	"time"

	"github.com/syzsky/autodoor/internal/events"
	"github.com/syzsky/autodoor/internal/groups"
	"github.com/syzsky/autodoor/internal/logging"
	"github.com/syzsky/autodoor/internal/modules"
	"github.com/syzsky/autodoor/internal/workers"
)

// ClickSettle is waited twice after a click before the key goes down.
const ClickSettle = 500 * time.Millisecond

// MinInterval floors the per-group interval. A group without one would
// otherwise press its key in a tight loop.
const MinInterval = 100 * time.Millisecond

// Input is what the module needs from the input controller.
type Input interface {
	Click(priority int, x, y int) error
	HoldKey(ctx context.Context, priority int, key string, hold time.Duration) error
}

// Deps are the module's collaborators.
type Deps struct {
	Input   Input
	Workers *workers.Manager
	Hooks   modules.Hooks
	Logger  *logging.Logger
}

type Module struct {
	deps  Deps
	store *groups.Store[groups.TimedGroup]
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewModule(deps Deps, store *groups.Store[groups.TimedGroup]) *Module {
	if deps.Logger == nil {
		deps.Logger = logging.NewLogger("Timed")
	}
	deps.Hooks = deps.Hooks.Fill()
	return &Module{deps: deps, store: store, sleep: workers.SleepContext}
}

// Start launches a worker for every enabled group that has none and
// returns the number of enabled groups.
func (m *Module) Start() int {
	entries := m.store.Filter(func(g groups.TimedGroup) bool { return g.Enabled })
	for _, e := range entries {
		name := string(e.ID)
		if m.deps.Workers.IsRunning(modules.KindTimed, name) {
			continue
		}
		id := e.ID
		m.deps.Workers.Go(modules.KindTimed, name, func(ctx context.Context) {
			m.run(ctx, id)
		})
	}
	return len(entries)
}

// Stop ends every group worker and waits for them.
func (m *Module) Stop() bool {
	return m.deps.Workers.Stop(modules.KindTimed)
}

func (m *Module) run(ctx context.Context, id groups.ID) {
	log := m.deps.Logger.WithContext(map[string]interface{}{
		"module": modules.KindTimed.String(),
		"group":  string(id),
	})
	log.Debug("Timed worker started")
	defer log.Debug("Timed worker stopped")

	for ctx.Err() == nil {
		g, ok := m.store.Get(id)
		if !ok || !g.Enabled {
			return
		}
		if !m.sleep(ctx, interval(g)) {
			return
		}

		backoff := m.deps.Workers.Guard(workers.Cycle{
			Kind:     modules.KindTimed,
			Worker:   string(id),
			Category: logging.ErrorCategoryInput,
			Context:  map[string]interface{}{"group": m.store.Index(id) + 1},
		}, func() error {
			return m.fire(ctx, id)
		})
		if backoff > 0 && !m.sleep(ctx, backoff) {
			return
		}
	}
}

func interval(g groups.TimedGroup) time.Duration {
	if d := workers.Seconds(g.Interval); d > MinInterval {
		return d
	}
	return MinInterval
}

// fire performs one tick for the group as currently configured.
func (m *Module) fire(ctx context.Context, id groups.ID) error {
	g, ok := m.store.Get(id)
	if !ok || !g.Enabled {
		return nil
	}

	if g.Alarm {
		m.deps.Hooks.Alarm.Play()
	}

	if g.ClickEnabled && g.Position != nil {
		if err := m.deps.Input.Click(modules.PriorityTimed, g.Position.X, g.Position.Y); err != nil {
			m.deps.Hooks.Notifier.Publish(events.NewTriggerFailedEvent(modules.KindTimed.String(), string(id), err))
			return fmt.Errorf("click: %w", err)
		}
		if !m.sleep(ctx, ClickSettle) || !m.sleep(ctx, ClickSettle) {
			return nil
		}
	}

	if g.Key == "" {
		m.deps.Logger.WarnWithContext("No key configured", map[string]interface{}{
			"module": modules.KindTimed.String(),
			"group":  m.store.Index(id) + 1,
		})
		return nil
	}
	if err := m.deps.Input.HoldKey(ctx, modules.PriorityTimed, g.Key, g.RandomHold()); err != nil {
		m.deps.Hooks.Notifier.Publish(events.NewTriggerFailedEvent(modules.KindTimed.String(), string(id), err))
		return fmt.Errorf("press %s: %w", g.Key, err)
	}

	m.deps.Workers.Metrics(modules.KindTimed, string(id)).RecordTrigger()
	if err := m.deps.Hooks.Triggered(ctx, modules.KindTimed, string(id), g.Key); err != nil {
		m.deps.Logger.Error("Failed to record trigger", err)
	}
	return nil
}
