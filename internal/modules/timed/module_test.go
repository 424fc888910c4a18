package timed

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/syzsky/autodoor/internal/groups"
	"github.com/syzsky/autodoor/internal/logging"
	"github.com/syzsky/autodoor/internal/modules"
	"github.com/syzsky/autodoor/internal/screen"
	"github.com/syzsky/autodoor/internal/workers"
)

type recorder struct {
	mu     sync.Mutex
	log    []string
	onHold func()
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.log = append(r.log, s)
	r.mu.Unlock()
}

func (r *recorder) Click(priority int, x, y int) error {
	r.add(fmt.Sprintf("click:%d,%d@%d", x, y, priority))
	return nil
}

func (r *recorder) HoldKey(ctx context.Context, priority int, key string, hold time.Duration) error {
	if hold < 50*time.Millisecond || hold > 100*time.Millisecond {
		r.add(fmt.Sprintf("bad-hold:%v", hold))
	}
	r.add(fmt.Sprintf("hold:%s@%d", key, priority))
	if r.onHold != nil {
		r.onHold()
	}
	return nil
}

func (r *recorder) entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

type alarm struct{ plays int }

func (a *alarm) Play() { a.plays++ }

func newTestModule(rec *recorder, a *alarm) (*Module, *groups.Store[groups.TimedGroup]) {
	store := groups.NewStore[groups.TimedGroup](modules.MaxGroups)
	m := NewModule(Deps{
		Input:   rec,
		Workers: workers.NewManager(context.Background(), workers.WithLogger(logging.Discard())),
		Hooks:   modules.Hooks{Alarm: a},
		Logger:  logging.Discard(),
	}, store)
	m.sleep = func(ctx context.Context, d time.Duration) bool {
		rec.add(fmt.Sprintf("sleep:%v", d))
		return ctx.Err() == nil
	}
	return m, store
}

func TestFireClicksThenWaitsThenHolds(t *testing.T) {
	rec := &recorder{}
	a := &alarm{}
	m, store := newTestModule(rec, a)

	id, _ := store.Add(groups.TimedGroup{
		Enabled:      true,
		Interval:     2,
		KeySpec:      groups.KeySpec{Key: "f", DelayMin: 50, DelayMax: 100},
		Alarm:        true,
		ClickEnabled: true,
		Position:     &screen.Point{X: 300, Y: 400},
	})

	if err := m.fire(context.Background(), id); err != nil {
		t.Fatalf("fire: %v", err)
	}

	want := []string{"click:300,400@4", "sleep:500ms", "sleep:500ms", "hold:f@4"}
	got := rec.entries()
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Step %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if a.plays != 1 {
		t.Errorf("Expected one alarm, got %d", a.plays)
	}
}

func TestFireWithoutKeyOnlyClicks(t *testing.T) {
	rec := &recorder{}
	m, store := newTestModule(rec, &alarm{})
	id, _ := store.Add(groups.TimedGroup{Enabled: true, Interval: 1})

	if err := m.fire(context.Background(), id); err != nil {
		t.Fatalf("fire: %v", err)
	}
	if len(rec.entries()) != 0 {
		t.Errorf("Expected no input without key or click, got %v", rec.entries())
	}
}

func TestLoopExitsWhenGroupDisabled(t *testing.T) {
	rec := &recorder{}
	m, store := newTestModule(rec, &alarm{})
	id, _ := store.Add(groups.TimedGroup{
		Enabled:  true,
		Interval: 3,
		KeySpec:  groups.KeySpec{Key: "x", DelayMin: 50, DelayMax: 50},
	})

	holds := 0
	rec.onHold = func() {
		holds++
		if holds == 2 {
			store.Update(id, func(g *groups.TimedGroup) { g.Enabled = false })
		}
	}

	done := make(chan struct{})
	go func() {
		m.run(context.Background(), id)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Worker did not exit after its group was disabled")
	}
	if holds != 2 {
		t.Errorf("Expected 2 presses before exit, got %d", holds)
	}
	got := rec.entries()
	if got[0] != "sleep:3s" {
		t.Errorf("Expected the interval sleep first, got %v", got)
	}
}

func TestMissingIntervalIsFloored(t *testing.T) {
	rec := &recorder{}
	m, store := newTestModule(rec, &alarm{})
	id, _ := store.Add(groups.TimedGroup{Enabled: true, KeySpec: groups.KeySpec{Key: "f", DelayMin: 50, DelayMax: 50}})

	rec.onHold = func() {
		store.Update(id, func(g *groups.TimedGroup) { g.Enabled = false })
	}

	done := make(chan struct{})
	go func() {
		m.run(context.Background(), id)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Worker did not exit")
	}

	got := rec.entries()
	if len(got) != 2 || got[0] != "sleep:"+MinInterval.String() || got[1] != "hold:f@4" {
		t.Errorf("Expected one floored sleep then one press, got %v", got)
	}
}

func TestStopIsResponsive(t *testing.T) {
	rec := &recorder{}
	m, store := newTestModule(rec, &alarm{})
	m.sleep = workers.SleepContext
	for i := 0; i < 3; i++ {
		store.Add(groups.TimedGroup{Enabled: true, Interval: 3600, KeySpec: groups.KeySpec{Key: "k"}})
	}
	store.Add(groups.TimedGroup{Enabled: false, Interval: 1})

	if n := m.Start(); n != 3 {
		t.Fatalf("Expected 3 enabled groups, got %d", n)
	}
	if c := m.deps.Workers.Count(modules.KindTimed); c != 3 {
		t.Fatalf("Expected 3 workers, got %d", c)
	}
	// A second Start does not duplicate workers.
	m.Start()
	if c := m.deps.Workers.Count(modules.KindTimed); c != 3 {
		t.Fatalf("Expected 3 workers after restart, got %d", c)
	}

	start := time.Now()
	if !m.Stop() {
		t.Fatal("Stop timed out")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop took %v", elapsed)
	}
	if len(rec.entries()) != 0 {
		t.Error("Input sent before the first interval elapsed")
	}
}
