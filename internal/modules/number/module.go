// Package number reads "current/max" readouts and queues a key press when
// the current value drops below a group's threshold.
package number

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/syzsky/autodoor/internal/dispatch"
	"github.com/syzsky/autodoor/internal/groups"
	"github.com/syzsky/autodoor/internal/logging"
	"github.com/syzsky/autodoor/internal/modules"
	recognize "github.com/syzsky/autodoor/internal/ocr"
	"github.com/syzsky/autodoor/internal/screen"
	"github.com/syzsky/autodoor/internal/workers"
)

// PollInterval is the fixed wait between reads of one region.
const PollInterval = time.Second

// cacheLimit bounds the parse cache; it is cleared when full.
const cacheLimit = 256

var currentValue = regexp.MustCompile(`^\s*(\d+)\s*/`)

// ParseNumber extracts X from text shaped like "X/Y".
func ParseNumber(text string) (int, bool) {
	m := currentValue.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

type parseResult struct {
	value int
	ok    bool
}

type parseCache struct {
	mu      sync.Mutex
	entries map[string]parseResult
}

func (c *parseCache) parse(text string) (int, bool) {
	key := strings.ToLower(strings.TrimSpace(text))

	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.entries[key]; ok {
		return r.value, r.ok
	}
	if len(c.entries) >= cacheLimit {
		c.entries = make(map[string]parseResult, cacheLimit)
	}
	v, ok := ParseNumber(key)
	c.entries[key] = parseResult{value: v, ok: ok}
	return v, ok
}

func (c *parseCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Queue accepts key press events.
type Queue interface {
	AddEvent(ev dispatch.Event, priority int)
}

// Deps are the module's collaborators.
type Deps struct {
	Screen     screen.Grabber
	Recognizer recognize.Recognizer
	Queue      Queue
	Workers    *workers.Manager
	Hooks      modules.Hooks
	Logger     *logging.Logger
}

type Module struct {
	deps  Deps
	store *groups.Store[groups.NumberGroup]
	cache *parseCache
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewModule(deps Deps, store *groups.Store[groups.NumberGroup]) *Module {
	if deps.Logger == nil {
		deps.Logger = logging.NewLogger("Number")
	}
	deps.Hooks = deps.Hooks.Fill()
	return &Module{
		deps:  deps,
		store: store,
		cache: &parseCache{entries: make(map[string]parseResult)},
		sleep: workers.SleepContext,
	}
}

// Start launches a worker for every enabled region and returns how many
// are enabled.
func (m *Module) Start() int {
	entries := m.store.Filter(func(g groups.NumberGroup) bool {
		return g.Enabled && g.Region != nil
	})
	for _, e := range entries {
		name := string(e.ID)
		if m.deps.Workers.IsRunning(modules.KindNumber, name) {
			continue
		}
		id := e.ID
		m.deps.Workers.Go(modules.KindNumber, name, func(ctx context.Context) {
			m.run(ctx, id)
		})
	}
	return len(entries)
}

func (m *Module) Stop() bool {
	return m.deps.Workers.Stop(modules.KindNumber)
}

func (m *Module) run(ctx context.Context, id groups.ID) {
	for ctx.Err() == nil {
		if g, ok := m.store.Get(id); !ok || !g.Enabled || g.Region == nil {
			return
		}
		if !m.sleep(ctx, PollInterval) {
			return
		}

		backoff := m.deps.Workers.Guard(workers.Cycle{
			Kind:     modules.KindNumber,
			Worker:   string(id),
			Category: logging.ErrorCategoryRecognition,
			Context:  map[string]interface{}{"group": m.store.Index(id) + 1},
		}, func() error {
			return m.check(ctx, id)
		})
		if backoff > 0 && !m.sleep(ctx, backoff) {
			return
		}
	}
}

// check reads the region once and queues a key press if the value is low.
func (m *Module) check(ctx context.Context, id groups.ID) error {
	g, ok := m.store.Get(id)
	if !ok || !g.Enabled || g.Region == nil {
		return nil
	}

	img := m.deps.Screen.RegionScreenshot(*g.Region, modules.PriorityNumber)
	if img == nil {
		return nil
	}
	text, err := m.deps.Recognizer.Text(ctx, img, recognize.NumericLine(modules.PriorityNumber))
	if err != nil {
		return fmt.Errorf("recognize: %w", err)
	}

	value, ok := m.cache.parse(text)
	if !ok || value >= g.Threshold {
		return nil
	}

	m.deps.Logger.InfoWithContext("Value below threshold", map[string]interface{}{
		"module":    modules.KindNumber.String(),
		"group":     m.store.Index(id) + 1,
		"value":     value,
		"threshold": g.Threshold,
	})

	if g.Alarm {
		m.deps.Hooks.Alarm.Play()
	}
	if g.Key == "" {
		return nil
	}
	m.deps.Queue.AddEvent(dispatch.Event{
		Action:  dispatch.ActionKeypress,
		Key:     g.Key,
		Module:  modules.KindNumber,
		GroupID: id,
	}, modules.PriorityNumber)

	detail := fmt.Sprintf("%d<%d", value, g.Threshold)
	m.deps.Workers.Metrics(modules.KindNumber, string(id)).RecordTrigger()
	if err := m.deps.Hooks.Triggered(ctx, modules.KindNumber, string(id), detail); err != nil {
		m.deps.Logger.Error("Failed to record trigger", err)
	}
	return nil
}
