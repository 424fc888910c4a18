// Package ocr watches screen regions for keywords and presses a key (and
// optionally clicks the match) when one shows up.
package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/syzsky/autodoor/internal/events"
	"github.com/syzsky/autodoor/internal/groups"
	"github.com/syzsky/autodoor/internal/input"
	"github.com/syzsky/autodoor/internal/logging"
	"github.com/syzsky/autodoor/internal/modules"
	recognize "github.com/syzsky/autodoor/internal/ocr"
	"github.com/syzsky/autodoor/internal/screen"
	"github.com/syzsky/autodoor/internal/workers"
)

const (
	// DefaultClickDelay separates the click from the key press.
	DefaultClickDelay = 200 * time.Millisecond
	// FallbackInterval is used when no enabled group has an interval.
	FallbackInterval = time.Second
	// forceEvery forces recognition every n-th frame even if the image
	// hash has not changed.
	forceEvery = 5
	// maxNap bounds one sleep between passes.
	maxNap = time.Second

	workerName = "ocr"
)

// State is where a group is in its recognition cycle.
type State int

const (
	StateIdle State = iota
	StateWaiting
	StateCapturing
	StateRecognizing
	StateTriggering
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateCapturing:
		return "capturing"
	case StateRecognizing:
		return "recognizing"
	case StateTriggering:
		return "triggering"
	}
	return "idle"
}

// Input is what the module needs from the input controller.
type Input interface {
	Click(priority int, x, y int) error
	HoldKey(ctx context.Context, priority int, key string, hold time.Duration) error
}

var _ Input = (input.Device)(nil)

// Deps are the module's collaborators.
type Deps struct {
	Screen     screen.Grabber
	Input      Input
	Recognizer recognize.Recognizer
	Workers    *workers.Manager
	Hooks      modules.Hooks
	Logger     *logging.Logger
	ClickDelay time.Duration
}

type groupState struct {
	state           State
	lastTrigger     time.Time
	lastRecognition time.Time
	lastHash        uint64
	hashed          bool
	frames          int
}

// Module is the keyword watcher. One goroutine serves every group.
type Module struct {
	deps  Deps
	store *groups.Store[groups.OCRGroup]

	mu     sync.Mutex
	states map[groups.ID]*groupState

	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) bool
	preprocess func(image.Image) (image.Image, error)
	hash       func(image.Image) (uint64, error)
}

// NewModule creates the module over the live group store.
func NewModule(deps Deps, store *groups.Store[groups.OCRGroup]) *Module {
	if deps.Logger == nil {
		deps.Logger = logging.NewLogger("OCR")
	}
	if deps.ClickDelay <= 0 {
		deps.ClickDelay = DefaultClickDelay
	}
	deps.Hooks = deps.Hooks.Fill()
	return &Module{
		deps:       deps,
		store:      store,
		states:     make(map[groups.ID]*groupState),
		now:        time.Now,
		sleep:      workers.SleepContext,
		preprocess: recognize.Preprocess,
		hash:       recognize.AverageHash,
	}
}

// Start launches the polling loop if any group is enabled and returns the
// number of enabled groups.
func (m *Module) Start() int {
	n := len(m.enabled())
	if n == 0 {
		return 0
	}
	if !m.deps.Workers.IsRunning(modules.KindOCR, workerName) {
		m.deps.Workers.Go(modules.KindOCR, workerName, m.run)
	}
	return n
}

// Stop ends the loop and waits for it.
func (m *Module) Stop() bool {
	return m.deps.Workers.Stop(modules.KindOCR)
}

// State reports a group's current phase.
func (m *Module) State(id groups.ID) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[id]; ok {
		return st.state
	}
	return StateIdle
}

func (m *Module) enabled() []groups.Entry[groups.OCRGroup] {
	return m.store.Filter(func(g groups.OCRGroup) bool {
		return g.Enabled && g.Region != nil
	})
}

func (m *Module) run(ctx context.Context) {
	m.deps.Logger.Info("OCR loop started")
	defer m.deps.Logger.Info("OCR loop stopped")

	for ctx.Err() == nil {
		wait := m.deps.Workers.Guard(workers.Cycle{
			Kind:     modules.KindOCR,
			Worker:   workerName,
			Category: logging.ErrorCategoryRecognition,
		}, func() error {
			return m.processGroups(ctx, m.now())
		})
		if wait == 0 {
			wait = m.nextWait()
		}
		if !m.nap(ctx, wait) {
			return
		}
	}
}

// nap sleeps d in slices of at most maxNap.
func (m *Module) nap(ctx context.Context, d time.Duration) bool {
	for d > 0 {
		step := d
		if step > maxNap {
			step = maxNap
		}
		if !m.sleep(ctx, step) {
			return false
		}
		d -= step
	}
	return ctx.Err() == nil
}

// nextWait is the smallest interval among enabled groups.
func (m *Module) nextWait() time.Duration {
	var wait time.Duration
	for _, e := range m.enabled() {
		d := workers.Seconds(e.Group.Interval)
		if d > 0 && (wait == 0 || d < wait) {
			wait = d
		}
	}
	if wait == 0 {
		return FallbackInterval
	}
	return wait
}

// processGroups runs one pass over every enabled group at time now.
func (m *Module) processGroups(ctx context.Context, now time.Time) error {
	entries := m.enabled()
	m.prune(entries)

	var failed []string
	for _, e := range entries {
		if ctx.Err() != nil {
			return nil
		}
		if err := m.processGroup(ctx, e.ID, e.Group, now); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", e.ID, err))
			m.deps.Hooks.Notifier.Publish(events.NewTriggerFailedEvent(modules.KindOCR.String(), string(e.ID), err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d group(s) failed: %s", len(failed), strings.Join(failed, "; "))
	}
	return nil
}

// shouldProcess is the dual gate: the pause since the last trigger and the
// interval since the last recognition must both have elapsed.
func shouldProcess(st *groupState, g groups.OCRGroup, now time.Time) bool {
	if !st.lastTrigger.IsZero() && now.Sub(st.lastTrigger) < workers.Seconds(g.Pause) {
		return false
	}
	if !st.lastRecognition.IsZero() && now.Sub(st.lastRecognition) < workers.Seconds(g.Interval) {
		return false
	}
	return true
}

func (m *Module) processGroup(ctx context.Context, id groups.ID, g groups.OCRGroup, now time.Time) error {
	st := m.stateFor(id)
	log := m.deps.Logger.WithContext(map[string]interface{}{
		"module": modules.KindOCR.String(),
		"group":  m.store.Index(id) + 1,
	})

	if !shouldProcess(st, g, now) {
		m.setState(st, StateWaiting)
		return nil
	}
	st.lastRecognition = now
	st.frames++

	m.setState(st, StateCapturing)
	img := m.deps.Screen.RegionScreenshot(*g.Region, modules.PriorityOCR)
	if img == nil {
		m.setState(st, StateWaiting)
		return nil
	}

	h, err := m.hash(img)
	if err == nil {
		if st.hashed && h == st.lastHash && st.frames%forceEvery != 0 {
			m.setState(st, StateWaiting)
			return nil
		}
		st.lastHash, st.hashed = h, true
	}

	m.setState(st, StateRecognizing)
	prepared, err := m.preprocess(img)
	if err != nil {
		m.setState(st, StateWaiting)
		return fmt.Errorf("preprocess: %w", err)
	}
	opts := recognize.GeneralText(g.Language, modules.PriorityOCR)
	text, err := m.deps.Recognizer.Text(ctx, prepared, opts)
	if err != nil {
		m.setState(st, StateWaiting)
		return fmt.Errorf("recognize: %w", err)
	}

	keyword, ok := matchKeyword(text, g.Keywords)
	if !ok {
		m.setState(st, StateWaiting)
		return nil
	}
	log.With("keyword", keyword).Info("Keyword recognized")

	m.setState(st, StateTriggering)
	defer m.setState(st, StateWaiting)
	if err := m.trigger(ctx, id, g, prepared, opts, keyword); err != nil {
		return err
	}
	st.lastTrigger = now
	return nil
}

func (m *Module) trigger(ctx context.Context, id groups.ID, g groups.OCRGroup, img image.Image, opts recognize.Options, keyword string) error {
	if g.Alarm {
		m.deps.Hooks.Alarm.Play()
	}

	if g.Click {
		target := m.clickTarget(ctx, *g.Region, img, opts, g.Keywords)
		if err := m.deps.Input.Click(modules.PriorityOCR, target.X, target.Y); err != nil {
			return fmt.Errorf("click: %w", err)
		}
		if !m.sleep(ctx, m.deps.ClickDelay) {
			return nil
		}
	}

	if g.Key != "" {
		if err := m.deps.Input.HoldKey(ctx, modules.PriorityOCR, g.Key, g.RandomHold()); err != nil {
			return fmt.Errorf("press %s: %w", g.Key, err)
		}
	}

	m.deps.Workers.Metrics(modules.KindOCR, workerName).RecordTrigger()
	if err := m.deps.Hooks.Triggered(ctx, modules.KindOCR, string(id), keyword); err != nil {
		m.deps.Logger.Error("Failed to record trigger", err)
	}
	return nil
}

// clickTarget returns the center of the first recognized word matching a
// keyword, or the region center when no word matches.
func (m *Module) clickTarget(ctx context.Context, region screen.Region, img image.Image, opts recognize.Options, keywords []string) screen.Point {
	region = region.Normalize()
	words, err := m.deps.Recognizer.Words(ctx, img, opts)
	if err != nil {
		m.deps.Logger.Warn("Word boxes unavailable, clicking region center: " + err.Error())
		return region.Center()
	}
	for _, w := range words {
		if _, ok := matchKeyword(w.Text, keywords); !ok {
			continue
		}
		c := w.Box.Min.Add(w.Box.Max).Div(2)
		return screen.Point{X: region.Left + c.X, Y: region.Top + c.Y}
	}
	return region.Center()
}

// matchKeyword reports the first keyword contained in text, ignoring case.
func matchKeyword(text string, keywords []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(k)) {
			return k, true
		}
	}
	return "", false
}

func (m *Module) stateFor(id groups.ID) *groupState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok {
		st = &groupState{}
		m.states[id] = st
	}
	return st
}

func (m *Module) setState(st *groupState, s State) {
	m.mu.Lock()
	st.state = s
	m.mu.Unlock()
}

// prune drops state for groups that were deleted or disabled.
func (m *Module) prune(live []groups.Entry[groups.OCRGroup]) {
	keep := make(map[groups.ID]bool, len(live))
	for _, e := range live {
		keep[e.ID] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.states {
		if !keep[id] {
			delete(m.states, id)
		}
	}
}
