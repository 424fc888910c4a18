// Package color runs the color-recognition session: when enough pixels of
// the watched region are close to the target color it plays a script once.
package color

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/syzsky/autodoor/internal/groups"
	"github.com/syzsky/autodoor/internal/logging"
	"github.com/syzsky/autodoor/internal/modules"
	recognize "github.com/syzsky/autodoor/internal/ocr"
	"github.com/syzsky/autodoor/internal/screen"
	"github.com/syzsky/autodoor/internal/script"
	"github.com/syzsky/autodoor/internal/workers"
)

const (
	// MinMatchRatio is the share of sampled pixels that must match.
	MinMatchRatio = 0.10
	// Cooldown follows every match.
	Cooldown = 5 * time.Second
	// QueueBackoff is waited while the event queue has pending work.
	QueueBackoff = 100 * time.Millisecond

	defaultInterval = time.Second
	workerName      = "color"
)

// Queue exposes the pending event count.
type Queue interface {
	Len() int
}

// Runner plays a compiled script once.
type Runner interface {
	RunOnce(ctx context.Context, cmds []script.Command) error
}

// Deps are the module's collaborators.
type Deps struct {
	Screen  screen.Grabber
	Runner  Runner
	Queue   Queue
	Workers *workers.Manager
	Hooks   modules.Hooks
	Logger  *logging.Logger
}

type Module struct {
	deps   Deps
	config *groups.Value[groups.ColorConfig]

	mu       sync.Mutex
	lastHash uint64
	matches  int

	sleep func(ctx context.Context, d time.Duration) bool
	ratio func(img image.Image, target groups.RGB, tolerance int) (float64, error)
}

func NewModule(deps Deps, config *groups.Value[groups.ColorConfig]) *Module {
	if deps.Logger == nil {
		deps.Logger = logging.NewLogger("Color")
	}
	deps.Hooks = deps.Hooks.Fill()
	return &Module{
		deps:   deps,
		config: config,
		sleep:  workers.SleepContext,
		ratio:  MatchRatio,
	}
}

// Start launches the session if a region is configured. It returns 1 when
// running and 0 otherwise.
func (m *Module) Start() int {
	cfg := m.config.Get()
	if cfg.Region == nil || !cfg.Region.Valid() {
		return 0
	}
	if !m.deps.Workers.IsRunning(modules.KindColor, workerName) {
		m.deps.Workers.Go(modules.KindColor, workerName, m.run)
	}
	return 1
}

func (m *Module) Stop() bool {
	return m.deps.Workers.Stop(modules.KindColor)
}

// LastHash is the average hash of the most recent capture.
func (m *Module) LastHash() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHash
}

// Matches counts how often the script was played.
func (m *Module) Matches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.matches
}

func (m *Module) run(ctx context.Context) {
	m.deps.Logger.Info("Color recognition started")
	defer m.deps.Logger.Info("Color recognition stopped")

	for ctx.Err() == nil {
		cfg := m.config.Get()
		if cfg.Region == nil {
			return
		}
		if m.deps.Queue != nil && m.deps.Queue.Len() > 0 {
			if !m.sleep(ctx, QueueBackoff) {
				return
			}
			continue
		}

		var matched bool
		backoff := m.deps.Workers.Guard(workers.Cycle{
			Kind:     modules.KindColor,
			Worker:   workerName,
			Category: logging.ErrorCategoryRecognition,
		}, func() error {
			var err error
			matched, err = m.check(ctx, cfg)
			return err
		})
		if backoff > 0 {
			if !m.sleep(ctx, backoff) {
				return
			}
			continue
		}
		if matched && !m.sleep(ctx, Cooldown) {
			return
		}

		interval := workers.Seconds(cfg.Interval)
		if interval <= 0 {
			interval = defaultInterval
		}
		if !m.sleep(ctx, interval) {
			return
		}
	}
}

// check captures the region once and plays the script on a match.
func (m *Module) check(ctx context.Context, cfg groups.ColorConfig) (bool, error) {
	img := m.deps.Screen.RegionScreenshot(*cfg.Region, modules.PriorityColor)
	if img == nil {
		return false, nil
	}

	// Recorded only; unchanged frames are still evaluated.
	if h, err := recognize.AverageHash(img); err == nil {
		m.mu.Lock()
		m.lastHash = h
		m.mu.Unlock()
	}

	ratio, err := m.ratio(img, cfg.Target, cfg.Tolerance)
	if err != nil {
		return false, err
	}
	if ratio <= MinMatchRatio {
		return false, nil
	}

	m.deps.Logger.InfoWithContext("Target color found", map[string]interface{}{
		"module": modules.KindColor.String(),
		"ratio":  fmt.Sprintf("%.3f", ratio),
	})
	m.mu.Lock()
	m.matches++
	m.mu.Unlock()

	if err := m.deps.Runner.RunOnce(ctx, script.Compile(cfg.Commands)); err != nil && ctx.Err() == nil {
		return true, fmt.Errorf("run script: %w", err)
	}
	m.deps.Workers.Metrics(modules.KindColor, workerName).RecordTrigger()
	if err := m.deps.Hooks.Triggered(ctx, modules.KindColor, workerName, fmt.Sprintf("ratio=%.3f", ratio)); err != nil {
		m.deps.Logger.Error("Failed to record trigger", err)
	}
	return true, nil
}

// MatchRatio samples every second pixel in both directions and returns the
// share whose channels are all within tolerance of target.
func MatchRatio(img image.Image, target groups.RGB, tolerance int) (float64, error) {
	if img == nil || img.Bounds().Empty() {
		return 0, recognize.ErrEmptyImage
	}

	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return 0, fmt.Errorf("color: to mat: %w", err)
	}
	defer src.Close()

	sampled := src
	if src.Cols() >= 2 && src.Rows() >= 2 {
		small := gocv.NewMat()
		defer small.Close()
		gocv.Resize(src, &small, image.Point{}, 0.5, 0.5, gocv.InterpolationNearestNeighbor)
		sampled = small
	}

	// Mats are BGR.
	lower := gocv.NewScalar(bound(target.B, -tolerance), bound(target.G, -tolerance), bound(target.R, -tolerance), 0)
	upper := gocv.NewScalar(bound(target.B, tolerance), bound(target.G, tolerance), bound(target.R, tolerance), 0)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.InRangeWithScalar(sampled, lower, upper, &mask)

	total := sampled.Rows() * sampled.Cols()
	if total == 0 {
		return 0, nil
	}
	return float64(gocv.CountNonZero(mask)) / float64(total), nil
}

func bound(c uint8, delta int) float64 {
	v := int(c) + delta
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return float64(v)
}
