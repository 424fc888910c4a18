// Package screen shares one full virtual-screen capture between every
// recognition loop.
package screen

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"sync"
	"time"

	"github.com/syzsky/autodoor/internal/logging"
	"github.com/syzsky/autodoor/internal/prioritylock"
)

var (
	ErrCaptureFailed = errors.New("screen capture failed")
	ErrPermission    = errors.New("screen recording permission not granted")
)

const (
	// DefaultCacheDuration is how long a captured frame is reused.
	DefaultCacheDuration = 100 * time.Millisecond

	// PromptInterval is the minimum gap between two permission prompts.
	PromptInterval = 30 * time.Second
)

// Capturer grabs the whole virtual screen.
type Capturer interface {
	CaptureScreen() (*image.RGBA, error)
}

// PermissionChecker reports whether the process may record the screen.
type PermissionChecker interface {
	CheckScreenRecording() bool
}

// Grabber is the capability polling loops depend on.
type Grabber interface {
	RegionScreenshot(region Region, priority int) *image.RGBA
}

// Manager caches the most recent full-screen capture and hands out copies.
// All access is serialized through a priority lock so higher-priority
// modules get the buffer first.
type Manager struct {
	capturer    Capturer
	permissions PermissionChecker
	prompt      func()
	logger      *logging.Logger
	now         func() time.Time

	lock          *prioritylock.Lock
	cachedFrame   *image.RGBA
	cachedAt      time.Time
	cacheDuration time.Duration

	statsMu   sync.Mutex
	captures  int64
	cacheHits int64

	promptMu   sync.Mutex
	lastPrompt time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithCacheDuration sets the frame TTL.
func WithCacheDuration(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.cacheDuration = d
		}
	}
}

// WithPermissions installs a permission check and the callback used to
// prompt the user when it fails. The prompt runs on its own goroutine, at
// most once per PromptInterval.
func WithPermissions(checker PermissionChecker, prompt func()) Option {
	return func(m *Manager) {
		m.permissions = checker
		if prompt != nil {
			m.prompt = prompt
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a screenshot manager over capturer.
func NewManager(capturer Capturer, opts ...Option) *Manager {
	m := &Manager{
		capturer:      capturer,
		prompt:        func() {},
		logger:        logging.NewLogger("Screen"),
		now:           time.Now,
		lock:          prioritylock.New(),
		cacheDuration: DefaultCacheDuration,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FullScreenshot returns a private copy of the whole virtual screen, or nil
// when capture is impossible.
func (m *Manager) FullScreenshot(priority int) *image.RGBA {
	frame, err := m.frame(priority)
	if err != nil {
		m.logger.ErrorWithContext("Full screenshot unavailable", err, map[string]interface{}{
			"priority": priority,
		})
		return nil
	}
	return frame
}

// RegionScreenshot returns a copy of region cropped from the shared frame.
// The result's bounds start at (0,0). Invalid or off-screen regions yield nil.
func (m *Manager) RegionScreenshot(region Region, priority int) *image.RGBA {
	region = region.Normalize()
	if !region.Valid() {
		m.logger.WarnWithContext("Rejected invalid region", map[string]interface{}{
			"region": region.String(),
		})
		return nil
	}

	var crop *image.RGBA
	var err error
	m.lock.Do(priority, func() {
		var full *image.RGBA
		full, err = m.cachedOrCapture()
		if err != nil {
			return
		}
		crop = cropCopy(full, region.Rect())
	})
	if err != nil {
		m.logger.ErrorWithContext("Region screenshot unavailable", err, map[string]interface{}{
			"region":   region.String(),
			"priority": priority,
		})
		return nil
	}
	return crop
}

// Invalidate forces the next request to capture a fresh frame.
func (m *Manager) Invalidate() {
	m.lock.Do(1<<30, func() {
		m.cachedFrame = nil
	})
}

// Stats returns how many real captures and cache hits have happened.
func (m *Manager) Stats() (captures, cacheHits int64) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.captures, m.cacheHits
}

func (m *Manager) frame(priority int) (*image.RGBA, error) {
	var out *image.RGBA
	var err error
	m.lock.Do(priority, func() {
		var full *image.RGBA
		full, err = m.cachedOrCapture()
		if err == nil {
			out = cloneRGBA(full)
		}
	})
	return out, err
}

// cachedOrCapture must be called with the lock held. The returned frame is
// the shared buffer and must not escape without copying.
func (m *Manager) cachedOrCapture() (*image.RGBA, error) {
	now := m.now()
	if m.cachedFrame != nil && now.Sub(m.cachedAt) < m.cacheDuration {
		m.statsMu.Lock()
		m.cacheHits++
		m.statsMu.Unlock()
		return m.cachedFrame, nil
	}

	if m.permissions != nil && !m.permissions.CheckScreenRecording() {
		m.promptOnce(now)
		return nil, ErrPermission
	}

	frame, err := m.capturer.CaptureScreen()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	if frame == nil {
		return nil, ErrCaptureFailed
	}

	m.cachedFrame = frame
	m.cachedAt = now
	m.statsMu.Lock()
	m.captures++
	m.statsMu.Unlock()
	return frame, nil
}

func (m *Manager) promptOnce(now time.Time) {
	m.promptMu.Lock()
	defer m.promptMu.Unlock()
	if !m.lastPrompt.IsZero() && now.Sub(m.lastPrompt) < PromptInterval {
		return
	}
	m.lastPrompt = now
	go m.prompt()
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := &image.RGBA{
		Pix:    make([]uint8, len(src.Pix)),
		Stride: src.Stride,
		Rect:   src.Rect,
	}
	copy(dst.Pix, src.Pix)
	return dst
}

// cropCopy copies rect out of src into a new image anchored at (0,0).
func cropCopy(src *image.RGBA, rect image.Rectangle) *image.RGBA {
	rect = rect.Intersect(src.Bounds())
	if rect.Empty() {
		return nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), src, rect.Min, draw.Src)
	return dst
}
