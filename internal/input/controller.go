// Package input serializes synthetic keyboard and mouse events coming from
// every module.
package input

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/syzsky/autodoor/internal/logging"
	"github.com/syzsky/autodoor/internal/prioritylock"
)

var (
	// ErrFailSafe aborts an operation while the pointer sits in a screen corner.
	ErrFailSafe = errors.New("failsafe triggered: pointer in screen corner")
	// ErrPermissionDenied means the OS refused synthetic input.
	ErrPermissionDenied = errors.New("accessibility permission not granted")
)

// Mouse buttons understood by the backend.
const (
	ButtonLeft   = "left"
	ButtonRight  = "right"
	ButtonMiddle = "middle"
)

// promptInterval limits how often the permission prompt fires.
const promptInterval = 30 * time.Second

// Backend performs the raw OS input calls.
type Backend interface {
	KeyToggle(key string, down bool) error
	KeyTap(key string) error
	MouseToggle(button string, down bool) error
	Move(x, y int) error
	Location() (x, y int)
	ScreenSize() (width, height int)
}

// PermissionChecker reports whether synthetic input is allowed.
type PermissionChecker interface {
	CheckAccessibility() bool
}

// Keyboard is the key capability handed to modules.
type Keyboard interface {
	KeyDown(priority int, key string) error
	KeyUp(priority int, key string) error
	HoldKey(ctx context.Context, priority int, key string, hold time.Duration) error
}

// Mouse is the pointer capability handed to modules.
type Mouse interface {
	Click(priority int, x, y int) error
	MouseDown(priority int, button string) error
	MouseUp(priority int, button string) error
	MoveTo(priority int, x, y int) error
}

// Device combines both capabilities.
type Device interface {
	Keyboard
	Mouse
}

// Controller owns one priority lock for the keyboard and one for the mouse.
// A key-down/key-up pair from one caller is never interleaved with another
// caller's key events when sent through HoldKey.
type Controller struct {
	backend     Backend
	permissions PermissionChecker
	prompt      func()
	failSafe    bool
	logger      *logging.Logger
	sleep       func(time.Duration)

	keyLock   *prioritylock.Lock
	mouseLock *prioritylock.Lock

	promptMu   sync.Mutex
	lastPrompt time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithFailSafe enables or disables the screen-corner abort.
func WithFailSafe(enabled bool) Option {
	return func(c *Controller) { c.failSafe = enabled }
}

// WithPermissions installs an accessibility check and prompt callback.
func WithPermissions(checker PermissionChecker, prompt func()) Option {
	return func(c *Controller) {
		c.permissions = checker
		if prompt != nil {
			c.prompt = prompt
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewController creates an input controller over backend.
func NewController(backend Backend, opts ...Option) *Controller {
	c := &Controller{
		backend:   backend,
		prompt:    func() {},
		failSafe:  true,
		logger:    logging.NewLogger("Input"),
		sleep:     time.Sleep,
		keyLock:   prioritylock.New(),
		mouseLock: prioritylock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PressKey waits delay and then taps key.
func (c *Controller) PressKey(priority int, key string, delay time.Duration) error {
	if delay > 0 {
		c.sleep(delay)
	}
	return c.withKeys(priority, "press", key, func() error {
		return c.backend.KeyTap(key)
	})
}

// KeyDown presses key without releasing it.
func (c *Controller) KeyDown(priority int, key string) error {
	return c.withKeys(priority, "key_down", key, func() error {
		return c.backend.KeyToggle(key, true)
	})
}

// KeyUp releases key.
func (c *Controller) KeyUp(priority int, key string) error {
	return c.withKeys(priority, "key_up", key, func() error {
		return c.backend.KeyToggle(key, false)
	})
}

// HoldKey presses key, keeps it down for hold and releases it, holding the
// key lock for the whole sequence. Once the key went down it is always
// released, even when ctx is cancelled mid-hold.
func (c *Controller) HoldKey(ctx context.Context, priority int, key string, hold time.Duration) error {
	return c.withKeys(priority, "hold", key, func() error {
		if err := c.backend.KeyToggle(key, true); err != nil {
			return err
		}
		if hold > 0 {
			timer := time.NewTimer(hold)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
			}
		}
		return c.backend.KeyToggle(key, false)
	})
}

// Click moves the pointer to (x, y) and clicks the left button.
func (c *Controller) Click(priority int, x, y int) error {
	return c.withMouse(priority, "click", map[string]interface{}{"x": x, "y": y}, func() error {
		if err := c.backend.Move(x, y); err != nil {
			return err
		}
		if err := c.backend.MouseToggle(ButtonLeft, true); err != nil {
			return err
		}
		return c.backend.MouseToggle(ButtonLeft, false)
	})
}

// MouseDown presses button at the current pointer position.
func (c *Controller) MouseDown(priority int, button string) error {
	return c.withMouse(priority, "mouse_down", map[string]interface{}{"button": button}, func() error {
		return c.backend.MouseToggle(button, true)
	})
}

// MouseUp releases button.
func (c *Controller) MouseUp(priority int, button string) error {
	return c.withMouse(priority, "mouse_up", map[string]interface{}{"button": button}, func() error {
		return c.backend.MouseToggle(button, false)
	})
}

// MoveTo moves the pointer without clicking.
func (c *Controller) MoveTo(priority int, x, y int) error {
	return c.withMouse(priority, "move", map[string]interface{}{"x": x, "y": y}, func() error {
		return c.backend.Move(x, y)
	})
}

func (c *Controller) withKeys(priority int, op, key string, fn func() error) error {
	return c.run(c.keyLock, priority, op, map[string]interface{}{"key": key}, fn)
}

func (c *Controller) withMouse(priority int, op string, ctx map[string]interface{}, fn func() error) error {
	return c.run(c.mouseLock, priority, op, ctx, fn)
}

func (c *Controller) run(lock *prioritylock.Lock, priority int, op string, ctx map[string]interface{}, fn func() error) error {
	ctx["op"] = op
	ctx["priority"] = priority

	if err := c.checkPermission(); err != nil {
		c.logger.WarnWithContext("Input blocked: accessibility permission missing", ctx)
		return err
	}

	var err error
	lock.Do(priority, func() {
		if c.failSafe && c.inCorner() {
			err = ErrFailSafe
			return
		}
		err = fn()
	})

	switch {
	case errors.Is(err, ErrFailSafe):
		c.logger.WarnWithContext("Input aborted by failsafe", ctx)
		return err
	case err != nil:
		c.logger.ErrorWithContext("Input operation failed", err, ctx)
		return fmt.Errorf("%s: %w", op, err)
	}
	c.logger.DebugWithContext("Input sent", ctx)
	return nil
}

func (c *Controller) checkPermission() error {
	if c.permissions == nil || c.permissions.CheckAccessibility() {
		return nil
	}

	c.promptMu.Lock()
	if time.Since(c.lastPrompt) >= promptInterval {
		c.lastPrompt = time.Now()
		go c.prompt()
	}
	c.promptMu.Unlock()
	return ErrPermissionDenied
}

func (c *Controller) inCorner() bool {
	w, h := c.backend.ScreenSize()
	if w <= 0 || h <= 0 {
		return false
	}
	x, y := c.backend.Location()
	return (x == 0 || x == w-1) && (y == 0 || y == h-1)
}
