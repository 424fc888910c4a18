package script

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/syzsky/autodoor/internal/input"
	"github.com/syzsky/autodoor/internal/logging"
)

// DelaySlice bounds a single sleep so a stop request is noticed quickly.
const DelaySlice = 100 * time.Millisecond

// Control starts or stops the script module. StartScript and StopScript
// commands route here and never touch the color module.
type Control interface {
	StartScript()
	StopScript()
}

type noControl struct{}

func (noControl) StartScript() {}
func (noControl) StopScript()  {}

// Runner executes commands against an input device.
type Runner struct {
	device   input.Device
	control  Control
	priority int
	logger   *logging.Logger
	sleep    func(context.Context, time.Duration) bool
}

// NewRunner creates a runner sending input at priority. control may be nil.
func NewRunner(device input.Device, control Control, priority int, logger *logging.Logger) *Runner {
	if control == nil {
		control = noControl{}
	}
	if logger == nil {
		logger = logging.NewLogger("Script")
	}
	return &Runner{
		device:   device,
		control:  control,
		priority: priority,
		logger:   logger,
		sleep:    sleepSliced,
	}
}

// RunOnce executes cmds a single time. Anything still held when it returns,
// including on cancellation or error, is released.
func (r *Runner) RunOnce(ctx context.Context, cmds []Command) error {
	held := newHeldSet()
	defer r.release(held)
	return r.pass(ctx, cmds, held)
}

// RunLoop repeats cmds until ctx is cancelled. Inputs held across a pass
// boundary stay down; everything still held is released when the loop ends.
func (r *Runner) RunLoop(ctx context.Context, cmds []Command) error {
	if len(cmds) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	held := newHeldSet()
	defer r.release(held)
	for {
		if err := r.pass(ctx, cmds, held); err != nil {
			return err
		}
	}
}

func (r *Runner) pass(ctx context.Context, cmds []Command, held *heldSet) error {
	for i, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.exec(ctx, cmd, held); err != nil {
			return fmt.Errorf("line %d (%s): %w", i+1, cmd, err)
		}
	}
	return ctx.Err()
}

func (r *Runner) exec(ctx context.Context, cmd Command, held *heldSet) error {
	switch cmd.Op {
	case OpKeyDown:
		for i := 0; i < cmd.Count; i++ {
			if err := r.device.KeyDown(r.priority, cmd.Key); err != nil {
				return err
			}
			held.keys[cmd.Key] = struct{}{}
		}
	case OpKeyUp:
		for i := 0; i < cmd.Count; i++ {
			if err := r.device.KeyUp(r.priority, cmd.Key); err != nil {
				return err
			}
			delete(held.keys, cmd.Key)
		}
	case OpMouseDown:
		for i := 0; i < cmd.Count; i++ {
			if err := r.device.MouseDown(r.priority, cmd.Button); err != nil {
				return err
			}
			held.buttons[cmd.Button] = struct{}{}
		}
	case OpMouseUp:
		for i := 0; i < cmd.Count; i++ {
			if err := r.device.MouseUp(r.priority, cmd.Button); err != nil {
				return err
			}
			delete(held.buttons, cmd.Button)
		}
	case OpMoveTo:
		return r.device.MoveTo(r.priority, cmd.X, cmd.Y)
	case OpDelay:
		if !r.sleep(ctx, cmd.Delay) {
			return ctx.Err()
		}
	case OpStartScript:
		r.control.StartScript()
	case OpStopScript:
		r.control.StopScript()
	}
	return nil
}

func (r *Runner) release(held *heldSet) {
	for _, key := range held.sortedKeys() {
		if err := r.device.KeyUp(r.priority, key); err != nil {
			r.logger.ErrorWithContext("Failed to release key", err, map[string]interface{}{"key": key})
		}
	}
	for _, button := range held.sortedButtons() {
		if err := r.device.MouseUp(r.priority, button); err != nil {
			r.logger.ErrorWithContext("Failed to release mouse button", err, map[string]interface{}{"button": button})
		}
	}
}

type heldSet struct {
	keys    map[string]struct{}
	buttons map[string]struct{}
}

func newHeldSet() *heldSet {
	return &heldSet{keys: map[string]struct{}{}, buttons: map[string]struct{}{}}
}

func (h *heldSet) sortedKeys() []string    { return sortedSet(h.keys) }
func (h *heldSet) sortedButtons() []string { return sortedSet(h.buttons) }

func sortedSet(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// sleepSliced waits d in DelaySlice steps, returning false if ctx ends first.
func sleepSliced(ctx context.Context, d time.Duration) bool {
	for d > 0 {
		step := d
		if step > DelaySlice {
			step = DelaySlice
		}
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		d -= step
	}
	return ctx.Err() == nil
}
