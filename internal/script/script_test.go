package script

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeDevice struct {
	mu   sync.Mutex
	log  []string
	down map[string]bool
	fail string
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{down: map[string]bool{}}
}

func (d *fakeDevice) record(entry string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != "" && entry == d.fail {
		return errors.New("backend refused " + entry)
	}
	d.log = append(d.log, entry)
	return nil
}

func (d *fakeDevice) KeyDown(_ int, key string) error {
	if err := d.record("down:" + key); err != nil {
		return err
	}
	d.mu.Lock()
	d.down[key] = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) KeyUp(_ int, key string) error {
	if err := d.record("up:" + key); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.down, key)
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) HoldKey(_ context.Context, p int, key string, _ time.Duration) error {
	d.KeyDown(p, key)
	return d.KeyUp(p, key)
}

func (d *fakeDevice) Click(_ int, x, y int) error { return d.record(fmt.Sprintf("click:%d,%d", x, y)) }
func (d *fakeDevice) MouseDown(_ int, b string) error {
	if err := d.record("mdown:" + b); err != nil {
		return err
	}
	d.mu.Lock()
	d.down["mouse:"+b] = true
	d.mu.Unlock()
	return nil
}
func (d *fakeDevice) MouseUp(_ int, b string) error {
	if err := d.record("mup:" + b); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.down, "mouse:"+b)
	d.mu.Unlock()
	return nil
}
func (d *fakeDevice) MoveTo(_ int, x, y int) error { return d.record(fmt.Sprintf("move:%d,%d", x, y)) }

func (d *fakeDevice) entries() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.log...)
}

func (d *fakeDevice) anyDown() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.down) > 0
}

type countingControl struct{ starts, stops int }

func (c *countingControl) StartScript() { c.starts++ }
func (c *countingControl) StopScript()  { c.stops++ }

func TestParse(t *testing.T) {
	text := `
KeyDown "a", 2
keyup "A", 1
LEFTDOWN 1
RightUp
MiddleDown 3
MoveTo 100, -20
Delay 250
StartScript
stopscript
this is garbage
KeyDown a, 1
Delay abc
`
	cmds := Parse(text)
	want := []Command{
		{Op: OpKeyDown, Key: "a", Count: 2},
		{Op: OpKeyUp, Key: "A", Count: 1},
		{Op: OpMouseDown, Button: "left", Count: 1},
		{Op: OpMouseUp, Button: "right", Count: 1},
		{Op: OpMouseDown, Button: "middle", Count: 3},
		{Op: OpMoveTo, X: 100, Y: -20},
		{Op: OpDelay, Delay: 250 * time.Millisecond},
		{Op: OpStartScript},
		{Op: OpStopScript},
	}
	if len(cmds) != len(want) {
		t.Fatalf("Expected %d commands, got %d: %v", len(want), len(cmds), cmds)
	}
	for i := range want {
		if cmds[i] != want[i] {
			t.Errorf("Command %d: expected %+v, got %+v", i, want[i], cmds[i])
		}
	}
}

func TestOptimizeShortensDelaysBeforeInput(t *testing.T) {
	cmds := Compile("Delay 200\nKeyDown \"a\", 1\nDelay 100\nKeyUp \"a\", 1\nDelay 300\nMoveTo 1, 1\nDelay 50\nLeftDown 1")
	delays := []time.Duration{}
	for _, c := range cmds {
		if c.Op == OpDelay {
			delays = append(delays, c.Delay)
		}
	}
	want := []time.Duration{100 * time.Millisecond, 0, 300 * time.Millisecond, 0}
	if len(delays) != len(want) {
		t.Fatalf("Expected %v, got %v", want, delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("Delay %d: expected %v, got %v", i, want[i], delays[i])
		}
	}
}

func TestOptimizeDoesNotMutateInput(t *testing.T) {
	in := Parse("Delay 200\nKeyDown \"a\", 1")
	Optimize(in)
	if in[0].Delay != 200*time.Millisecond {
		t.Errorf("Optimize modified its input: %v", in[0].Delay)
	}
}

func TestRunOnceDelaysAndRelease(t *testing.T) {
	dev := newFakeDevice()
	r := NewRunner(dev, nil, 1, nil)
	var slept []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) bool {
		slept = append(slept, d)
		return true
	}

	cmds := Compile("Delay 200\nKeyDown \"a\", 1\nDelay 100\nKeyUp \"a\", 1\n")
	if err := r.RunOnce(context.Background(), cmds); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(slept) != 2 || slept[0] != 100*time.Millisecond || slept[1] != 0 {
		t.Errorf("Expected delays [100ms 0s], got %v", slept)
	}
	log := dev.entries()
	if len(log) != 2 || log[0] != "down:a" || log[1] != "up:a" {
		t.Errorf("Unexpected input sequence %v", log)
	}
	if dev.anyDown() {
		t.Error("Key left down after run")
	}
}

func TestRunOnceReleasesHeldOnCancel(t *testing.T) {
	dev := newFakeDevice()
	r := NewRunner(dev, nil, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := r.RunOnce(ctx, Compile("KeyDown \"w\", 1\nLeftDown 1\nDelay 60000\nKeyUp \"w\", 1"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Long delay was not interrupted")
	}
	if dev.anyDown() {
		t.Errorf("Inputs left down after cancel: %v", dev.entries())
	}
}

func TestRunOnceReleasesOnError(t *testing.T) {
	dev := newFakeDevice()
	dev.fail = "move:5,5"
	r := NewRunner(dev, nil, 1, nil)
	r.sleep = func(context.Context, time.Duration) bool { return true }

	err := r.RunOnce(context.Background(), Parse("KeyDown \"shift\", 1\nMoveTo 5, 5\nKeyUp \"shift\", 1"))
	if err == nil {
		t.Fatal("Expected an error from the failing move")
	}
	if dev.anyDown() {
		t.Error("Shift left down after error")
	}
}

func TestControlCommandsRouteToControl(t *testing.T) {
	dev := newFakeDevice()
	ctrl := &countingControl{}
	r := NewRunner(dev, ctrl, 2, nil)

	if err := r.RunOnce(context.Background(), Parse("StartScript\nStopScript\nStopScript")); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if ctrl.starts != 1 || ctrl.stops != 2 {
		t.Errorf("Expected 1 start and 2 stops, got %d and %d", ctrl.starts, ctrl.stops)
	}
}

func TestRunLoopRepeatsUntilCancelled(t *testing.T) {
	dev := newFakeDevice()
	r := NewRunner(dev, nil, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	passes := 0
	r.sleep = func(c context.Context, d time.Duration) bool {
		passes++
		if passes == 3 {
			cancel()
		}
		return c.Err() == nil
	}

	err := r.RunLoop(ctx, Parse("KeyDown \"x\", 1\nDelay 10\nKeyUp \"x\", 1"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if passes != 3 {
		t.Errorf("Expected 3 passes, got %d", passes)
	}
	if dev.anyDown() {
		t.Error("Key left down after loop stopped")
	}
}

func TestRunLoopKeepsKeyHeldAcrossPasses(t *testing.T) {
	dev := newFakeDevice()
	r := NewRunner(dev, nil, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	delays := 0
	r.sleep = func(c context.Context, d time.Duration) bool {
		delays++
		if delays == 3 {
			cancel()
		}
		return c.Err() == nil
	}

	err := r.RunLoop(ctx, Parse("KeyDown \"w\", 1\nDelay 500"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	want := []string{"down:w", "down:w", "down:w", "up:w"}
	got := dev.entries()
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Step %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if dev.anyDown() {
		t.Error("Key left down after loop stopped")
	}
}

func TestSleepSliced(t *testing.T) {
	if !sleepSliced(context.Background(), 0) {
		t.Error("Zero sleep should succeed")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleepSliced(ctx, time.Hour) {
		t.Error("Sleep on a cancelled context should fail")
	}
}
