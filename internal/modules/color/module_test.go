package color

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/syzsky/autodoor/internal/groups"
	"github.com/syzsky/autodoor/internal/logging"
	"github.com/syzsky/autodoor/internal/modules"
	"github.com/syzsky/autodoor/internal/screen"
	"github.com/syzsky/autodoor/internal/script"
	"github.com/syzsky/autodoor/internal/workers"
)

// stripes returns a w x h black image whose first redRows rows are red.
func stripes(w, h, redRows int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := img.PixOffset(x, y)
			if y < redRows {
				img.Pix[i] = 255
			}
			img.Pix[i+3] = 255
		}
	}
	return img
}

type fakeGrabber struct {
	img   *image.RGBA
	calls int
}

func (g *fakeGrabber) RegionScreenshot(screen.Region, int) *image.RGBA {
	g.calls++
	return g.img
}

type fakeRunner struct {
	mu   sync.Mutex
	runs [][]script.Command
}

func (r *fakeRunner) RunOnce(ctx context.Context, cmds []script.Command) error {
	r.mu.Lock()
	r.runs = append(r.runs, cmds)
	r.mu.Unlock()
	return nil
}

type fakeQueue struct{ pending []int }

func (q *fakeQueue) Len() int {
	if len(q.pending) == 0 {
		return 0
	}
	n := q.pending[0]
	q.pending = q.pending[1:]
	return n
}

func redConfig() groups.ColorConfig {
	r := screen.NewRegion(0, 0, 100, 100)
	return groups.ColorConfig{
		Region:    &r,
		Target:    groups.RGB{R: 255},
		Tolerance: 10,
		Interval:  1,
		Commands:  "KeyDown \"q\", 1\nDelay 150\nKeyUp \"q\", 1",
	}
}

func newTestModule(img *image.RGBA, q Queue) (*Module, *fakeGrabber, *fakeRunner) {
	grab := &fakeGrabber{img: img}
	runner := &fakeRunner{}
	m := NewModule(Deps{
		Screen:  grab,
		Runner:  runner,
		Queue:   q,
		Workers: workers.NewManager(context.Background(), workers.WithLogger(logging.Discard())),
		Logger:  logging.Discard(),
	}, groups.NewValue(redConfig(), groups.ColorConfig.Clone))
	return m, grab, runner
}

func TestMatchRatio(t *testing.T) {
	ratio, err := MatchRatio(stripes(100, 100, 15), groups.RGB{R: 255}, 10)
	if err != nil {
		t.Fatalf("MatchRatio: %v", err)
	}
	if ratio <= MinMatchRatio || ratio > 0.2 {
		t.Errorf("Expected a ratio around 0.15, got %.3f", ratio)
	}

	ratio, _ = MatchRatio(stripes(100, 100, 5), groups.RGB{R: 255}, 10)
	if ratio > MinMatchRatio {
		t.Errorf("5%% red should not match, got %.3f", ratio)
	}

	ratio, _ = MatchRatio(stripes(100, 100, 100), groups.RGB{R: 240, G: 5}, 20)
	if ratio != 1 {
		t.Errorf("Expected a full match within tolerance, got %.3f", ratio)
	}

	if _, err := MatchRatio(nil, groups.RGB{}, 0); err == nil {
		t.Error("Expected an error for a nil image")
	}
}

func TestMatchRunsScriptOnceThenCoolsDown(t *testing.T) {
	m, grab, runner := newTestModule(stripes(100, 100, 15), &fakeQueue{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var sleeps []time.Duration
	m.sleep = func(c context.Context, d time.Duration) bool {
		sleeps = append(sleeps, d)
		if d == Cooldown {
			cancel()
		}
		return c.Err() == nil
	}

	m.run(ctx)

	if len(runner.runs) != 1 {
		t.Fatalf("Expected one script execution, got %d", len(runner.runs))
	}
	if grab.calls != 1 {
		t.Errorf("Expected no capture during the cooldown, got %d captures", grab.calls)
	}
	if len(sleeps) != 1 || sleeps[0] != Cooldown {
		t.Errorf("Expected the 5s cooldown right after the match, got %v", sleeps)
	}

	cmds := runner.runs[0]
	if len(cmds) != 3 || cmds[1].Op != script.OpDelay || cmds[1].Delay != 50*time.Millisecond {
		t.Errorf("Expected the optimized script, got %v", cmds)
	}
	if m.Matches() != 1 {
		t.Errorf("Expected 1 match, got %d", m.Matches())
	}
}

func TestNoMatchSleepsInterval(t *testing.T) {
	m, _, runner := newTestModule(stripes(100, 100, 2), &fakeQueue{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var sleeps []time.Duration
	m.sleep = func(c context.Context, d time.Duration) bool {
		sleeps = append(sleeps, d)
		if len(sleeps) == 3 {
			cancel()
		}
		return c.Err() == nil
	}

	m.run(ctx)
	if len(runner.runs) != 0 {
		t.Error("Script ran without a match")
	}
	for _, d := range sleeps {
		if d != time.Second {
			t.Errorf("Expected 1s interval sleeps, got %v", sleeps)
			break
		}
	}
}

func TestBacksOffWhileQueueBusy(t *testing.T) {
	m, grab, _ := newTestModule(stripes(100, 100, 0), &fakeQueue{pending: []int{2, 1, 1}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var sleeps []time.Duration
	m.sleep = func(c context.Context, d time.Duration) bool {
		sleeps = append(sleeps, d)
		if d != QueueBackoff {
			cancel()
		}
		return c.Err() == nil
	}

	m.run(ctx)
	want := []time.Duration{QueueBackoff, QueueBackoff, QueueBackoff, time.Second}
	if len(sleeps) != len(want) {
		t.Fatalf("Expected %v, got %v", want, sleeps)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Errorf("Sleep %d: expected %v, got %v", i, want[i], sleeps[i])
		}
	}
	if grab.calls != 1 {
		t.Errorf("Expected one capture after the queue drained, got %d", grab.calls)
	}
}

func TestHashRecordedButNotUsedToSkip(t *testing.T) {
	m, grab, runner := newTestModule(stripes(100, 100, 50), &fakeQueue{})

	cfg := redConfig()
	for i := 0; i < 3; i++ {
		if _, err := m.check(context.Background(), cfg); err != nil {
			t.Fatalf("check: %v", err)
		}
	}
	if grab.calls != 3 || len(runner.runs) != 3 {
		t.Errorf("Identical frames must still be evaluated: %d captures, %d runs", grab.calls, len(runner.runs))
	}
	if m.LastHash() == 0 {
		t.Error("Expected a recorded hash")
	}
}

func TestStartNeedsRegion(t *testing.T) {
	m, _, _ := newTestModule(stripes(10, 10, 0), &fakeQueue{})
	m.config.Set(groups.ColorConfig{})
	if m.Start() != 0 {
		t.Error("Started without a region")
	}
	if m.deps.Workers.Running(modules.KindColor) {
		t.Error("Worker launched without a region")
	}
}
