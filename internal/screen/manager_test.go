package screen

import (
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"
)

type fakeCapturer struct {
	mu    sync.Mutex
	calls int
	frame *image.RGBA
	err   error
}

func (f *fakeCapturer) CaptureScreen() (*image.RGBA, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	// Hand out a fresh buffer each time, like a real backend.
	out := image.NewRGBA(f.frame.Rect)
	copy(out.Pix, f.frame.Pix)
	return out, nil
}

func (f *fakeCapturer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type denyAll struct{}

func (denyAll) CheckScreenRecording() bool { return false }

func testFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	return img
}

func newTestManager(c Capturer, clock *time.Time, opts ...Option) *Manager {
	m := NewManager(c, opts...)
	m.now = func() time.Time { return *clock }
	return m
}

func TestFullScreenshotCachesWithinTTL(t *testing.T) {
	capturer := &fakeCapturer{frame: testFrame(100, 80)}
	clock := time.Unix(1000, 0)
	m := newTestManager(capturer, &clock)

	a := m.FullScreenshot(3)
	clock = clock.Add(50 * time.Millisecond)
	b := m.FullScreenshot(3)

	if capturer.Calls() != 1 {
		t.Fatalf("Expected 1 capture within TTL, got %d", capturer.Calls())
	}
	if a == nil || b == nil {
		t.Fatal("Expected frames, got nil")
	}
	if &a.Pix[0] == &b.Pix[0] {
		t.Error("Callers must receive distinct buffers")
	}

	a.Pix[0] = 255
	if b.Pix[0] == 255 {
		t.Error("Mutating one copy leaked into another")
	}

	clock = clock.Add(60 * time.Millisecond)
	m.FullScreenshot(3)
	if capturer.Calls() != 2 {
		t.Errorf("Expected a fresh capture after TTL, got %d captures", capturer.Calls())
	}

	captures, hits := m.Stats()
	if captures != 2 || hits != 1 {
		t.Errorf("Expected stats 2 captures / 1 hit, got %d / %d", captures, hits)
	}
}

func TestConcurrentCallersShareOneCapture(t *testing.T) {
	capturer := &fakeCapturer{frame: testFrame(64, 64)}
	clock := time.Unix(1000, 0)
	m := newTestManager(capturer, &clock)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			m.RegionScreenshot(NewRegion(0, 0, 20, 20), p%5+1)
		}(i)
	}
	wg.Wait()

	if capturer.Calls() != 1 {
		t.Errorf("Expected one capture for callers inside the TTL, got %d", capturer.Calls())
	}
}

func TestRegionScreenshotCrops(t *testing.T) {
	capturer := &fakeCapturer{frame: testFrame(100, 100)}
	clock := time.Unix(1000, 0)
	m := newTestManager(capturer, &clock)

	// Corners given in reverse are normalized.
	crop := m.RegionScreenshot(Region{Left: 40, Top: 30, Right: 10, Bottom: 10}, 2)
	if crop == nil {
		t.Fatal("Expected crop, got nil")
	}
	if crop.Bounds() != image.Rect(0, 0, 30, 20) {
		t.Fatalf("Unexpected crop bounds %v", crop.Bounds())
	}
	got := crop.RGBAAt(0, 0)
	if got.R != 10 || got.G != 10 {
		t.Errorf("Expected top-left pixel from (10,10), got R=%d G=%d", got.R, got.G)
	}
}

func TestRegionScreenshotRejectsInvalid(t *testing.T) {
	capturer := &fakeCapturer{frame: testFrame(100, 100)}
	clock := time.Unix(1000, 0)
	m := newTestManager(capturer, &clock)

	if img := m.RegionScreenshot(NewRegion(0, 0, 9, 50), 1); img != nil {
		t.Error("Expected nil for a region narrower than the minimum")
	}
	if img := m.RegionScreenshot(NewRegion(500, 500, 600, 600), 1); img != nil {
		t.Error("Expected nil for a region outside the screen")
	}
	if capturer.Calls() != 1 {
		t.Errorf("Invalid sizes must be rejected before capture, got %d captures", capturer.Calls())
	}
}

func TestCaptureFailureReturnsNil(t *testing.T) {
	capturer := &fakeCapturer{frame: testFrame(10, 10), err: errors.New("display asleep")}
	clock := time.Unix(1000, 0)
	m := newTestManager(capturer, &clock)

	if img := m.FullScreenshot(5); img != nil {
		t.Error("Expected nil when the backend fails")
	}
}

func TestMissingPermissionPromptsAndReturnsNil(t *testing.T) {
	capturer := &fakeCapturer{frame: testFrame(50, 50)}
	clock := time.Unix(1000, 0)
	prompted := make(chan struct{}, 1)
	m := newTestManager(capturer, &clock, WithPermissions(denyAll{}, func() {
		prompted <- struct{}{}
	}))

	if img := m.RegionScreenshot(NewRegion(0, 0, 20, 20), 3); img != nil {
		t.Fatal("Expected nil without permission")
	}

	select {
	case <-prompted:
	case <-time.After(time.Second):
		t.Fatal("Permission prompt was not invoked")
	}
	if capturer.Calls() != 0 {
		t.Errorf("Capture must not run without permission, got %d calls", capturer.Calls())
	}
}

func TestPermissionPromptIsRateLimited(t *testing.T) {
	capturer := &fakeCapturer{frame: testFrame(50, 50)}
	clock := time.Unix(1000, 0)
	var mu sync.Mutex
	prompts := 0
	m := newTestManager(capturer, &clock, WithPermissions(denyAll{}, func() {
		mu.Lock()
		prompts++
		mu.Unlock()
	}))
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return prompts
	}
	waitPrompts := func(want int) {
		t.Helper()
		deadline := time.Now().Add(time.Second)
		for count() < want && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		// Give a stray extra prompt a chance to show up.
		time.Sleep(20 * time.Millisecond)
		if got := count(); got != want {
			t.Fatalf("Expected %d prompts, got %d", want, got)
		}
	}

	for i := 0; i < 50; i++ {
		m.RegionScreenshot(NewRegion(0, 0, 20, 20), 3)
	}
	waitPrompts(1)

	clock = clock.Add(PromptInterval - time.Second)
	m.RegionScreenshot(NewRegion(0, 0, 20, 20), 3)
	waitPrompts(1)

	clock = clock.Add(2 * time.Second)
	m.RegionScreenshot(NewRegion(0, 0, 20, 20), 3)
	waitPrompts(2)
}

func TestInvalidateForcesCapture(t *testing.T) {
	capturer := &fakeCapturer{frame: testFrame(30, 30)}
	clock := time.Unix(1000, 0)
	m := newTestManager(capturer, &clock)

	m.FullScreenshot(1)
	m.Invalidate()
	m.FullScreenshot(1)

	if capturer.Calls() != 2 {
		t.Errorf("Expected 2 captures after invalidation, got %d", capturer.Calls())
	}
}

func TestRegionHelpers(t *testing.T) {
	r := NewRegion(100, 200, 50, 120)
	if r.Left != 50 || r.Top != 120 || r.Right != 100 || r.Bottom != 200 {
		t.Errorf("Normalize failed: %+v", r)
	}
	if c := r.Center(); c.X != 75 || c.Y != 160 {
		t.Errorf("Expected center (75,160), got %+v", c)
	}
	if !r.Contains(Point{X: 60, Y: 130}) {
		t.Error("Expected point inside region")
	}
}
