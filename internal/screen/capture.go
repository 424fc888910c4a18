package screen

import (
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// VirtualScreen captures the union of every active display.
type VirtualScreen struct{}

// NewVirtualScreen creates the desktop capture backend.
func NewVirtualScreen() *VirtualScreen {
	return &VirtualScreen{}
}

// Bounds returns the virtual screen rectangle spanning all displays.
func (v *VirtualScreen) Bounds() (image.Rectangle, error) {
	n := screenshot.NumActiveDisplays()
	if n <= 0 {
		return image.Rectangle{}, fmt.Errorf("no active displays")
	}

	bounds := screenshot.GetDisplayBounds(0)
	for i := 1; i < n; i++ {
		bounds = bounds.Union(screenshot.GetDisplayBounds(i))
	}
	return bounds, nil
}

// CaptureScreen grabs the full virtual screen. Pixel coordinates in the
// returned image match absolute screen coordinates.
func (v *VirtualScreen) CaptureScreen() (*image.RGBA, error) {
	bounds, err := v.Bounds()
	if err != nil {
		return nil, err
	}

	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, fmt.Errorf("failed to capture %v: %w", bounds, err)
	}

	// CaptureRect anchors the image at (0,0); shift it back to screen space.
	img.Rect = img.Rect.Add(bounds.Min)
	return img, nil
}

// AlwaysGranted is the default permission checker.
type AlwaysGranted struct{}

func (AlwaysGranted) CheckScreenRecording() bool { return true }
func (AlwaysGranted) CheckAccessibility() bool   { return true }
