package screen

import (
	"fmt"
	"image"
)

// MinRegionSize is the smallest accepted width and height of a region.
const MinRegionSize = 10

// Region is a rectangle in absolute virtual-screen coordinates.
type Region struct {
	Left   int `yaml:"left"`
	Top    int `yaml:"top"`
	Right  int `yaml:"right"`
	Bottom int `yaml:"bottom"`
}

// Point is an absolute virtual-screen position.
type Point struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
}

// NewRegion creates a normalized region from two corners.
func NewRegion(x1, y1, x2, y2 int) Region {
	return Region{Left: x1, Top: y1, Right: x2, Bottom: y2}.Normalize()
}

// Normalize orders the corners so Left <= Right and Top <= Bottom.
func (r Region) Normalize() Region {
	if r.Left > r.Right {
		r.Left, r.Right = r.Right, r.Left
	}
	if r.Top > r.Bottom {
		r.Top, r.Bottom = r.Bottom, r.Top
	}
	return r
}

// Width returns the width of the region
func (r Region) Width() int {
	return r.Right - r.Left
}

// Height returns the height of the region
func (r Region) Height() int {
	return r.Bottom - r.Top
}

// Valid reports whether the normalized region is at least MinRegionSize on
// both axes.
func (r Region) Valid() bool {
	n := r.Normalize()
	return n.Width() >= MinRegionSize && n.Height() >= MinRegionSize
}

// Center returns the geometric center of the region.
func (r Region) Center() Point {
	n := r.Normalize()
	return Point{X: (n.Left + n.Right) / 2, Y: (n.Top + n.Bottom) / 2}
}

// Contains checks if a point is within the region
func (r Region) Contains(p Point) bool {
	n := r.Normalize()
	return p.X >= n.Left && p.X <= n.Right && p.Y >= n.Top && p.Y <= n.Bottom
}

// Rect converts the region to an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	n := r.Normalize()
	return image.Rect(n.Left, n.Top, n.Right, n.Bottom)
}

func (r Region) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", r.Left, r.Top, r.Right, r.Bottom)
}
