package videosource

import (
	"fmt"
	"image"
)

// Region is an axis-aligned rectangle in frame coordinates
type Region struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// RegionFromRect converts a rectangle
func RegionFromRect(rect image.Rectangle) Region {
	rect = rect.Canon()
	return Region{
		X:      rect.Min.X,
		Y:      rect.Min.Y,
		Width:  rect.Dx(),
		Height: rect.Dy(),
	}
}

// Rect returns the Region as a rectangle
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Area is zero when nothing is covered
func (r Region) Area() int {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// IsValid is true for a positive width and height
func (r Region) IsValid() bool {
	return r.Width > 0 && r.Height > 0
}

func (r Region) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", r.X, r.Y, r.Width, r.Height)
}

// CorrectRectangle will fix a rectangle to fit within width and height
func CorrectRectangle(rect image.Rectangle, width int, height int) (result image.Rectangle) {
	if width <= 0 || height <= 0 {
		return
	}
	result = rect.Canon().Intersect(image.Rect(0, 0, width, height))
	return
}

// ClampRegion will fix a region to fit within the Frame f
func ClampRegion(f *Frame, r Region) Region {
	if !f.IsValid() {
		return Region{}
	}
	return RegionFromRect(CorrectRectangle(r.Rect(), f.Width(), f.Height()))
}

// RectRelative returns the child rectangle translated into the parent's coordinates
func RectRelative(child image.Rectangle, parent image.Rectangle) (result image.Rectangle) {
	result = child.Add(parent.Min)
	result = result.Intersect(parent)
	return
}

// RectUnion returns the smallest rectangle covering all rects
func RectUnion(rects []image.Rectangle) (result image.Rectangle) {
	for _, cur := range rects {
		result = result.Union(cur)
	}
	return
}
