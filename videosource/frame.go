package videosource

import (
	"time"

	"gocv.io/x/gocv"
)

// Frame contains a captured image and where it came from in the stream
type Frame struct {
	Mat         gocv.Mat
	Sequence    uint64
	CreatedTime time.Time
}

// NewFrame creates a new Frame taking ownership of mat
func NewFrame(mat gocv.Mat, sequence uint64) *Frame {
	f := &Frame{
		Mat:         gocv.Mat{},
		Sequence:    sequence,
		CreatedTime: time.Now(),
	}
	if mat.Ptr() != nil && !mat.Empty() {
		f.Mat = mat
	} else if mat.Ptr() != nil {
		mat.Close()
	}
	return f
}

// IsValid checks the underlying image for validity
func (f *Frame) IsValid() bool {
	return f.Mat.Ptr() != nil && !f.Mat.Empty()
}

// Height returns the Frame height or -1
func (f *Frame) Height() int {
	if !f.IsValid() {
		return -1
	}
	return f.Mat.Rows()
}

// Width returns the Frame width or -1
func (f *Frame) Width() int {
	if !f.IsValid() {
		return -1
	}
	return f.Mat.Cols()
}

// ElemSize returns the bytes per pixel or -1
func (f *Frame) ElemSize() int {
	if !f.IsValid() {
		return -1
	}
	return f.Mat.ElemSize()
}

// Bounds returns the full frame region
func (f *Frame) Bounds() Region {
	if !f.IsValid() {
		return Region{}
	}
	return Region{Width: f.Width(), Height: f.Height()}
}

// Clone will deep copy the Frame
func (f *Frame) Clone() *Frame {
	clone := &Frame{
		Sequence:    f.Sequence,
		CreatedTime: f.CreatedTime,
	}
	if f.IsValid() {
		clone.Mat = f.Mat.Clone()
	}
	return clone
}

// Cleanup will release the Frame pixels
func (f *Frame) Cleanup() {
	if f.Mat.Ptr() != nil {
		f.Mat.Close()
	}
	f.Mat = gocv.Mat{}
}
