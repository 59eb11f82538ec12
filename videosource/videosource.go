package videosource

import "strings"

// VideoSource interface for setting up and reading frames
type VideoSource interface {
	GetName() string
	Initialize() (ok bool)
	Cleanup()
	// ReadFrame returns the latest frame, not valid when none is available.
	// connection increases every time the source (re)connects.
	ReadFrame() (done bool, frame Frame, connection int)
}

// BaseVideo contains common video source info
type BaseVideo struct {
	name string
}

// NewBaseVideo creates a new BaseVideo
func NewBaseVideo(name string) *BaseVideo {
	b := &BaseVideo{
		name: name,
	}
	return b
}

// GetName implements interface
func (b *BaseVideo) GetName() string {
	return b.name
}

// Initialize implements interface
func (b *BaseVideo) Initialize() (ok bool) {
	// implement in source type
	return
}

// Cleanup implements interface
func (b *BaseVideo) Cleanup() {
	// implement in source type
}

// ReadFrame implements interface
func (b *BaseVideo) ReadFrame() (done bool, frame Frame, connection int) {
	// implement in source type
	return
}

// NewSource picks the source type for a stream address
func NewSource(name string, address string) VideoSource {
	if isFile(address) {
		return NewFileSource(name, strings.TrimPrefix(address, "file://"))
	}
	return NewIPCamSource(name, address)
}
