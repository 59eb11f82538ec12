package monitor

import (
	"sync/atomic"
	"time"
)

// Stats contains the pipeline counters of a unit
type Stats struct {
	FramesRead   atomic.Uint64
	FramesEmpty  atomic.Uint64
	MotionFrames atomic.Uint64
	Reconnects   atomic.Uint64
	Recognized   atomic.Uint64
	WithPlates   atomic.Uint64
	Failed       atomic.Uint64
	Submitted    atomic.Uint64
	Dropped      atomic.Uint64
	lastFrame    atomic.Int64
}

// StatsSnapshot is a copy of Stats
type StatsSnapshot struct {
	FramesRead    uint64    `json:"framesRead"`
	FramesEmpty   uint64    `json:"framesEmpty"`
	MotionFrames  uint64    `json:"motionFrames"`
	Reconnects    uint64    `json:"reconnects"`
	Recognized    uint64    `json:"recognized"`
	WithPlates    uint64    `json:"withPlates"`
	Failed        uint64    `json:"failed"`
	Submitted     uint64    `json:"submitted"`
	Dropped       uint64    `json:"dropped"`
	LastFrameTime time.Time `json:"lastFrameTime"`
}

// AddFrame counts a read frame
func (s *Stats) AddFrame() {
	s.FramesRead.Add(1)
	s.lastFrame.Store(time.Now().UnixNano())
}

// Snapshot returns the current counters
func (s *Stats) Snapshot() StatsSnapshot {
	snapshot := StatsSnapshot{
		FramesRead:   s.FramesRead.Load(),
		FramesEmpty:  s.FramesEmpty.Load(),
		MotionFrames: s.MotionFrames.Load(),
		Reconnects:   s.Reconnects.Load(),
		Recognized:   s.Recognized.Load(),
		WithPlates:   s.WithPlates.Load(),
		Failed:       s.Failed.Load(),
		Submitted:    s.Submitted.Load(),
		Dropped:      s.Dropped.Load(),
	}
	if last := s.lastFrame.Load(); last > 0 {
		snapshot.LastFrameTime = time.Unix(0, last)
	}
	return snapshot
}
