package monitor

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jonoton/alprd/motion"
	"github.com/jonoton/alprd/videosource"
	"github.com/jonoton/alprd/workqueue"
)

// Item is one motion gated frame waiting for recognition
type Item struct {
	Frame  videosource.Frame
	Region videosource.Region
}

// capture reads the source and feeds every recognition queue
type capture struct {
	source       videosource.VideoSource
	gate         *motion.Gate
	queues       []*workqueue.Queue[Item]
	pollInterval time.Duration
	clock        bool
	stats        *Stats
	log          *log.Entry
}

func (c *capture) run(ctx context.Context) error {
	defer c.gate.Close()
	if !c.source.Initialize() {
		return fmt.Errorf("could not initialize source %s", c.source.GetName())
	}
	defer c.source.Cleanup()
	c.log.Infoln("Video processing started")

	lastConnection := 0
	for ctx.Err() == nil {
		done, frame, connection := c.source.ReadFrame()
		if done {
			frame.Cleanup()
			c.log.Infoln("Done source", c.source.GetName())
			break
		}
		if frame.IsValid() {
			if connection != lastConnection && lastConnection != 0 {
				c.stats.Reconnects.Add(1)
			}
			c.process(frame, connection != lastConnection)
			lastConnection = connection
		} else {
			c.stats.FramesEmpty.Add(1)
		}
		if !pause(ctx, c.pollInterval) {
			break
		}
	}
	c.log.Infoln("Video processing ended")
	return nil
}

// process takes ownership of frame
func (c *capture) process(frame videosource.Frame, reset bool) {
	defer frame.Cleanup()
	c.stats.AddFrame()
	start := time.Now()
	if reset {
		c.gate.Reset(frame)
	}
	region := c.gate.Detect(frame)
	if c.clock {
		c.log.Debugf("Motion detection on frame %d took %v", frame.Sequence, time.Since(start))
	}
	if region.Area() <= 0 {
		return
	}
	c.stats.MotionFrames.Add(1)
	for _, q := range c.queues {
		q.Push(Item{Frame: *frame.Clone(), Region: region})
	}
}

func pause(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
