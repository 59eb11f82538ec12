package monitor

import (
	"time"

	"github.com/jonoton/alprd/delivery"
	"github.com/jonoton/alprd/motion"
	"github.com/jonoton/alprd/workqueue"
)

// Config contains the parameters for one stream unit
type Config struct {
	CameraID          int
	URL               string
	SiteID            string
	CompanyID         string
	PollInterval      time.Duration
	IdleInterval      time.Duration
	CaptureStartDelay time.Duration
	QueueCapacity     int
	Motion            motion.Config
	Channel           string
	Upload            delivery.UploadConfig
	// Clock logs processing times at debug level
	Clock bool
}

// SetDefaults fills unset parameters
func (c *Config) SetDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Millisecond
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = time.Millisecond
	}
	if c.CaptureStartDelay <= 0 {
		c.CaptureStartDelay = 10 * time.Millisecond
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = workqueue.DefaultCapacity
	}
	if c.Channel == "" {
		c.Channel = "alprd"
	}
	if c.Upload.Channel == "" {
		c.Upload.Channel = c.Channel
	}
	c.Upload.SetDefaults()
}
