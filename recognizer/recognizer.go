// Package recognizer reads license plates from frames
package recognizer

import (
	"context"

	"github.com/jonoton/alprd/videosource"
)

// Recognizer finds plates in the hinted regions of a frame.
// Implementations are used by a single worker and need not be safe for concurrent use.
type Recognizer interface {
	Recognize(ctx context.Context, frame videosource.Frame, regions []videosource.Region) (Results, error)
	Close() error
}

// Config contains the engine parameters of one worker
type Config struct {
	Command    string
	Country    string
	ConfigFile string
	TopN       int
}

// SetDefaults fills unset parameters
func (c *Config) SetDefaults() {
	if c.Command == "" {
		c.Command = "alpr"
	}
	if c.Country == "" {
		c.Country = "us"
	}
	if c.TopN <= 0 {
		c.TopN = 20
	}
}
