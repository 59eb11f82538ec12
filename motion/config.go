package motion

import (
	"github.com/jonoton/alprd/videosource"
)

// Config contains the parameters for Motion detection
type Config struct {
	Enabled       *bool              `yaml:"enabled,omitempty"`
	ROI           videosource.Region `yaml:"roi,omitempty"`
	History       int                `yaml:"history,omitempty"`
	VarThreshold  float64            `yaml:"varThreshold,omitempty"`
	DetectShadows bool               `yaml:"detectShadows,omitempty"`
	ErodeSize     int                `yaml:"erodeSize,omitempty"`
	DebugShow     bool               `yaml:"debugShow,omitempty"`
}

// IsEnabled defaults to false, every frame is then sent to recognition
func (c *Config) IsEnabled() bool {
	return c != nil && c.Enabled != nil && *c.Enabled
}
