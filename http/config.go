package http

import (
	"github.com/jonoton/go-runtime"

	"github.com/jonoton/alprd/manage"
)

// Config Constants
var (
	AccessLogFilename     = "access"
	DefaultAccessLog      = "/var/log/alprd-access.log"
	DefaultLimitPerSecond = 100
)

// Config contains the parameters for Http
type Config struct {
	Port           int
	AccessLog      string
	LimitPerSecond int
}

// NewConfig creates a new Config from the daemon http block
func NewConfig(conf manage.HTTPConfig) *Config {
	c := &Config{
		Port:           conf.Port,
		AccessLog:      conf.AccessLog,
		LimitPerSecond: conf.LimitPerSecond,
	}
	if c.AccessLog == "" {
		c.AccessLog = DefaultAccessLog
		if logDir := runtime.GetRuntimeDirectory(".logs"); logDir != "" {
			c.AccessLog = logDir + AccessLogFilename
		}
	}
	if c.LimitPerSecond <= 0 {
		c.LimitPerSecond = DefaultLimitPerSecond
	}
	return c
}

// Enabled is true when a port is configured
func (c *Config) Enabled() bool {
	return c.Port > 0
}
