// manage package

package manage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/jonoton/alprd/broker"
	"github.com/jonoton/alprd/delivery"
	"github.com/jonoton/alprd/monitor"
	"github.com/jonoton/alprd/motion"
	"github.com/jonoton/alprd/recognizer"
)

// Config Constants
var (
	ConfigFilename           = "alprd.yaml"
	RecognizerConfigFilename = "openalpr.conf"
)

// UploadConfig contains the broker and sink parameters
type UploadConfig struct {
	Enabled          bool   `yaml:"enabled,omitempty"`
	Broker           string `yaml:"broker,omitempty"`
	Host             string `yaml:"host,omitempty"`
	Port             int    `yaml:"port,omitempty"`
	Channel          string `yaml:"channel,omitempty"`
	URL              string `yaml:"url,omitempty"`
	NatsURL          string `yaml:"natsUrl,omitempty"`
	SqlitePath       string `yaml:"sqlitePath,omitempty"`
	TTRSeconds       int    `yaml:"ttrSeconds,omitempty"`
	ReconnectDelayMs int    `yaml:"reconnectDelayMs,omitempty"`
	SuccessDelayMs   int    `yaml:"successDelayMs,omitempty"`
	FailureDelayMs   int    `yaml:"failureDelayMs,omitempty"`
	MaxReleases      int    `yaml:"maxReleases,omitempty"`
	TimeoutMs        int    `yaml:"timeoutMs,omitempty"`
	StrictStatus     bool   `yaml:"strictStatus,omitempty"`
}

// RecognizerConfig contains the engine parameters shared by all workers
type RecognizerConfig struct {
	Command string `yaml:"command,omitempty"`
}

// HTTPConfig contains the status server parameters
type HTTPConfig struct {
	Port           int    `yaml:"port,omitempty"`
	AccessLog      string `yaml:"accessLog,omitempty"`
	LimitPerSecond int    `yaml:"limitPerSecond,omitempty"`
}

// Config contains the parameters for Manage
type Config struct {
	Streams               []string         `yaml:"streams"`
	Country               string           `yaml:"country,omitempty"`
	TopN                  int              `yaml:"topN,omitempty"`
	StorePlates           bool             `yaml:"storePlates,omitempty"`
	StorePlatesLocation   string           `yaml:"storePlatesLocation,omitempty"`
	StoreDeleteAfterHours int              `yaml:"storeDeleteAfterHours,omitempty"`
	StoreDeleteAfterGB    int              `yaml:"storeDeleteAfterGB,omitempty"`
	CompanyID             string           `yaml:"companyId,omitempty"`
	SiteID                string           `yaml:"siteId,omitempty"`
	PollIntervalMs        int              `yaml:"pollIntervalMs,omitempty"`
	QueueCapacity         int              `yaml:"queueCapacity,omitempty"`
	Motion                motion.Config    `yaml:"motion,omitempty"`
	Upload                UploadConfig     `yaml:"upload,omitempty"`
	Recognizer            RecognizerConfig `yaml:"recognizer,omitempty"`
	HTTP                  HTTPConfig       `yaml:"http,omitempty"`
}

// LoadConfig reads, defaults and validates the config at configPath
func LoadConfig(configPath string) (*Config, error) {
	yamlFile, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c := &Config{}
	if err := yaml.Unmarshal(yamlFile, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", configPath, err)
	}
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return c, nil
}

func (c *Config) setDefaults() {
	if c.Country == "" {
		c.Country = "us"
	}
	if c.TopN <= 0 {
		c.TopN = 20
	}
	if c.StorePlatesLocation == "" {
		c.StorePlatesLocation = "/tmp/"
	}
	if c.PollIntervalMs <= 0 {
		c.PollIntervalMs = 10
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 101
	}
	if c.Upload.Broker == "" {
		c.Upload.Broker = broker.KindBeanstalk
	}
	if c.Upload.Host == "" {
		c.Upload.Host = "127.0.0.1"
	}
	if c.Upload.Port <= 0 {
		c.Upload.Port = 11300
	}
	if c.Upload.Channel == "" {
		c.Upload.Channel = "alprd"
	}
	if c.Upload.TTRSeconds <= 0 {
		c.Upload.TTRSeconds = 60
	}
	if c.Upload.ReconnectDelayMs <= 0 {
		c.Upload.ReconnectDelayMs = 5000
	}
	if c.Upload.SuccessDelayMs <= 0 {
		c.Upload.SuccessDelayMs = 10
	}
	if c.Upload.FailureDelayMs <= 0 {
		c.Upload.FailureDelayMs = 2000
	}
	if c.Upload.TimeoutMs <= 0 {
		c.Upload.TimeoutMs = 10000
	}
	if c.Recognizer.Command == "" {
		c.Recognizer.Command = "alpr"
	}
}

// Validate checks the parameters that shape the pipeline
func (c *Config) Validate() error {
	if len(c.Streams) == 0 {
		return errors.New("no video streams configured")
	}
	for index, stream := range c.Streams {
		if strings.TrimSpace(stream) == "" {
			return fmt.Errorf("stream %d has no address", index+1)
		}
	}
	if c.QueueCapacity < 3 || c.QueueCapacity%2 == 0 {
		return fmt.Errorf("queueCapacity %d must be odd and at least 3", c.QueueCapacity)
	}
	if c.Motion.ErodeSize < 0 {
		return fmt.Errorf("motion erodeSize %d is negative", c.Motion.ErodeSize)
	}
	if c.Upload.MaxReleases < 0 {
		return fmt.Errorf("upload maxReleases %d is negative", c.Upload.MaxReleases)
	}
	switch strings.ToLower(c.Upload.Broker) {
	case broker.KindBeanstalk, broker.KindJetStream, broker.KindSqlite, broker.KindMemory:
	default:
		return fmt.Errorf("unknown upload broker %q", c.Upload.Broker)
	}
	if c.Upload.Enabled && c.Upload.URL == "" {
		return errors.New("upload enabled without url")
	}
	return nil
}

// BrokerConfig returns the broker parameters
func (c *Config) BrokerConfig() broker.Config {
	return broker.Config{
		Kind:       c.Upload.Broker,
		Host:       c.Upload.Host,
		Port:       c.Upload.Port,
		NatsURL:    c.Upload.NatsURL,
		SqlitePath: c.Upload.SqlitePath,
		TTR:        time.Duration(c.Upload.TTRSeconds) * time.Second,
	}
}

// RecognizerConfig returns the engine parameters of the worker reading configFile
func (c *Config) RecognizerConfig(configFile string) recognizer.Config {
	return recognizer.Config{
		Command:    c.Recognizer.Command,
		Country:    c.Country,
		ConfigFile: configFile,
		TopN:       c.TopN,
	}
}

// UnitConfig returns the parameters of the stream at index
func (c *Config) UnitConfig(index int, clock bool) monitor.Config {
	return monitor.Config{
		CameraID:      index + 1,
		URL:           c.Streams[index],
		SiteID:        c.SiteID,
		CompanyID:     c.CompanyID,
		PollInterval:  time.Duration(c.PollIntervalMs) * time.Millisecond,
		QueueCapacity: c.QueueCapacity,
		Motion:        c.Motion,
		Channel:       c.Upload.Channel,
		Upload: delivery.UploadConfig{
			Channel:        c.Upload.Channel,
			ReconnectDelay: time.Duration(c.Upload.ReconnectDelayMs) * time.Millisecond,
			SuccessDelay:   time.Duration(c.Upload.SuccessDelayMs) * time.Millisecond,
			FailureDelay:   time.Duration(c.Upload.FailureDelayMs) * time.Millisecond,
			MaxReleases:    c.Upload.MaxReleases,
		},
		Clock: clock,
	}
}

// Paths are the files read from the config directory
type Paths struct {
	Directory string
	Config    string
	// Recognizers holds one engine config per recognition worker
	Recognizers []string
}

// ResolvePaths finds the config files in dir.
// The daemon config and the first engine config are required, a second engine
// config adds a second recognition worker.
func ResolvePaths(dir string) (Paths, error) {
	p := Paths{
		Directory: dir,
		Config:    filepath.Join(dir, ConfigFilename),
	}
	if !isFile(p.Config) {
		return p, fmt.Errorf("config file %s does not exist", p.Config)
	}
	first := filepath.Join(dir, RecognizerConfigFilename+"1")
	if !isFile(first) {
		return p, fmt.Errorf("recognizer config %s does not exist", first)
	}
	p.Recognizers = append(p.Recognizers, first)
	if second := filepath.Join(dir, RecognizerConfigFilename+"2"); isFile(second) {
		p.Recognizers = append(p.Recognizers, second)
	}
	return p, nil
}

// All returns every config file
func (p Paths) All() []string {
	return append([]string{p.Config}, p.Recognizers...)
}

func isFile(name string) bool {
	info, err := os.Stat(name)
	return err == nil && !info.IsDir()
}
