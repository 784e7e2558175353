package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/blecentral/internal/backend"
	"github.com/srg/blecentral/pkg/stream"
)

// Backend names accepted in Config.Backend. Empty selects the platform default.
const (
	BackendGoBLE  = "goble"
	BackendTinyGo = "tinygo"
	BackendSim    = "sim"
)

var (
	backends      = []string{"", BackendGoBLE, BackendTinyGo, BackendSim}
	outputFormats = []string{"table", "json", "csv"}
)

// Config holds application configuration
type Config struct {
	LogLevel logrus.Level `yaml:"log_level" json:"log_level" default:"4"`
	Backend  string       `yaml:"backend" json:"backend"`

	ScanTimeout    time.Duration `yaml:"scan_timeout" json:"scan_timeout" default:"10s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" default:"30s"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout" default:"10s"`

	ScanBuffer     int    `yaml:"scan_buffer" json:"scan_buffer" default:"256"`
	ScanPolicy     string `yaml:"scan_policy" json:"scan_policy" default:"drop-oldest"`
	NotifyBuffer   int    `yaml:"notify_buffer" json:"notify_buffer" default:"64"`
	NotifyPolicy   string `yaml:"notify_policy" json:"notify_policy" default:"block"`
	EventBuffer    int    `yaml:"event_buffer" json:"event_buffer" default:"16"`
	GATTQueueDepth int    `yaml:"gatt_queue_depth" json:"gatt_queue_depth" default:"32"`

	// PowerPollInterval is how often drivers without power callbacks re-check the radio.
	PowerPollInterval time.Duration `yaml:"power_poll_interval" json:"power_poll_interval" default:"2s"`
	// SimProfile is the YAML peripheral profile of the sim backend. Empty starts an empty simulator.
	SimProfile string `yaml:"sim_profile" json:"sim_profile"`

	OutputFormat string `yaml:"output_format" json:"output_format" default:"table"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML configuration file. Keys missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes YAML configuration and validates it.
func Parse(raw []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if !slices.Contains(backends, c.Backend) {
		return fmt.Errorf("unknown backend %q (want goble, tinygo or sim)", c.Backend)
	}
	if !slices.Contains(outputFormats, c.OutputFormat) {
		return fmt.Errorf("unknown output format %q (want table, json or csv)", c.OutputFormat)
	}
	if _, err := stream.ParsePolicy(c.ScanPolicy); err != nil {
		return fmt.Errorf("scan_policy: %w", err)
	}
	if _, err := stream.ParsePolicy(c.NotifyPolicy); err != nil {
		return fmt.Errorf("notify_policy: %w", err)
	}
	for name, d := range map[string]time.Duration{
		"scan_timeout":        c.ScanTimeout,
		"connect_timeout":     c.ConnectTimeout,
		"request_timeout":     c.RequestTimeout,
		"power_poll_interval": c.PowerPollInterval,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	for name, n := range map[string]int{
		"scan_buffer":      c.ScanBuffer,
		"notify_buffer":    c.NotifyBuffer,
		"event_buffer":     c.EventBuffer,
		"gatt_queue_depth": c.GATTQueueDepth,
	} {
		if n < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}

// BackendOptions converts the buffering and timeout settings for the backend core.
func (c *Config) BackendOptions() (backend.Options, error) {
	scanPolicy, err := stream.ParsePolicy(c.ScanPolicy)
	if err != nil {
		return backend.Options{}, err
	}
	notifyPolicy, err := stream.ParsePolicy(c.NotifyPolicy)
	if err != nil {
		return backend.Options{}, err
	}

	opts := backend.DefaultOptions()
	opts.ScanBuffer = stream.Options{Capacity: c.ScanBuffer, Policy: scanPolicy, Name: "scan"}
	opts.NotifyBuffer = stream.Options{Capacity: c.NotifyBuffer, Policy: notifyPolicy, Name: "notify"}
	opts.EventBuffer = stream.Options{Capacity: c.EventBuffer, Policy: stream.DropOldest, Name: "events"}
	opts.QueueDepth = c.GATTQueueDepth
	opts.ConnectTimeout = c.ConnectTimeout
	opts.RequestTimeout = c.RequestTimeout
	return opts, nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
