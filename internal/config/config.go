// Package config loads the optional yaml configuration file. Flags take
// precedence; the file fills in whatever the command line left unset.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration.
type Config struct {
	// Endpoint is the bus host (RTM) or connection URL (Redis).
	Endpoint string `yaml:"endpoint"`
	AppKey   string `yaml:"appkey"`
	Port     string `yaml:"port"`
	Channel  string `yaml:"channel"`

	// Bus selects the transport: "rtm" (default) or "redis".
	Bus string `yaml:"bus"`

	ImageWidth  int `yaml:"image_width"`
	ImageHeight int `yaml:"image_height"`

	Pool    PoolConfig    `yaml:"pool"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// PoolConfig configures pool-controller mode.
type PoolConfig struct {
	Name               string `yaml:"name"`
	JobType            string `yaml:"job_type"`
	MaxStreamsCapacity int    `yaml:"max_streams_capacity"`
}

// MetricsConfig configures the prometheus exposition listener.
type MetricsConfig struct {
	BindAddress string `yaml:"bind_address"`
}

// Load reads a yaml config file. A missing path returns an empty config.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Merge fills zero-valued fields of c from other.
func (c *Config) Merge(other *Config) {
	if c.Endpoint == "" {
		c.Endpoint = other.Endpoint
	}
	if c.AppKey == "" {
		c.AppKey = other.AppKey
	}
	if c.Port == "" {
		c.Port = other.Port
	}
	if c.Channel == "" {
		c.Channel = other.Channel
	}
	if c.Bus == "" {
		c.Bus = other.Bus
	}
	if c.ImageWidth == 0 {
		c.ImageWidth = other.ImageWidth
	}
	if c.ImageHeight == 0 {
		c.ImageHeight = other.ImageHeight
	}
	if c.Pool.Name == "" {
		c.Pool.Name = other.Pool.Name
	}
	if c.Pool.JobType == "" {
		c.Pool.JobType = other.Pool.JobType
	}
	if c.Pool.MaxStreamsCapacity == 0 {
		c.Pool.MaxStreamsCapacity = other.Pool.MaxStreamsCapacity
	}
	if c.Metrics.BindAddress == "" {
		c.Metrics.BindAddress = other.Metrics.BindAddress
	}
}

// Validate checks the fields every mode requires.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("missing endpoint")
	}
	if c.Bus != "redis" && c.AppKey == "" {
		return fmt.Errorf("missing appkey")
	}
	return nil
}
