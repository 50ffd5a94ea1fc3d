package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Missing-hours policies: what a weekday without a business_hours entry means.
const (
	MissingHoursClosed = "closed"
	MissingHoursOpen   = "open"
)

// Config models storepulse.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Report struct {
		DefaultTimezone string `yaml:"default_timezone"`
		MissingHours    string `yaml:"missing_hours"`
	} `yaml:"report"`
	Ingest struct {
		DataDir         string `yaml:"data_dir"`
		RefreshInterval string `yaml:"refresh_interval"`
	} `yaml:"ingest"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run sp config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Report.DefaultTimezone == "" {
		return fmt.Errorf("config.report.default_timezone is required")
	}
	if _, err := time.LoadLocation(c.Report.DefaultTimezone); err != nil {
		return fmt.Errorf("config.report.default_timezone: %w", err)
	}
	switch c.Report.MissingHours {
	case MissingHoursClosed, MissingHoursOpen:
	default:
		return fmt.Errorf("config.report.missing_hours must be %q or %q", MissingHoursClosed, MissingHoursOpen)
	}
	if c.Ingest.RefreshInterval != "" {
		if _, err := time.ParseDuration(c.Ingest.RefreshInterval); err != nil {
			return fmt.Errorf("config.ingest.refresh_interval: %w", err)
		}
	}
	return nil
}

// DefaultLocation returns the fallback zone for stores without an assignment.
// Validate guarantees the identifier resolves.
func (c *Config) DefaultLocation() *time.Location {
	loc, err := time.LoadLocation(c.Report.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RefreshInterval returns the parsed ingest refresh interval, zero when unset.
func (c *Config) RefreshInterval() time.Duration {
	if c.Ingest.RefreshInterval == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Ingest.RefreshInterval)
	if err != nil {
		return 0
	}
	return d
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "storepulse.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}


const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /api

report:
  default_timezone: America/Chicago
  missing_hours: closed

ingest:
  data_dir: data
  refresh_interval: 1h
`
