package rumkit

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rumkit/go-rumkit/logging"
)

// Config describes one agent instance. The struct is tagged for YAML
// and JSON so that hosts can load it from a file via LoadConfig.
type Config struct {
	// EndpointURL is the collector's monitor endpoint.
	EndpointURL string `json:"endpoint_url" yaml:"endpoint_url"`
	// ApplicationID identifies the monitored application.
	ApplicationID string `json:"application_id" yaml:"application_id"`
	// DeviceID identifies the device; sent verbatim only when the
	// privacy level allows it.
	DeviceID int64 `json:"device_id" yaml:"device_id"`

	ApplicationName    string `json:"application_name,omitempty" yaml:"application_name,omitempty"`
	ApplicationVersion string `json:"application_version,omitempty" yaml:"application_version,omitempty"`
	OperatingSystem    string `json:"operating_system,omitempty" yaml:"operating_system,omitempty"`
	Manufacturer       string `json:"manufacturer,omitempty" yaml:"manufacturer,omitempty"`
	ModelID            string `json:"model_id,omitempty" yaml:"model_id,omitempty"`

	// DataCollectionLevel: 0 off, 1 performance, 2 user behavior
	// (default).
	DataCollectionLevel *int `json:"data_collection_level,omitempty" yaml:"data_collection_level,omitempty"`
	// CrashReportingLevel: 0 off, 1 opt-out, 2 opt-in (default).
	CrashReportingLevel *int `json:"crash_reporting_level,omitempty" yaml:"crash_reporting_level,omitempty"`

	// ServerID is the initial collector server id, replaced by the
	// one discovered during the handshake.
	ServerID int `json:"server_id,omitempty" yaml:"server_id,omitempty"`

	// HTTPTimeoutMs bounds one collector round-trip.
	HTTPTimeoutMs int `json:"http_timeout_ms,omitempty" yaml:"http_timeout_ms,omitempty"`

	// ChunkReserveBytes is subtracted from the server-configured
	// beacon size when chunking. Defaults to 1024.
	ChunkReserveBytes int `json:"chunk_reserve_bytes,omitempty" yaml:"chunk_reserve_bytes,omitempty"`

	// Cache eviction caps; zero values take the built-in defaults.
	CacheMaxRecordAgeMs     int64 `json:"cache_max_record_age_ms,omitempty" yaml:"cache_max_record_age_ms,omitempty"`
	CacheSizeLowerBoundByte int64 `json:"cache_size_lower_bound,omitempty" yaml:"cache_size_lower_bound,omitempty"`
	CacheSizeUpperBoundByte int64 `json:"cache_size_upper_bound,omitempty" yaml:"cache_size_upper_bound,omitempty"`

	// Status request retry pacing.
	StatusRequestRetries      int `json:"status_request_retries,omitempty" yaml:"status_request_retries,omitempty"`
	StatusRetryInitialDelayMs int `json:"status_retry_initial_delay_ms,omitempty" yaml:"status_retry_initial_delay_ms,omitempty"`
	StatusCheckIntervalMs     int `json:"status_check_interval_ms,omitempty" yaml:"status_check_interval_ms,omitempty"`

	// LogLevel is one of debug, info, warning, error. Ignored when
	// Logger is set.
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty"`

	// LogOutput receives the default logger's output. Defaults to
	// stderr. Ignored when Logger is set.
	LogOutput io.Writer `json:"-" yaml:"-"`

	// Logger replaces the built-in logger entirely.
	Logger logging.Logger `json:"-" yaml:"-"`
}

// ParseConfig reads a YAML (or JSON) document into a Config.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads a config file from disk.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return ParseConfig(data)
}

func (c *Config) validate() error {
	if c.EndpointURL == "" {
		return errors.New("config: endpoint_url is required")
	}
	if c.ApplicationID == "" {
		return errors.New("config: application_id is required")
	}
	return nil
}

func (c *Config) dataCollectionLevel() int {
	if c.DataCollectionLevel == nil {
		return 2
	}
	return *c.DataCollectionLevel
}

func (c *Config) crashReportingLevel() int {
	if c.CrashReportingLevel == nil {
		return 2
	}
	return *c.CrashReportingLevel
}

func (c *Config) serverID() int {
	if c.ServerID <= 0 {
		return 1
	}
	return c.ServerID
}

func (c *Config) httpTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutMs) * time.Millisecond
}

func (c *Config) logger() logging.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	out := c.LogOutput
	if out == nil {
		out = os.Stderr
	}
	return logging.NewLogger(out, logging.ParseLevel(c.LogLevel))
}
