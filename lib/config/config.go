// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/sttp/lib/capture"
	"github.com/bureau-foundation/sttp/transport"
)

// Config is the configuration of an sttp-subscriber process.
type Config struct {
	// Publisher is the STTP publisher to connect to.
	Publisher PublisherConfig `yaml:"publisher"`

	// Connection configures retries and the operational modes
	// negotiated with the publisher.
	Connection ConnectionConfig `yaml:"connection"`

	// Metadata configures the metadata request sent after the
	// connection is validated.
	Metadata MetadataConfig `yaml:"metadata"`

	// Subscription configures the subscribe request.
	Subscription SubscriptionConfig `yaml:"subscription"`

	// Capture configures recording of received measurements.
	Capture CaptureConfig `yaml:"capture"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging"`
}

// PublisherConfig locates the publisher.
type PublisherConfig struct {
	Host string `yaml:"host"`
	Port uint16 `yaml:"port"`
}

// ConnectionConfig configures connection handling.
type ConnectionConfig struct {
	// MaxRetries bounds reconnection attempts. -1 retries forever.
	// Default: -1
	MaxRetries int `yaml:"max_retries"`

	// RetryInterval is the first backoff delay; each later attempt
	// doubles it up to MaxRetryInterval.
	// Default: 1s
	RetryInterval time.Duration `yaml:"retry_interval"`

	// Default: 30s
	MaxRetryInterval time.Duration `yaml:"max_retry_interval"`

	// AutoReconnect re-establishes dropped connections.
	// Default: true
	AutoReconnect bool `yaml:"auto_reconnect"`

	// SocketTimeout bounds the TCP dial.
	// Default: 2s
	SocketTimeout time.Duration `yaml:"socket_timeout"`

	// Version is the STTP protocol version.
	// Default: 2
	Version uint8 `yaml:"version"`

	// CompressMetadata and CompressSignalIndexCache request GZip
	// payloads. CompressPayloadData requests TSSC, which this client
	// does not decode.
	CompressPayloadData      bool `yaml:"compress_payload_data"`
	CompressMetadata         bool `yaml:"compress_metadata"`
	CompressSignalIndexCache bool `yaml:"compress_signal_index_cache"`
}

// MetadataConfig configures the automatic metadata request.
type MetadataConfig struct {
	// AutoRequest requests metadata once the connection is validated.
	// Default: true
	AutoRequest bool `yaml:"auto_request"`

	// Filters restricts the metadata tables returned, e.g.
	// "FILTER MeasurementDetail WHERE SignalAcronym <> 'STAT'".
	Filters string `yaml:"filters"`
}

// SubscriptionConfig mirrors transport.SubscriptionInfo.
type SubscriptionConfig struct {
	// AutoSubscribe subscribes once metadata arrives, or right after
	// validation when metadata is not requested.
	// Default: true
	AutoSubscribe bool `yaml:"auto_subscribe"`

	FilterExpression string `yaml:"filter_expression"`

	Throttled bool `yaml:"throttled"`
	// PublishInterval is in seconds.
	// Default: 1
	PublishInterval float64 `yaml:"publish_interval"`

	UDPDataChannel       bool   `yaml:"udp_data_channel"`
	DataChannelLocalPort uint16 `yaml:"data_channel_local_port"`
	DataChannelInterface string `yaml:"data_channel_interface"`

	// Default: true
	IncludeTime                  bool `yaml:"include_time"`
	EnableTimeReasonabilityCheck bool `yaml:"enable_time_reasonability_check"`
	// LagTime and LeadTime are in seconds.
	// Default: 10 and 5
	LagTime                  float64 `yaml:"lag_time"`
	LeadTime                 float64 `yaml:"lead_time"`
	UseLocalClockAsRealTime  bool    `yaml:"use_local_clock_as_real_time"`
	UseMillisecondResolution bool    `yaml:"use_millisecond_resolution"`
	RequestNaNValueFilter    bool    `yaml:"request_nan_value_filter"`

	StartTime            string `yaml:"start_time"`
	StopTime             string `yaml:"stop_time"`
	ConstraintParameters string `yaml:"constraint_parameters"`
	// ProcessingInterval is the replay rate in milliseconds.
	// Default: -1 (publisher default)
	ProcessingInterval int32 `yaml:"processing_interval"`

	ExtraParameters string `yaml:"extra_parameters"`
}

// CaptureConfig configures the measurement recording.
type CaptureConfig struct {
	// Path of the capture file. Empty disables recording. ${HOME} and
	// ${VAR:-default} are expanded.
	Path string `yaml:"path"`

	// Compression is none, lz4 or zstd.
	// Default: lz4
	Compression string `yaml:"compression"`

	// FlushInterval is how often buffered batches reach the file.
	// Default: 5s
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// MetricsConfig configures the metrics listener.
type MetricsConfig struct {
	// Address is the host:port of the /metrics endpoint. Empty
	// disables it.
	Address string `yaml:"address"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	// Default: info
	Level string `yaml:"level"`

	// Format is auto, text or json. auto selects text on a terminal.
	// Default: auto
	Format string `yaml:"format"`

	// StatsInterval is how often the subscriber logs traffic totals.
	// Zero disables them.
	// Default: 30s
	StatsInterval time.Duration `yaml:"stats_interval"`
}

// Default returns the configuration used for any field the file does
// not set. The defaults match transport.DefaultConfig and
// transport.DefaultSubscriptionInfo.
func Default() *Config {
	connection := transport.DefaultConfig()
	subscription := transport.DefaultSubscriptionInfo()

	return &Config{
		Publisher: PublisherConfig{
			Host: "localhost",
			Port: 7165,
		},
		Connection: ConnectionConfig{
			MaxRetries:               connection.MaxRetries,
			RetryInterval:            connection.RetryInterval,
			MaxRetryInterval:         connection.MaxRetryInterval,
			AutoReconnect:            connection.AutoReconnect,
			SocketTimeout:            connection.SocketTimeout,
			Version:                  connection.Version,
			CompressPayloadData:      connection.CompressPayloadData,
			CompressMetadata:         connection.CompressMetadata,
			CompressSignalIndexCache: connection.CompressSignalIndexCache,
		},
		Metadata: MetadataConfig{
			AutoRequest: connection.AutoRequestMetadata,
		},
		Subscription: SubscriptionConfig{
			AutoSubscribe:      connection.AutoSubscribe,
			PublishInterval:    subscription.PublishInterval,
			IncludeTime:        subscription.IncludeTime,
			LagTime:            subscription.LagTime,
			LeadTime:           subscription.LeadTime,
			ProcessingInterval: subscription.ProcessingInterval,
		},
		Capture: CaptureConfig{
			Compression:   capture.CompressionLZ4.String(),
			FlushInterval: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "auto",
			StatsInterval: 30 * time.Second,
		},
	}
}

// Load loads the file named by the STTP_CONFIG environment variable.
// There is no search path: if STTP_CONFIG is unset, Load fails.
func Load() (*Config, error) {
	path := os.Getenv("STTP_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("STTP_CONFIG environment variable not set; " +
			"set it to the path of a subscriber config file, or use --config")
	}
	return LoadFile(path)
}

// LoadFile loads path over the defaults and expands variables in the
// capture path. The result is not validated.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML data over the defaults. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Capture.Path = expandVars(cfg.Capture.Path)
	return cfg, nil
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${VAR} and ${VAR:-default} with environment
// values.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration, reporting every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Publisher.Host == "" {
		errs = append(errs, errors.New("publisher.host is required"))
	}
	if c.Publisher.Port == 0 {
		errs = append(errs, errors.New("publisher.port is required"))
	}
	if err := c.TransportConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("connection: %w", err))
	}
	if c.Connection.RetryInterval > c.Connection.MaxRetryInterval {
		errs = append(errs, fmt.Errorf("connection.retry_interval %v exceeds max_retry_interval %v",
			c.Connection.RetryInterval, c.Connection.MaxRetryInterval))
	}
	if c.Subscription.PublishInterval < 0 || c.Subscription.LagTime < 0 || c.Subscription.LeadTime < 0 {
		errs = append(errs, errors.New("subscription publish_interval, lag_time and lead_time must not be negative"))
	}
	if c.Subscription.ProcessingInterval < -1 {
		errs = append(errs, fmt.Errorf("subscription.processing_interval %d: use -1 for the publisher default",
			c.Subscription.ProcessingInterval))
	}
	if _, err := capture.ParseCompression(c.Capture.Compression); err != nil {
		errs = append(errs, fmt.Errorf("capture.compression: %w", err))
	}
	if c.Capture.FlushInterval <= 0 {
		errs = append(errs, errors.New("capture.flush_interval must be positive"))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be one of: auto, text, json (got %q)", c.Logging.Format))
	}
	if c.Logging.StatsInterval < 0 {
		errs = append(errs, errors.New("logging.stats_interval must not be negative"))
	}

	return errors.Join(errs...)
}

// LogLevel parses Logging.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

// CaptureCompression parses Capture.Compression.
func (c *Config) CaptureCompression() (capture.Compression, error) {
	return capture.ParseCompression(c.Capture.Compression)
}

// TransportConfig returns the connection settings for
// transport.NewDataSubscriber. Logger, Clock, Metrics and Dialer are
// left for the caller.
func (c *Config) TransportConfig() transport.Config {
	connection := transport.DefaultConfig()
	connection.MaxRetries = c.Connection.MaxRetries
	connection.RetryInterval = c.Connection.RetryInterval
	connection.MaxRetryInterval = c.Connection.MaxRetryInterval
	connection.AutoReconnect = c.Connection.AutoReconnect
	connection.SocketTimeout = c.Connection.SocketTimeout
	connection.Version = c.Connection.Version
	connection.CompressPayloadData = c.Connection.CompressPayloadData
	connection.CompressMetadata = c.Connection.CompressMetadata
	connection.CompressSignalIndexCache = c.Connection.CompressSignalIndexCache
	connection.AutoRequestMetadata = c.Metadata.AutoRequest
	connection.MetadataFilters = c.Metadata.Filters
	connection.AutoSubscribe = c.Subscription.AutoSubscribe
	return connection
}

// SubscriptionInfo returns the subscribe request parameters.
func (c *Config) SubscriptionInfo() transport.SubscriptionInfo {
	s := c.Subscription
	return transport.SubscriptionInfo{
		FilterExpression:                s.FilterExpression,
		Throttled:                       s.Throttled,
		PublishInterval:                 s.PublishInterval,
		UDPDataChannel:                  s.UDPDataChannel,
		DataChannelLocalPort:            s.DataChannelLocalPort,
		DataChannelInterface:            s.DataChannelInterface,
		IncludeTime:                     s.IncludeTime,
		EnableTimeReasonabilityCheck:    s.EnableTimeReasonabilityCheck,
		LagTime:                         s.LagTime,
		LeadTime:                        s.LeadTime,
		UseLocalClockAsRealTime:         s.UseLocalClockAsRealTime,
		UseMillisecondResolution:        s.UseMillisecondResolution,
		RequestNaNValueFilter:           s.RequestNaNValueFilter,
		StartTime:                       s.StartTime,
		StopTime:                        s.StopTime,
		ConstraintParameters:            s.ConstraintParameters,
		ProcessingInterval:              s.ProcessingInterval,
		ExtraConnectionStringParameters: s.ExtraParameters,
	}
}
