// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/sttp/lib/capture"
	"github.com/bureau-foundation/sttp/transport"
)

func TestDefaultMatchesTransportDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}

	if got, want := cfg.TransportConfig(), transport.DefaultConfig(); got != want {
		t.Errorf("TransportConfig() = %+v\nwant %+v", got, want)
	}
	if got, want := cfg.SubscriptionInfo(), transport.DefaultSubscriptionInfo(); got != want {
		t.Errorf("SubscriptionInfo() = %+v\nwant %+v", got, want)
	}
	if compression, err := cfg.CaptureCompression(); err != nil || compression != capture.CompressionLZ4 {
		t.Errorf("CaptureCompression() = %v, %v", compression, err)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
publisher:
  host: historian.example
  port: 7175
connection:
  max_retries: 5
  retry_interval: 250ms
  max_retry_interval: 1m
  auto_reconnect: false
  compress_metadata: false
metadata:
  auto_request: false
  filters: FILTER MeasurementDetail WHERE SignalAcronym <> 'STAT'
subscription:
  filter_expression: FILTER ActiveMeasurements WHERE SignalType='FREQ'
  throttled: true
  publish_interval: 0.5
  udp_data_channel: true
  data_channel_local_port: 9600
  processing_interval: 0
  extra_parameters: includeSubscriberID=true
logging:
  level: debug
  format: json
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	connection := cfg.TransportConfig()
	if connection.MaxRetries != 5 || connection.RetryInterval != 250*time.Millisecond || connection.MaxRetryInterval != time.Minute {
		t.Errorf("retry settings = %d %v %v", connection.MaxRetries, connection.RetryInterval, connection.MaxRetryInterval)
	}
	if connection.AutoReconnect || connection.CompressMetadata || connection.AutoRequestMetadata {
		t.Errorf("booleans not overridden: %+v", connection)
	}
	if !connection.AutoSubscribe || !connection.CompressSignalIndexCache {
		t.Errorf("unset booleans lost their defaults: %+v", connection)
	}
	if connection.MetadataFilters != "FILTER MeasurementDetail WHERE SignalAcronym <> 'STAT'" {
		t.Errorf("MetadataFilters = %q", connection.MetadataFilters)
	}

	info := cfg.SubscriptionInfo()
	if !info.Throttled || info.PublishInterval != 0.5 || !info.UDPDataChannel || info.DataChannelLocalPort != 9600 {
		t.Errorf("subscription = %+v", info)
	}
	if info.ProcessingInterval != 0 || info.ExtraConnectionStringParameters != "includeSubscriberID=true" {
		t.Errorf("subscription = %+v", info)
	}
	if !info.IncludeTime || info.LagTime != 10 {
		t.Errorf("unset subscription fields lost their defaults: %+v", info)
	}

	if level, err := cfg.LogLevel(); err != nil || level != slog.LevelDebug {
		t.Errorf("LogLevel() = %v, %v", level, err)
	}
}

func TestParseEmptyKeepsDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Publisher.Port != 7165 || cfg.Capture.FlushInterval != 5*time.Second {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("subscription:\n  filter_expresion: FILTER x\n"))
	if err == nil {
		t.Fatal("Parse accepted a misspelled key")
	}
	if !strings.Contains(err.Error(), "filter_expresion") {
		t.Errorf("error %q does not name the unknown key", err)
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	if _, err := Parse([]byte("connection:\n  retry_interval: soon\n")); err == nil {
		t.Fatal("Parse accepted a malformed duration")
	}
}

func TestCapturePathExpansion(t *testing.T) {
	t.Setenv("STTP_CAPTURE_DIR", "/var/lib/sttp")
	t.Setenv("STTP_UNSET_FOR_TEST", "")

	cfg, err := Parse([]byte(`
capture:
  path: ${STTP_CAPTURE_DIR}/${STTP_UNSET_FOR_TEST:-default}.sttpcap
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Capture.Path != "/var/lib/sttp/default.sttpcap" {
		t.Errorf("capture path = %q", cfg.Capture.Path)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"missing host", func(c *Config) { c.Publisher.Host = "" }, "publisher.host is required"},
		{"missing port", func(c *Config) { c.Publisher.Port = 0 }, "publisher.port is required"},
		{"bad version", func(c *Config) { c.Connection.Version = 40 }, "protocol version 40"},
		{"bad max retries", func(c *Config) { c.Connection.MaxRetries = -2 }, "max retries -2"},
		{"interval above cap", func(c *Config) { c.Connection.RetryInterval = time.Hour }, "exceeds max_retry_interval"},
		{"negative lag", func(c *Config) { c.Subscription.LagTime = -1 }, "must not be negative"},
		{"bad processing interval", func(c *Config) { c.Subscription.ProcessingInterval = -5 }, "processing_interval -5"},
		{"bad compression", func(c *Config) { c.Capture.Compression = "brotli" }, "capture.compression"},
		{"zero flush", func(c *Config) { c.Capture.FlushInterval = 0 }, "flush_interval must be positive"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil")
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("Validate() = %q, want it to contain %q", err, test.wantErr)
			}
		})
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Publisher.Host = ""
	cfg.Capture.Compression = "brotli"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil")
	}
	for _, want := range []string{"publisher.host", "capture.compression"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() = %q, missing %q", err, want)
		}
	}
}

func TestLoadRequiresSTTPConfig(t *testing.T) {
	t.Setenv("STTP_CONFIG", "")

	_, err := Load()
	if err == nil || !strings.HasPrefix(err.Error(), "STTP_CONFIG environment variable not set") {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestLoadFromSTTPConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscriber.yaml")
	if err := os.WriteFile(path, []byte("publisher:\n  host: pdc.example\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("STTP_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Publisher.Host != "pdc.example" || cfg.Publisher.Port != 7165 {
		t.Errorf("publisher = %+v", cfg.Publisher)
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile of a missing file succeeded")
	}

	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("publisher: [\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	_, err := LoadFile(path)
	if err == nil || !strings.Contains(err.Error(), path) {
		t.Errorf("LoadFile error = %v, want it to name %s", err, path)
	}
}
