// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/sttp/lib/clock"
)

// Config holds the connection-level settings of a DataSubscriber.
type Config struct {
	// MaxRetries bounds automatic reconnection attempts. -1 retries
	// forever.
	MaxRetries int

	// RetryInterval is the base backoff delay. Attempt n waits
	// RetryInterval * 2^(n-1), capped at MaxRetryInterval.
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration

	// AutoReconnect re-establishes a connection the publisher or the
	// network dropped.
	AutoReconnect bool

	// AutoRequestMetadata and AutoSubscribe drive the request sequence
	// the subscriber runs once the publisher validates a connection:
	// metadata first, then the subscription once metadata arrives.
	AutoRequestMetadata bool
	AutoSubscribe       bool

	// CompressPayloadData offers TSSC payload compression. This client
	// does not decode TSSC, so enabling it only makes sense against a
	// publisher that falls back to uncompressed packets.
	CompressPayloadData      bool
	CompressMetadata         bool
	CompressSignalIndexCache bool

	// MetadataFilters is sent with a metadata refresh request.
	MetadataFilters string

	// Version is the STTP protocol version, 1 through 31.
	Version uint8

	// SocketTimeout bounds the TCP dial.
	SocketTimeout time.Duration

	// Encoding is the operational string encoding. Only EncodingUTF8 is
	// supported.
	Encoding OperationalEncoding

	// Logger receives connection lifecycle messages. If nil, a logger
	// that discards everything is used.
	Logger *slog.Logger

	// Clock drives the reconnection backoff and the throttled
	// warnings. If nil, clock.Real() is used.
	Clock clock.Clock

	// Metrics, if non-nil, receives traffic and state updates.
	Metrics *Metrics

	// Dialer opens the command channel. If nil, a TCPDialer bounded by
	// SocketTimeout is used.
	Dialer Dialer
}

// DefaultConfig returns the default connection settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:               -1,
		RetryInterval:            time.Second,
		MaxRetryInterval:         30 * time.Second,
		AutoReconnect:            true,
		AutoRequestMetadata:      true,
		AutoSubscribe:            true,
		CompressPayloadData:      false,
		CompressMetadata:         true,
		CompressSignalIndexCache: true,
		Version:                  2,
		SocketTimeout:            2 * time.Second,
		Encoding:                 EncodingUTF8,
	}
}

// Validate reports a configuration the subscriber cannot run with.
func (c Config) Validate() error {
	if c.Encoding != EncodingUTF8 {
		return fmt.Errorf("operational encoding %s: %w", c.Encoding, ErrUnsupportedEncoding)
	}
	if c.Version == 0 || OperationalModes(c.Version) > OperationalModesVersionMask {
		return fmt.Errorf("protocol version %d out of range 1-31", c.Version)
	}
	if c.MaxRetries < -1 {
		return fmt.Errorf("max retries %d: use -1 for unlimited", c.MaxRetries)
	}
	if c.RetryInterval < 0 || c.MaxRetryInterval < 0 {
		return fmt.Errorf("retry intervals must not be negative")
	}
	return nil
}

// operationalModes builds the DefineOperationalModes word.
func (c Config) operationalModes() OperationalModes {
	modes := OperationalModes(c.Version)&OperationalModesVersionMask |
		OperationalModes(EncodingUTF8) |
		OperationalModes(CompressionModeGZip) |
		OperationalModesReceiveInternalMetadata |
		OperationalModesReceiveExternalMetadata

	if c.CompressPayloadData {
		modes |= OperationalModesCompressPayloadData | OperationalModes(CompressionModeTSSC)
	}
	if c.CompressMetadata {
		modes |= OperationalModesCompressMetadata
	}
	if c.CompressSignalIndexCache {
		modes |= OperationalModesCompressSignalIndexCache
	}
	return modes
}

// SubscriptionInfo holds the parameters of a subscribe request.
type SubscriptionInfo struct {
	// FilterExpression selects the signals to receive, e.g.
	// "FILTER ActiveMeasurements WHERE SignalType='FREQ'".
	FilterExpression string

	// Throttled asks the publisher to send only the latest value per
	// signal every PublishInterval seconds.
	Throttled       bool
	PublishInterval float64

	// UDPDataChannel moves data packets to a UDP socket bound to
	// DataChannelLocalPort on DataChannelInterface.
	UDPDataChannel       bool
	DataChannelLocalPort uint16
	DataChannelInterface string

	IncludeTime                  bool
	EnableTimeReasonabilityCheck bool
	// LagTime and LeadTime are the reasonability bounds in seconds.
	LagTime                  float64
	LeadTime                 float64
	UseLocalClockAsRealTime  bool
	UseMillisecondResolution bool
	RequestNaNValueFilter    bool

	// StartTime, StopTime and ConstraintParameters request a historical
	// replay instead of a real-time stream.
	StartTime            string
	StopTime             string
	ConstraintParameters string

	// ProcessingInterval is the replay rate in milliseconds; -1 uses
	// the publisher default and 0 replays as fast as possible.
	ProcessingInterval int32

	// ExtraConnectionStringParameters is appended verbatim.
	ExtraConnectionStringParameters string
}

// DefaultSubscriptionInfo returns the default subscription parameters.
func DefaultSubscriptionInfo() SubscriptionInfo {
	return SubscriptionInfo{
		PublishInterval:    1.0,
		IncludeTime:        true,
		LagTime:            10.0,
		LeadTime:           5.0,
		ProcessingInterval: -1,
	}
}

// connectionString renders the ';'-delimited parameter list of a
// subscribe request. dataChannelPort is the bound local UDP port, or 0
// when no data channel is in use.
func (s SubscriptionInfo) connectionString(dataChannelPort int) string {
	var builder strings.Builder

	writeParameter := func(key, value string) {
		if builder.Len() > 0 {
			builder.WriteByte(';')
		}
		builder.WriteString(key)
		builder.WriteByte('=')
		builder.WriteString(value)
	}
	formatFloat := func(value float64) string { return strconv.FormatFloat(value, 'f', 6, 64) }

	writeParameter("throttled", strconv.FormatBool(s.Throttled))
	writeParameter("publishInterval", formatFloat(s.PublishInterval))
	writeParameter("includeTime", strconv.FormatBool(s.IncludeTime))
	writeParameter("enableTimeReasonabilityCheck", strconv.FormatBool(s.EnableTimeReasonabilityCheck))
	writeParameter("lagTime", formatFloat(s.LagTime))
	writeParameter("leadTime", formatFloat(s.LeadTime))
	writeParameter("useLocalClockAsRealTime", strconv.FormatBool(s.UseLocalClockAsRealTime))
	writeParameter("processingInterval", strconv.FormatInt(int64(s.ProcessingInterval), 10))
	writeParameter("useMillisecondResolution", strconv.FormatBool(s.UseMillisecondResolution))
	writeParameter("requestNaNValueFilter", strconv.FormatBool(s.RequestNaNValueFilter))
	writeParameter("assemblyInfo", fmt.Sprintf("{source=%s;version=%s;updatedOn=%s}",
		LibrarySource, LibraryVersion, LibraryUpdatedOn))

	if s.FilterExpression != "" {
		writeParameter("filterExpression", "{"+s.FilterExpression+"}")
	}
	if dataChannelPort > 0 {
		writeParameter("dataChannel", fmt.Sprintf("{localport=%d}", dataChannelPort))
	}
	if s.StartTime != "" {
		writeParameter("startTimeConstraint", s.StartTime)
	}
	if s.StopTime != "" {
		writeParameter("stopTimeConstraint", s.StopTime)
	}
	if s.ConstraintParameters != "" {
		writeParameter("timeConstraintParameters", s.ConstraintParameters)
	}
	if s.ExtraConnectionStringParameters != "" {
		builder.WriteByte(';')
		builder.WriteString(s.ExtraConnectionStringParameters)
	}

	return builder.String()
}
