// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/bureau-foundation/sttp/lib/ticks"
)

// processResponse dispatches one response packet:
// u8 response | u8 command | u32 payload length | payload.
func (s *DataSubscriber) processResponse(packet []byte) {
	reader := newWireReader("response", packet)
	response := ServerResponse(reader.uint8())
	command := ServerCommand(reader.uint8())
	payload := reader.lengthPrefixed()
	if reader.err != nil {
		s.decodeFailed(reader.err)
		return
	}

	// The first recognized response proves the peer speaks STTP, unless
	// it is the publisher refusing the connection.
	validated := false
	_, known := serverResponseNames[response]
	if (known || response.IsUserResponse()) && !(response == ResponseFailed && command == CommandConnect) {
		validated = s.transition(StateConnected, StateValidated)
	}

	switch {
	case response == ResponseSucceeded:
		s.handleSucceeded(command, payload)
	case response == ResponseFailed:
		s.handleFailed(command, payload)
	case response == ResponseDataPacket:
		s.handleDataPacket(payload)
	case response == ResponseUpdateSignalIndexCache:
		s.handleUpdateSignalIndexCache(payload)
	case response == ResponseUpdateBaseTimes:
		s.handleUpdateBaseTimes(payload)
	case response == ResponseUpdateCipherKeys:
		s.handleUpdateCipherKeys(payload)
	case response == ResponseDataStartTime:
		s.handleDataStartTime(payload)
	case response == ResponseProcessingComplete:
		message := s.responseMessage(payload)
		s.dispatchStatusMessage("Historical replay complete: " + message)
		s.currentHandler().ProcessingComplete(message)
	case response == ResponseBufferBlock:
		s.handleBufferBlock(payload)
	case response == ResponseNotify:
		s.handleNotify(payload)
	case response == ResponseConfigurationChanged:
		s.dispatchStatusMessage("Received notification from publisher that configuration has changed.")
		s.currentHandler().ConfigurationChanged()
	case response == ResponseNoOP:
	case response.IsUserResponse():
		s.dispatchStatusMessage(fmt.Sprintf("Received %s for %s with %d byte payload.", response, command, len(payload)))
	default:
		s.dispatchErrorMessage(fmt.Sprintf("Encountered unexpected server response code: %s", response))
	}

	if validated {
		s.requestInitialData()
	}
}

// requestInitialData runs the configured sequence after a connection
// is validated: metadata first when requested, with the subscription
// following its arrival, otherwise an immediate subscription.
func (s *DataSubscriber) requestInitialData() {
	switch {
	case s.config.AutoRequestMetadata:
		if err := s.RequestMetadata(); err != nil {
			s.dispatchErrorMessage(fmt.Sprintf("Failed to request metadata: %v", err))
		}
	case s.config.AutoSubscribe:
		if err := s.Subscribe(); err != nil {
			s.dispatchErrorMessage(fmt.Sprintf("Failed to subscribe: %v", err))
		}
	}
}

func (s *DataSubscriber) handleSucceeded(command ServerCommand, payload []byte) {
	switch command {
	case CommandMetadataRefresh:
		s.handleMetadataRefresh(payload)
		return
	case CommandSubscribe:
		s.transition(StateValidated, StateSubscribed)
	case CommandUnsubscribe:
		s.transition(StateSubscribed, StateValidated)
	case CommandDefineOperationalModes, CommandRotateCipherKeys, CommandUpdateProcessingInterval:
	default:
		if !command.IsUserCommand() {
			s.dispatchErrorMessage(fmt.Sprintf("Received success code in response to unknown server command: %s", command))
			return
		}
	}

	message := fmt.Sprintf("Received success code in response to server command: %s", command)
	if text := s.responseMessage(payload); text != "" {
		message += ": " + text
	}
	s.dispatchStatusMessage(message)
}

func (s *DataSubscriber) handleFailed(command ServerCommand, payload []byte) {
	text := s.responseMessage(payload)

	if command == CommandConnect {
		s.connector.refused.Store(true)
		s.dispatchErrorMessage(fmt.Sprintf("Publisher refused connection: %s", text))
		go s.terminateConnection()
		return
	}
	if command == CommandSubscribe {
		s.transition(StateSubscribed, StateValidated)
	}
	s.dispatchErrorMessage(fmt.Sprintf("Received failure code in response to server command %s: %s", command, text))
}

func (s *DataSubscriber) handleMetadataRefresh(payload []byte) {
	s.mu.Lock()
	requested := s.metadataRequested
	s.mu.Unlock()

	var elapsed time.Duration
	if !requested.IsZero() {
		elapsed = s.clock.Now().Sub(requested)
	}

	metadata := payload
	if s.config.CompressMetadata && isGzip(payload) {
		decompressed, err := gunzip(payload)
		if err != nil {
			s.decodeFailed(&DecodeError{What: "metadata", Err: err})
			return
		}
		metadata = decompressed
	}

	s.dispatchStatusMessage(fmt.Sprintf("Received %d bytes of metadata in %.3f seconds.", len(metadata), elapsed.Seconds()))
	s.currentHandler().MetadataReceived(metadata)

	if s.config.AutoSubscribe && !s.IsSubscribed() {
		if err := s.Subscribe(); err != nil {
			s.dispatchErrorMessage(fmt.Sprintf("Failed to subscribe: %v", err))
		}
	}
}

// handleDataPacket decodes a batch of compact measurements:
// u8 flags | [encrypted: u32 count | measurements...].
func (s *DataSubscriber) handleDataPacket(payload []byte) {
	if len(payload) < 1 {
		s.decodeFailed(truncated("data packet", 0, 1, 0))
		return
	}
	flags := DataPacketFlags(payload[0])
	body := payload[1:]

	cipherIndex := 0
	if flags&DataPacketCipherIndex != 0 {
		cipherIndex = 1
	}
	s.mu.Lock()
	key := s.cipherKeys[cipherIndex]
	s.mu.Unlock()
	if key != nil {
		plaintext, err := key.decrypt(body)
		if err != nil {
			s.decodeFailed(&DecodeError{What: "data packet", Offset: 1, Err: err})
			return
		}
		body = plaintext
	}

	if flags&DataPacketCompressed != 0 {
		s.mu.Lock()
		report := s.tsscResetRequested
		s.tsscResetRequested = false
		s.mu.Unlock()
		if report {
			s.dispatchErrorMessage("Dropping TSSC compressed data packets: payload compression is not supported by this subscriber.")
		}
		return
	}
	if flags&DataPacketCompact == 0 {
		s.dispatchErrorMessage("Dropping data packet: only compact measurement format is supported.")
		return
	}

	cacheIndex := 0
	if flags&DataPacketCacheIndex != 0 {
		cacheIndex = 1
	}
	cache := s.signalIndexCaches[cacheIndex].Load()
	if cache == nil {
		if s.missingCacheWarningDue() {
			s.dispatchErrorMessage(fmt.Sprintf("Signal index cache %d has not been received; dropping data packets until it arrives.", cacheIndex))
		}
		return
	}

	includeTime, useMillisecondResolution := true, false
	if subscription := s.activeSubscription.Load(); subscription != nil {
		includeTime = subscription.IncludeTime
		useMillisecondResolution = subscription.UseMillisecondResolution
	}
	baseTimeOffsets := s.baseTimeOffsets.Load()

	reader := newWireReader("data packet", body)
	count := reader.uint32()
	data := reader.remaining()
	if reader.err != nil {
		s.decodeFailed(reader.err)
		return
	}
	if uint64(count)*compactFixedLength > uint64(len(data)) {
		s.decodeFailed(truncated("data packet", 4, int(min(uint64(count)*compactFixedLength, maxPacketSize)), len(data)))
		return
	}

	measurements := make([]Measurement, 0, count)
	offset := 0
	for range count {
		measurement := NewCompactMeasurement(cache, baseTimeOffsets, includeTime, useMillisecondResolution)
		consumed, err := measurement.Decode(data[offset:])
		if err != nil {
			s.decodeFailed(fmt.Errorf("measurement %d of %d: %w", len(measurements), count, err))
			return
		}
		offset += consumed
		measurements = append(measurements, measurement)
	}

	s.totalMeasurements.Add(uint64(len(measurements)))
	s.metrics.addMeasurements(len(measurements))
	s.currentHandler().NewMeasurements(measurements)
}

func (s *DataSubscriber) missingCacheWarningDue() bool {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastMissingCacheWarning.IsZero() && now.Sub(s.lastMissingCacheWarning) < missingCacheWarningInterval {
		return false
	}
	s.lastMissingCacheWarning = now
	return true
}

// handleUpdateSignalIndexCache installs a new cache:
// [u8 cache index, version 2 and later] | cache, gzip compressed when
// negotiated.
func (s *DataSubscriber) handleUpdateSignalIndexCache(payload []byte) {
	cacheIndex := int32(0)
	buffer := payload
	if s.config.Version > 1 {
		if len(buffer) < 1 {
			s.decodeFailed(truncated(signalIndexCacheName, 0, 1, 0))
			return
		}
		if buffer[0] != 0 {
			cacheIndex = 1
		}
		buffer = buffer[1:]
	}

	if s.config.CompressSignalIndexCache && isGzip(buffer) {
		decompressed, err := gunzip(buffer)
		if err != nil {
			s.decodeFailed(&DecodeError{What: signalIndexCacheName, Err: err})
			return
		}
		buffer = decompressed
	}

	cache := NewSignalIndexCache()
	subscriberID, err := cache.Decode(buffer)
	if err != nil {
		s.decodeFailed(err)
		return
	}

	// Publish the slot before switching the active index to it.
	s.signalIndexCaches[cacheIndex].Store(cache)
	s.cacheIndex.Store(cacheIndex)

	s.mu.Lock()
	s.subscriberID = subscriberID
	s.mu.Unlock()

	if err := s.sendCommand(CommandConfirmUpdateSignalIndexCache, nil); err != nil {
		s.dispatchErrorMessage(fmt.Sprintf("Failed to confirm signal index cache update: %v", err))
	}
	s.logger.Info("signal index cache updated", "cache_index", cacheIndex, "signals", cache.Count())
	s.currentHandler().SubscriptionUpdated(cache)
}

// handleUpdateBaseTimes installs new base time offsets:
// i32 time index | i64 offset 0 | i64 offset 1.
func (s *DataSubscriber) handleUpdateBaseTimes(payload []byte) {
	reader := newWireReader("base time update", payload)
	timeIndex := reader.int32()
	offsets := &BaseTimeOffsets{uint64(reader.int64()), uint64(reader.int64())}
	if reader.err != nil {
		s.decodeFailed(reader.err)
		return
	}
	if timeIndex != 0 {
		timeIndex = 1
	}

	s.baseTimeOffsets.Store(offsets)
	s.timeIndex.Store(timeIndex)

	if err := s.sendCommand(CommandConfirmUpdateBaseTimes, nil); err != nil {
		s.dispatchErrorMessage(fmt.Sprintf("Failed to confirm base time update: %v", err))
	}
	s.dispatchStatusMessage(fmt.Sprintf("Received new base time offset from publisher: %s", ticks.New(offsets[timeIndex])))
}

// handleUpdateCipherKeys stores the data packet keys:
// u8 active index | 2 x (u32 key length | key | u32 IV length | IV).
func (s *DataSubscriber) handleUpdateCipherKeys(payload []byte) {
	reader := newWireReader("cipher key update", payload)
	activeIndex := reader.uint8()

	var keys [2]*cipherKey
	for i := range keys {
		key, iv := reader.lengthPrefixed(), reader.lengthPrefixed()
		if reader.err != nil {
			break
		}
		var err error
		if keys[i], err = newCipherKey(key, iv); err != nil {
			reader.fail(err)
			break
		}
	}
	if reader.err != nil {
		s.decodeFailed(reader.err)
		return
	}

	s.mu.Lock()
	s.cipherKeys = keys
	s.mu.Unlock()

	if err := s.sendCommand(CommandConfirmUpdateCipherKeys, nil); err != nil {
		s.dispatchErrorMessage(fmt.Sprintf("Failed to confirm cipher key update: %v", err))
	}
	s.dispatchStatusMessage(fmt.Sprintf("Successfully established new cipher keys for data packet transmissions (active index %d).", activeIndex))
}

func (s *DataSubscriber) handleDataStartTime(payload []byte) {
	reader := newWireReader("data start time", payload)
	startTime := ticks.New(reader.uint64())
	if reader.err != nil {
		s.decodeFailed(reader.err)
		return
	}
	s.currentHandler().DataStartTime(startTime)
}

// handleBufferBlock confirms a buffer block by its u32 sequence number.
// Buffer block contents are not interpreted.
func (s *DataSubscriber) handleBufferBlock(payload []byte) {
	reader := newWireReader("buffer block", payload)
	sequence := reader.uint32()
	if reader.err != nil {
		s.decodeFailed(reader.err)
		return
	}
	s.logger.Debug("buffer block received", "sequence", sequence, "bytes", len(payload)-4)
	if err := s.sendCommand(CommandConfirmBufferBlock, appendUint32(nil, sequence)); err != nil {
		s.dispatchErrorMessage(fmt.Sprintf("Failed to confirm buffer block %d: %v", sequence, err))
	}
}

// handleNotify delivers a publisher notification and confirms it by
// its u32 hash.
func (s *DataSubscriber) handleNotify(payload []byte) {
	reader := newWireReader("notification", payload)
	hash := reader.uint32()
	text := reader.remaining()
	if reader.err != nil {
		s.decodeFailed(reader.err)
		return
	}
	message, err := s.DecodeString(text)
	if err != nil {
		s.decodeFailed(err)
		return
	}

	s.currentHandler().NotificationReceived(message)
	if err := s.sendCommand(CommandConfirmNotification, appendUint32(nil, hash)); err != nil {
		s.dispatchErrorMessage(fmt.Sprintf("Failed to confirm notification: %v", err))
	}
}

// responseMessage decodes the text payload of a Succeeded or Failed
// response.
func (s *DataSubscriber) responseMessage(payload []byte) string {
	message, err := s.DecodeString(payload)
	if err != nil {
		return fmt.Sprintf("<%d bytes of undecodable text>", len(payload))
	}
	return message
}

func (s *DataSubscriber) decodeFailed(err error) {
	s.metrics.incDecodeErrors()
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		s.logger.Warn("malformed publisher response", "what", decodeErr.What, "offset", decodeErr.Offset, "error", err)
	}
	s.dispatchErrorMessage(fmt.Sprintf("Dropped malformed publisher response: %v", err))
}

// isGzip reports whether data starts with the gzip magic number.
func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

// gunzip inflates a gzip payload, refusing output larger than a packet.
func gunzip(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	inflated, err := io.ReadAll(io.LimitReader(reader, maxPacketSize+1))
	if err != nil {
		return nil, err
	}
	if len(inflated) > maxPacketSize {
		return nil, fmt.Errorf("decompressed payload exceeds %d bytes", maxPacketSize)
	}
	return inflated, nil
}
