// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"net"
)

// dataChannel is the UDP socket a subscription may ask the publisher
// to send data packets to. Each datagram carries one response packet
// without the length prefix used on the command channel.
type dataChannel struct {
	conn *net.UDPConn
	done chan struct{}
}

// openDataChannel binds the UDP socket described by subscription,
// replacing any previous one, and returns the bound port.
func (s *DataSubscriber) openDataChannel(subscription SubscriptionInfo) (int, error) {
	s.closeDataChannel(true)

	address := &net.UDPAddr{Port: int(subscription.DataChannelLocalPort)}
	if subscription.DataChannelInterface != "" {
		address.IP = net.ParseIP(subscription.DataChannelInterface)
		if address.IP == nil {
			return 0, fmt.Errorf("data channel interface %q is not an IP address", subscription.DataChannelInterface)
		}
	}

	conn, err := net.ListenUDP("udp", address)
	if err != nil {
		return 0, fmt.Errorf("binding UDP data channel: %w", err)
	}
	channel := &dataChannel{conn: conn, done: make(chan struct{})}

	s.dataChannelMu.Lock()
	s.dataChannel = channel
	s.dataChannelMu.Unlock()

	go s.readDataChannel(channel)

	port := conn.LocalAddr().(*net.UDPAddr).Port
	s.logger.Info("data channel bound", "address", conn.LocalAddr().String())
	return port, nil
}

// closeDataChannel closes the UDP socket. With wait set it also waits
// for the reader to exit; otherwise the reader is joined with the
// command channel readers.
func (s *DataSubscriber) closeDataChannel(wait bool) {
	s.dataChannelMu.Lock()
	channel := s.dataChannel
	s.dataChannel = nil
	s.dataChannelMu.Unlock()

	if channel == nil {
		return
	}
	if err := channel.conn.Close(); err != nil {
		s.logger.Debug("closing data channel", "error", err)
	}
	if wait {
		<-channel.done
		return
	}
	s.commandMu.Lock()
	s.retired = append(s.retired, channel.done)
	s.commandMu.Unlock()
}

func (s *DataSubscriber) readDataChannel(channel *dataChannel) {
	defer close(channel.done)

	buffer := make([]byte, maxDatagramSize)
	for {
		n, _, err := channel.conn.ReadFromUDP(buffer)
		if err != nil {
			s.dataChannelMu.Lock()
			current := s.dataChannel == channel
			s.dataChannelMu.Unlock()
			if current && !s.disconnecting.Load() {
				s.dispatchErrorMessage(fmt.Sprintf("Data channel read failed: %v", err))
			}
			return
		}

		s.totalDataChannelBytes.Add(uint64(n))
		s.metrics.addDataChannelBytes(n)

		// processResponse may hand slices of the packet to the handler.
		packet := make([]byte, n)
		copy(packet, buffer[:n])
		s.processResponse(packet)
	}
}
