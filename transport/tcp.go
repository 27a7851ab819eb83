// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net"
	"time"
)

// Compile-time interface checks.
var (
	_ Listener = (*TCPListener)(nil)
	_ Dialer   = (*TCPDialer)(nil)
)

// TCPListener accepts reverse command-channel connections from a
// publisher configured to initiate the connection.
type TCPListener struct {
	listener net.Listener
}

// NewTCPListener listens on address (e.g. ":7175" or "10.0.0.5:7175").
// Use ":0" for a random available port.
func NewTCPListener(address string) (*TCPListener, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &TCPListener{listener: listener}, nil
}

// Accept waits for the next publisher connection. Cancelling ctx closes
// the listener, so a cancelled Accept cannot be retried.
func (l *TCPListener) Accept(ctx context.Context) (net.Conn, error) {
	stop := context.AfterFunc(ctx, func() { l.listener.Close() })
	defer stop()

	conn, err := l.listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}
	return conn, nil
}

// Address returns the bound TCP address in "host:port" format.
func (l *TCPListener) Address() string {
	return l.listener.Addr().String()
}

func (l *TCPListener) Close() error {
	return l.listener.Close()
}

// TCPDialer opens command-channel connections to a publisher.
type TCPDialer struct {
	// Timeout is the maximum time to wait for a TCP connection to be
	// established. Zero means only the context deadline applies.
	Timeout time.Duration
}

// DialContext opens a TCP connection to address (host:port) with
// Nagle's algorithm disabled, since commands are small and latency
// sensitive.
func (d *TCPDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	conn, err := (&net.Dialer{Timeout: d.Timeout}).DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}
	return conn, nil
}
