// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestTCPListener_Address(t *testing.T) {
	listener, err := NewTCPListener("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewTCPListener() error: %v", err)
	}
	defer listener.Close()

	address := listener.Address()
	if !strings.HasPrefix(address, "127.0.0.1:") {
		t.Errorf("Address() = %q, expected 127.0.0.1:port", address)
	}
}

func TestTCPRoundTrip(t *testing.T) {
	listener, err := NewTCPListener("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewTCPListener() error: %v", err)
	}
	defer listener.Close()

	accepted := make(chan []byte, 1)
	go func() {
		conn, err := listener.Accept(context.Background())
		if err != nil {
			accepted <- nil
			return
		}
		defer conn.Close()
		buffer := make([]byte, 5)
		if _, err := io.ReadFull(conn, buffer); err != nil {
			accepted <- nil
			return
		}
		accepted <- buffer
	}()

	dialer := &TCPDialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(context.Background(), listener.Address())
	if err != nil {
		t.Fatalf("DialContext() error: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{0, 0, 0, 1, byte(CommandSubscribe)}); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	select {
	case received := <-accepted:
		if string(received) != string([]byte{0, 0, 0, 1, byte(CommandSubscribe)}) {
			t.Errorf("listener received %v", received)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not receive the frame")
	}
}

func TestTCPDialer_ConnectionRefused(t *testing.T) {
	dialer := &TCPDialer{Timeout: time.Second}

	// Port 1 is almost certainly not listening.
	_, err := dialer.DialContext(context.Background(), "127.0.0.1:1")
	if err == nil {
		t.Error("expected error connecting to non-listening port")
	}
}

func TestTCPDialer_ContextCancellation(t *testing.T) {
	dialer := &TCPDialer{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := dialer.DialContext(ctx, "127.0.0.1:1")
	if err == nil {
		t.Error("expected error with cancelled context")
	}
}

func TestTCPListener_ContextCancellation(t *testing.T) {
	listener, err := NewTCPListener("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewTCPListener() error: %v", err)
	}
	defer listener.Close()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := listener.Accept(ctx)
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Accept() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("Accept() did not return after context cancellation")
	}
}
