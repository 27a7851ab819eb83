// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net"
)

// Dialer opens the command channel to a publisher. DataSubscriber uses
// a TCPDialer unless a test substitutes its own.
type Dialer interface {
	// DialContext opens a stream connection to address ("host:port").
	DialContext(ctx context.Context, address string) (net.Conn, error)
}

// Listener accepts reverse connections: the publisher dials the
// subscriber instead of the other way round.
type Listener interface {
	// Accept blocks until a publisher connects, ctx is cancelled, or
	// the listener is closed.
	Accept(ctx context.Context) (net.Conn, error)

	// Address returns the bound address in "host:port" form.
	Address() string

	Close() error
}
