// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/sttp/lib/clock"
)

// maxBackoffExponent caps the doubling of the retry interval.
const maxBackoffExponent = 12

// connectTarget is the side of a DataSubscriber the connector drives.
type connectTarget interface {
	// connect makes a single connection attempt.
	connect(ctx context.Context, hostname string, port uint16, autoReconnecting bool) error
	isDisposing() bool
	connectorError(message string)
	connectorReconnected()
}

// SubscriberConnector owns the retry policy of a DataSubscriber: the
// exponential backoff between attempts, the retry budget, and the
// guarantee that at most one automatic reconnection runs at a time.
//
// The attempt counter is reset only by user-driven connects. Automatic
// reconnections keep accumulating it, so a publisher that keeps
// dropping the connection is retried with growing delays and, with a
// finite MaxRetries, eventually given up on.
type SubscriberConnector struct {
	maxRetries           int
	retryInterval        time.Duration
	maxRetryInterval     time.Duration
	autoReconnectEnabled bool

	clock   clock.Clock
	logger  *slog.Logger
	metrics *Metrics

	attempt atomic.Int32
	refused atomic.Bool

	mu       sync.Mutex
	hostname string
	port     uint16
	ctx      context.Context
	cancel   context.CancelFunc
	disposed bool

	// reconnectMu is held while the previous reconnection is joined and
	// the next one installed.
	reconnectMu   sync.Mutex
	reconnectDone chan struct{}

	// callbackMu serializes reconnect notifications.
	callbackMu sync.Mutex
}

// NewSubscriberConnector creates a connector with the retry settings of
// config.
func NewSubscriberConnector(config Config) *SubscriberConnector {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SubscriberConnector{
		maxRetries:           config.MaxRetries,
		retryInterval:        config.RetryInterval,
		maxRetryInterval:     config.MaxRetryInterval,
		autoReconnectEnabled: config.AutoReconnect,
		clock:                clk,
		logger:               logger,
		metrics:              config.Metrics,
		ctx:                  ctx,
		cancel:               cancel,
	}
}

// Hostname returns the publisher host of the most recent connect.
func (c *SubscriberConnector) Hostname() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hostname
}

// Port returns the publisher port of the most recent connect.
func (c *SubscriberConnector) Port() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port
}

func (c *SubscriberConnector) MaxRetries() int { return c.maxRetries }

func (c *SubscriberConnector) AutoReconnect() bool { return c.autoReconnectEnabled }

// Attempt returns the number of connection attempts since the last
// user-driven connect.
func (c *SubscriberConnector) Attempt() int { return int(c.attempt.Load()) }

// ConnectionRefused reports whether the publisher rejected the most
// recent connection. A refused connection is not retried automatically.
func (c *SubscriberConnector) ConnectionRefused() bool { return c.refused.Load() }

// RetryDelay returns the backoff before the next attempt when attempt
// attempts have already been made: zero for the first, then the retry
// interval doubled per attempt, capped at the maximum retry interval.
func (c *SubscriberConnector) RetryDelay(attempt int) time.Duration {
	if attempt <= 0 || c.retryInterval <= 0 {
		return 0
	}
	exponent := min(attempt-1, maxBackoffExponent)
	if c.retryInterval > c.maxRetryInterval>>exponent {
		return c.maxRetryInterval
	}
	return min(c.retryInterval<<exponent, c.maxRetryInterval)
}

// Connect connects subscriber to hostname:port, retrying with backoff
// until an attempt succeeds, the retry budget runs out, or the
// connector is cancelled. The retry state is reset first and any
// automatic reconnection in progress is abandoned.
func (c *SubscriberConnector) Connect(subscriber *DataSubscriber, hostname string, port uint16) ConnectStatus {
	c.setTarget(hostname, port)
	c.ResetConnection()
	ctx := c.rearm()
	return c.connect(ctx, subscriber, false)
}

// ResetConnection zeroes the attempt counter and clears the
// connection-refused state.
func (c *SubscriberConnector) ResetConnection() {
	c.attempt.Store(0)
	c.refused.Store(false)
}

// Cancel aborts any waiting or in-flight attempt. Aborted attempts
// report ConnectCanceled. The next user-driven connect re-arms the
// connector.
func (c *SubscriberConnector) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel()
}

// Dispose cancels the connector permanently and waits for a running
// reconnection to finish.
func (c *SubscriberConnector) Dispose() {
	c.mu.Lock()
	c.disposed = true
	c.cancel()
	c.mu.Unlock()

	c.reconnectMu.Lock()
	done := c.reconnectDone
	c.reconnectMu.Unlock()
	if done != nil {
		<-done
	}
}

func (c *SubscriberConnector) setTarget(hostname string, port uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hostname = hostname
	c.port = port
}

func (c *SubscriberConnector) target() (string, uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hostname, c.port
}

func (c *SubscriberConnector) address() string {
	hostname, port := c.target()
	return net.JoinHostPort(hostname, strconv.Itoa(int(port)))
}

// rearm cancels the current cancellation scope and opens a new one. A
// disposed connector stays cancelled.
func (c *SubscriberConnector) rearm() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel()
	if c.disposed {
		return c.ctx
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c.ctx
}

func (c *SubscriberConnector) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

// connect runs the retry loop against target.
func (c *SubscriberConnector) connect(ctx context.Context, target connectTarget, autoReconnecting bool) ConnectStatus {
	for !target.isDisposing() {
		if c.maxRetries != -1 && c.Attempt() >= c.maxRetries {
			target.connectorError("Maximum connection retries attempted. Auto-reconnect canceled.")
			return ConnectFailed
		}

		if err := c.waitForRetry(ctx); err != nil {
			return ConnectCanceled
		}
		if target.isDisposing() {
			return ConnectCanceled
		}

		attempt := c.attempt.Add(1)
		if autoReconnecting {
			c.metrics.incReconnectAttempts()
		}
		hostname, port := c.target()
		err := target.connect(ctx, hostname, port, autoReconnecting)
		if err == nil {
			return ConnectSuccess
		}
		if ctx.Err() != nil || target.isDisposing() {
			return ConnectCanceled
		}
		if errors.Is(err, ErrAlreadyConnected) || errors.Is(err, ErrListening) || errors.Is(err, ErrDisposed) {
			target.connectorError(err.Error())
			return ConnectFailed
		}

		c.logger.Warn("connection attempt failed",
			"address", c.address(),
			"attempt", attempt,
			"error", err,
		)
		target.connectorError(fmt.Sprintf("Connection attempt %d to %q failed: %v", attempt, c.address(), err))
		autoReconnecting = true
	}
	return ConnectCanceled
}

// waitForRetry blocks for the backoff of the current attempt count.
// Returns ctx.Err() when cancelled during the wait.
func (c *SubscriberConnector) waitForRetry(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	attempt := c.Attempt()
	delay := c.RetryDelay(attempt)
	if delay <= 0 {
		return nil
	}

	c.logger.Info("waiting before reconnection attempt",
		"address", c.address(),
		"attempt", attempt+1,
		"delay", delay,
	)
	select {
	case <-c.clock.After(delay):
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// autoReconnect starts a background reconnection of target. Any
// previous reconnection is joined first, so at most one runs at a time.
// Does nothing if the connector is cancelled or target is disposing.
func (c *SubscriberConnector) autoReconnect(target connectTarget) {
	if c.context().Err() != nil || target.isDisposing() {
		return
	}

	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	if prior := c.reconnectDone; prior != nil {
		<-prior
	}

	ctx := c.context()
	if ctx.Err() != nil || target.isDisposing() {
		return
	}

	done := make(chan struct{})
	c.reconnectDone = done
	go func() {
		defer close(done)

		c.logger.Info("connection lost, reconnecting", "address", c.address())
		status := c.connect(ctx, target, true)
		if status != ConnectSuccess || ctx.Err() != nil {
			c.logger.Info("automatic reconnection ended", "address", c.address(), "status", status)
			return
		}

		c.callbackMu.Lock()
		defer c.callbackMu.Unlock()
		target.connectorReconnected()
	}()
}
