// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bureau-foundation/sttp/lib/clock"
	"github.com/bureau-foundation/sttp/lib/netutil"
)

// ConnectionState is the lifecycle position of a DataSubscriber. Each
// state implies every earlier one: a validated connection is connected.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	// StateConnected means the command channel is open but the
	// publisher has not yet answered with a recognized response.
	StateConnected
	StateValidated
	StateSubscribed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateValidated:
		return "validated"
	case StateSubscribed:
		return "subscribed"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int32(s))
	}
}

// missingCacheWarningInterval throttles the error reported for data
// packets that arrive before their signal index cache.
const missingCacheWarningInterval = 20 * time.Second

// commandSession is one open command channel and its reader.
type commandSession struct {
	conn       net.Conn
	readerDone chan struct{}
}

// DataSubscriber is the client side of an STTP connection: it owns the
// command channel to a publisher, the optional UDP data channel,
// subscription negotiation, and the dispatch of publisher responses to
// a Handler.
//
// All methods are safe for concurrent use. Handler methods run on the
// subscriber's reader goroutines; they may call RequestMetadata,
// Subscribe and the other command senders, but must not call Dispose,
// and must not call Unsubscribe from NewMeasurements when a UDP data
// channel is in use (Unsubscribe waits for that channel's reader).
type DataSubscriber struct {
	config    Config
	logger    *slog.Logger
	clock     clock.Clock
	metrics   *Metrics
	dialer    Dialer
	connector *SubscriberConnector

	handlerMu sync.RWMutex
	handler   Handler

	subscriptionMu     sync.Mutex
	subscription       SubscriptionInfo
	activeSubscription atomic.Pointer[SubscriptionInfo]

	state         atomic.Int32
	listening     atomic.Bool
	disconnecting atomic.Bool
	disposing     atomic.Bool

	// connectActionMu serializes connection setup and teardown.
	connectActionMu sync.Mutex

	// commandMu guards command and retired, and serializes writes to
	// the command channel.
	commandMu sync.Mutex
	command   *commandSession
	// retired holds the reader goroutines of closed sessions. The next
	// connect waits for them so a new session never races a half-closed
	// one.
	retired []chan struct{}

	dataChannelMu sync.Mutex
	dataChannel   *dataChannel

	listenerMu     sync.Mutex
	listener       Listener
	listenerCancel context.CancelFunc
	listenerDone   chan struct{}
	// stoppedListeners are accept loops Dispose waits for.
	stoppedListeners []chan struct{}

	signalIndexCaches [2]atomic.Pointer[SignalIndexCache]
	cacheIndex        atomic.Int32
	baseTimeOffsets   atomic.Pointer[BaseTimeOffsets]
	timeIndex         atomic.Int32

	// mu guards the fields below.
	mu                      sync.Mutex
	subscriberID            uuid.UUID
	connectionID            string
	cipherKeys              [2]*cipherKey
	metadataRequested       time.Time
	lastMissingCacheWarning time.Time
	tsscResetRequested      bool

	totalCommandChannelBytes atomic.Uint64
	totalDataChannelBytes    atomic.Uint64
	totalMeasurements        atomic.Uint64
}

var _ connectTarget = (*DataSubscriber)(nil)

// NewDataSubscriber validates config and returns a disconnected
// subscriber with DefaultSubscriptionInfo and a NopHandler.
func NewDataSubscriber(config Config) (*DataSubscriber, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Dialer == nil {
		config.Dialer = &TCPDialer{Timeout: config.SocketTimeout}
	}

	subscriber := &DataSubscriber{
		config:       config,
		logger:       config.Logger,
		clock:        config.Clock,
		metrics:      config.Metrics,
		dialer:       config.Dialer,
		connector:    NewSubscriberConnector(config),
		handler:      NopHandler{},
		subscription: DefaultSubscriptionInfo(),
	}
	subscriber.metrics.setConnectionState(StateDisconnected)
	return subscriber, nil
}

// Config returns the configuration the subscriber was created with.
func (s *DataSubscriber) Config() Config { return s.config }

// Connector returns the subscriber's retry policy.
func (s *DataSubscriber) Connector() *SubscriberConnector { return s.connector }

// SetHandler replaces the event handler. A nil handler ignores events.
func (s *DataSubscriber) SetHandler(handler Handler) {
	if handler == nil {
		handler = NopHandler{}
	}
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handler = handler
}

func (s *DataSubscriber) currentHandler() Handler {
	s.handlerMu.RLock()
	defer s.handlerMu.RUnlock()
	return s.handler
}

// SetSubscription replaces the parameters used by the next Subscribe.
func (s *DataSubscriber) SetSubscription(subscription SubscriptionInfo) {
	s.subscriptionMu.Lock()
	defer s.subscriptionMu.Unlock()
	s.subscription = subscription
}

// Subscription returns the parameters used by the next Subscribe.
func (s *DataSubscriber) Subscription() SubscriptionInfo {
	s.subscriptionMu.Lock()
	defer s.subscriptionMu.Unlock()
	return s.subscription
}

// State returns the current connection state.
func (s *DataSubscriber) State() ConnectionState { return ConnectionState(s.state.Load()) }

func (s *DataSubscriber) IsConnected() bool  { return s.State() >= StateConnected }
func (s *DataSubscriber) IsValidated() bool  { return s.State() >= StateValidated }
func (s *DataSubscriber) IsSubscribed() bool { return s.State() == StateSubscribed }
func (s *DataSubscriber) IsListening() bool  { return s.listening.Load() }
func (s *DataSubscriber) isDisposing() bool  { return s.disposing.Load() }

func (s *DataSubscriber) setState(state ConnectionState) {
	s.state.Store(int32(state))
	s.metrics.setConnectionState(state)
}

// transition moves from one state to another and reports whether the
// subscriber was in from.
func (s *DataSubscriber) transition(from, to ConnectionState) bool {
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	s.metrics.setConnectionState(to)
	return true
}

// SubscriberID returns the ID the publisher assigned in the most recent
// signal index cache.
func (s *DataSubscriber) SubscriberID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscriberID
}

// ConnectionID describes the current publisher endpoint.
func (s *DataSubscriber) ConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectionID
}

// ActiveSignalIndexCache returns the most recently installed cache, or
// nil before the first cache update.
func (s *DataSubscriber) ActiveSignalIndexCache() *SignalIndexCache {
	return s.signalIndexCaches[s.cacheIndex.Load()].Load()
}

func (s *DataSubscriber) TotalCommandChannelBytesReceived() uint64 {
	return s.totalCommandChannelBytes.Load()
}

func (s *DataSubscriber) TotalDataChannelBytesReceived() uint64 {
	return s.totalDataChannelBytes.Load()
}

// TotalMeasurementsReceived counts measurements since the last
// Subscribe.
func (s *DataSubscriber) TotalMeasurementsReceived() uint64 {
	return s.totalMeasurements.Load()
}

// EncodeString encodes value in the operational string encoding.
func (s *DataSubscriber) EncodeString(value string) ([]byte, error) {
	if s.config.Encoding != EncodingUTF8 {
		return nil, fmt.Errorf("encoding string as %s: %w", s.config.Encoding, ErrUnsupportedEncoding)
	}
	return []byte(value), nil
}

// DecodeString decodes data from the operational string encoding.
func (s *DataSubscriber) DecodeString(data []byte) (string, error) {
	if s.config.Encoding != EncodingUTF8 {
		return "", fmt.Errorf("decoding string as %s: %w", s.config.Encoding, ErrUnsupportedEncoding)
	}
	if !utf8.Valid(data) {
		return "", &DecodeError{What: "string", Err: errors.New("invalid UTF-8")}
	}
	return string(data), nil
}

// Connect makes a single connection attempt to the publisher at
// hostname:port. It resets the connector's retry state; if the
// connection is later lost and AutoReconnect is set, the connector
// takes over from here. Use SubscriberConnector.Connect to retry the
// initial connection as well.
func (s *DataSubscriber) Connect(hostname string, port uint16) error {
	if s.IsConnected() {
		return ErrAlreadyConnected
	}
	if s.IsListening() {
		return ErrListening
	}
	s.connector.setTarget(hostname, port)
	s.connector.ResetConnection()
	ctx := s.connector.rearm()
	return s.connect(ctx, hostname, port, false)
}

func (s *DataSubscriber) connect(ctx context.Context, hostname string, port uint16, autoReconnecting bool) error {
	if err := s.establish(ctx, hostname, port, autoReconnecting); err != nil {
		return err
	}
	s.currentHandler().ConnectionEstablished()
	return nil
}

// establish opens the command channel. Handler dispatch happens after
// it returns so a handler may disconnect. The connection-refused state
// is left alone; only a user-driven connect clears it.
func (s *DataSubscriber) establish(ctx context.Context, hostname string, port uint16, autoReconnecting bool) error {
	if s.isDisposing() {
		return ErrDisposed
	}
	if s.IsConnected() {
		return ErrAlreadyConnected
	}
	if s.IsListening() {
		return ErrListening
	}

	s.lockConnectAction()
	defer s.connectActionMu.Unlock()

	if s.IsConnected() {
		return ErrAlreadyConnected
	}

	s.setupConnection()
	s.setState(StateConnecting)

	address := net.JoinHostPort(hostname, strconv.Itoa(int(port)))
	conn, err := s.dialer.DialContext(ctx, address)
	if err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("connecting to %s: %w", address, err)
	}

	s.startSession(conn, address)
	s.logger.Info("connected to publisher", "address", address, "auto_reconnecting", autoReconnecting)
	return nil
}

// setupConnection clears per-connection state.
func (s *DataSubscriber) setupConnection() {
	s.totalCommandChannelBytes.Store(0)
	s.totalDataChannelBytes.Store(0)
	s.totalMeasurements.Store(0)

	s.mu.Lock()
	s.cipherKeys = [2]*cipherKey{}
	s.lastMissingCacheWarning = time.Time{}
	s.mu.Unlock()
}

// startSession installs conn as the command channel, starts its reader
// and sends the operational modes. Called with connectActionMu held.
func (s *DataSubscriber) startSession(conn net.Conn, connectionID string) {
	s.mu.Lock()
	s.connectionID = connectionID
	s.mu.Unlock()

	session := &commandSession{conn: conn, readerDone: make(chan struct{})}
	s.commandMu.Lock()
	s.command = session
	s.commandMu.Unlock()

	s.setState(StateConnected)
	go s.readCommandChannel(session)

	if err := s.sendOperationalModes(); err != nil {
		s.dispatchErrorMessage(fmt.Sprintf("Failed to send operational modes: %v", err))
	}
}

func (s *DataSubscriber) sendOperationalModes() error {
	payload := binary.BigEndian.AppendUint32(nil, uint32(s.config.operationalModes()))
	return s.sendCommand(CommandDefineOperationalModes, payload)
}

func (s *DataSubscriber) waitForRetiredReaders() {
	s.commandMu.Lock()
	retired := s.retired
	s.retired = nil
	s.commandMu.Unlock()

	for _, done := range retired {
		<-done
	}
}

// lockConnectAction acquires connectActionMu once no retired reader is
// outstanding. Readers are never waited for with the lock held, since
// a Handler running on a reader may itself call Disconnect.
func (s *DataSubscriber) lockConnectAction() {
	for {
		s.waitForRetiredReaders()
		s.connectActionMu.Lock()
		s.commandMu.Lock()
		pending := len(s.retired)
		s.commandMu.Unlock()
		if pending == 0 {
			return
		}
		s.connectActionMu.Unlock()
	}
}

// Listen accepts a reverse connection: the publisher connects to the
// subscriber at address. One publisher is served at a time; after it
// disconnects the subscriber accepts the next. Connect is refused while
// listening.
func (s *DataSubscriber) Listen(address string) error {
	if s.isDisposing() {
		return ErrDisposed
	}
	if s.IsConnected() {
		return ErrAlreadyConnected
	}
	if !s.listening.CompareAndSwap(false, true) {
		return ErrListening
	}

	listener, err := NewTCPListener(address)
	if err != nil {
		s.listening.Store(false)
		return fmt.Errorf("listening on %s: %w", address, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.listenerMu.Lock()
	s.listener = listener
	s.listenerCancel = cancel
	s.listenerDone = done
	s.listenerMu.Unlock()

	s.dispatchStatusMessage(fmt.Sprintf("Listening on %s for publisher connections...", listener.Address()))
	go s.acceptConnections(ctx, listener, done)
	return nil
}

// ListenAddress returns the bound address while listening, otherwise
// the empty string.
func (s *DataSubscriber) ListenAddress() string {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Address()
}

func (s *DataSubscriber) acceptConnections(ctx context.Context, listener Listener, done chan struct{}) {
	defer close(done)
	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.dispatchErrorMessage(fmt.Sprintf("Failed to accept publisher connection: %v", err))
				s.listening.Store(false)
			}
			return
		}

		remote := conn.RemoteAddr().String()
		if s.IsConnected() {
			s.logger.Warn("rejecting publisher connection, already connected", "remote", remote)
			conn.Close()
			continue
		}

		s.lockConnectAction()
		if ctx.Err() != nil {
			s.connectActionMu.Unlock()
			conn.Close()
			return
		}
		s.setupConnection()
		s.dispatchStatusMessage(fmt.Sprintf("Processing connection attempt from %q ...", remote))
		s.startSession(conn, remote)
		s.connectActionMu.Unlock()

		s.currentHandler().ConnectionEstablished()
	}
}

func (s *DataSubscriber) stopListening() {
	s.listenerMu.Lock()
	listener, cancel, done := s.listener, s.listenerCancel, s.listenerDone
	s.listener, s.listenerCancel, s.listenerDone = nil, nil, nil
	s.listenerMu.Unlock()

	// Cancel before closing so the accept loop sees a deliberate stop.
	if cancel != nil {
		cancel()
	}
	if listener != nil {
		listener.Close()
	}

	s.listening.Store(false)
	if done != nil {
		s.listenerMu.Lock()
		s.stoppedListeners = append(s.stoppedListeners, done)
		s.listenerMu.Unlock()
	}
}

// Subscribe requests the stream described by Subscription. An existing
// subscription is replaced. When the subscription asks for a UDP data
// channel, the socket is bound here and its port sent to the publisher.
func (s *DataSubscriber) Subscribe() error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	if !s.IsValidated() {
		return ErrNotValidated
	}
	if s.IsSubscribed() {
		if err := s.Unsubscribe(); err != nil {
			return err
		}
	}

	subscription := s.Subscription()
	s.totalMeasurements.Store(0)

	dataChannelPort := 0
	if subscription.UDPDataChannel {
		port, err := s.openDataChannel(subscription)
		if err != nil {
			return err
		}
		dataChannelPort = port
	}

	parameters, err := s.EncodeString(subscription.connectionString(dataChannelPort))
	if err != nil {
		return err
	}
	payload := []byte{byte(DataPacketCompact)}
	payload = appendLengthPrefixed(payload, parameters)

	s.activeSubscription.Store(&subscription)
	s.mu.Lock()
	s.tsscResetRequested = true
	s.mu.Unlock()

	// A Failed(Subscribe) reply can arrive before sendCommand returns.
	s.transition(StateValidated, StateSubscribed)
	if err := s.sendCommand(CommandSubscribe, payload); err != nil {
		s.transition(StateSubscribed, StateValidated)
		s.closeDataChannel(true)
		return err
	}

	s.logger.Info("subscribe requested", "filter", subscription.FilterExpression, "data_channel_port", dataChannelPort)
	return nil
}

// Unsubscribe stops the stream and closes the UDP data channel, if
// any. It does nothing when not subscribed.
func (s *DataSubscriber) Unsubscribe() error {
	if !s.IsConnected() || !s.IsSubscribed() {
		return nil
	}
	err := s.sendCommand(CommandUnsubscribe, nil)
	s.closeDataChannel(true)
	s.transition(StateSubscribed, StateValidated)
	return err
}

// RequestMetadata asks the publisher for its metadata, filtered by
// Config.MetadataFilters when set. The response arrives through
// Handler.MetadataReceived.
func (s *DataSubscriber) RequestMetadata() error {
	var payload []byte
	if s.config.MetadataFilters != "" {
		filters, err := s.EncodeString(s.config.MetadataFilters)
		if err != nil {
			return err
		}
		payload = appendLengthPrefixed(nil, filters)
	}

	s.mu.Lock()
	s.metadataRequested = s.clock.Now()
	s.mu.Unlock()

	return s.sendCommand(CommandMetadataRefresh, payload)
}

// UpdateProcessingInterval changes the replay rate of a historical
// subscription. The value is in milliseconds: -1 restores the
// publisher default and 0 replays as fast as possible.
func (s *DataSubscriber) UpdateProcessingInterval(milliseconds int32) error {
	s.subscriptionMu.Lock()
	s.subscription.ProcessingInterval = milliseconds
	s.subscriptionMu.Unlock()

	return s.sendCommand(CommandUpdateProcessingInterval, appendUint32(nil, uint32(milliseconds)))
}

// RotateCipherKeys asks the publisher to issue new data channel keys.
func (s *DataSubscriber) RotateCipherKeys() error {
	return s.sendCommand(CommandRotateCipherKeys, nil)
}

// SendUserCommand sends an application-defined command in the range
// CommandUserCommand00 to CommandUserCommand15.
func (s *DataSubscriber) SendUserCommand(command ServerCommand, payload []byte) error {
	if !command.IsUserCommand() {
		return fmt.Errorf("command 0x%02X: %w", uint8(command), ErrInvalidUserCommand)
	}
	return s.sendCommand(command, payload)
}

// sendCommand frames and writes one command:
// u32 length (payload + 1) | u8 command | payload.
func (s *DataSubscriber) sendCommand(command ServerCommand, payload []byte) error {
	frame := make([]byte, 0, payloadHeaderSize+1+len(payload))
	frame = appendUint32(frame, uint32(len(payload)+1))
	frame = append(frame, byte(command))
	frame = append(frame, payload...)

	s.commandMu.Lock()
	defer s.commandMu.Unlock()

	if s.command == nil {
		return ErrNotConnected
	}
	conn := s.command.conn
	if s.config.SocketTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.config.SocketTimeout)) //nolint:realclock socket deadline
	}
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("sending %s: %w", command, err)
	}
	return nil
}

// readCommandChannel reads length-prefixed response packets until the
// connection fails or is closed.
func (s *DataSubscriber) readCommandChannel(session *commandSession) {
	defer close(session.readerDone)

	reader := bufio.NewReaderSize(session.conn, 64*1024)
	header := make([]byte, payloadHeaderSize)
	for {
		if _, err := io.ReadFull(reader, header); err != nil {
			s.commandChannelFailed(session, err)
			return
		}
		size := binary.BigEndian.Uint32(header)
		if size < responseHeaderSize || size > maxPacketSize {
			s.commandChannelFailed(session, fmt.Errorf("invalid response packet size %d", size))
			return
		}

		packet := make([]byte, size)
		if _, err := io.ReadFull(reader, packet); err != nil {
			s.commandChannelFailed(session, err)
			return
		}

		received := payloadHeaderSize + int(size)
		s.totalCommandChannelBytes.Add(uint64(received))
		s.metrics.addCommandChannelBytes(received)
		s.processResponse(packet)
	}
}

// commandChannelFailed handles the end of a reader. Reads fail
// routinely when the subscriber closes the session itself; only a
// failure on the live session terminates the connection.
func (s *DataSubscriber) commandChannelFailed(session *commandSession, err error) {
	s.commandMu.Lock()
	current := s.command == session
	s.commandMu.Unlock()
	if !current || s.disconnecting.Load() {
		return
	}

	if netutil.IsExpectedCloseError(err) {
		s.dispatchErrorMessage("Connection closed by publisher.")
	} else {
		s.dispatchErrorMessage(fmt.Sprintf("Command channel read failed: %v", err))
	}
	go s.terminateConnection()
}

// terminateConnection tears down a connection the subscriber did not
// choose to close and hands it to the connector for reconnection.
func (s *DataSubscriber) terminateConnection() {
	if !s.teardown(true, false) {
		return
	}
	s.currentHandler().ConnectionTerminated()

	if s.config.AutoReconnect && !s.IsListening() && !s.isDisposing() && !s.connector.ConnectionRefused() {
		s.connector.autoReconnect(s)
	}
}

// Disconnect closes the connection and stops listening. It cancels any
// automatic reconnection and is safe to call repeatedly or
// concurrently. Reader goroutines are joined by the next Connect or by
// Dispose, so Disconnect may be called from a Handler method.
func (s *DataSubscriber) Disconnect() {
	if s.teardown(false, true) {
		s.currentHandler().ConnectionTerminated()
	}
}

// teardown closes the sessions and reports whether a connection was
// open. A concurrent teardown makes this call a no-op apart from
// cancelling the connector for user-driven disconnects.
func (s *DataSubscriber) teardown(autoReconnecting, includeListener bool) bool {
	if !autoReconnecting {
		s.connector.Cancel()
	}
	if !s.disconnecting.CompareAndSwap(false, true) {
		return false
	}
	defer s.disconnecting.Store(false)

	if includeListener {
		s.stopListening()
	}

	s.connectActionMu.Lock()
	defer s.connectActionMu.Unlock()

	wasConnected := s.IsConnected()
	s.setState(StateDisconnected)
	s.closeDataChannel(false)

	s.commandMu.Lock()
	if s.command != nil {
		s.command.conn.Close()
		s.retired = append(s.retired, s.command.readerDone)
		s.command = nil
	}
	s.commandMu.Unlock()

	if wasConnected {
		s.logger.Info("disconnected from publisher", "connection", s.ConnectionID(), "auto_reconnecting", autoReconnecting)
	}
	return wasConnected
}

// Dispose disconnects, stops all reconnection, and waits for every
// background goroutine to exit. The subscriber cannot be reused.
func (s *DataSubscriber) Dispose() {
	if !s.disposing.CompareAndSwap(false, true) {
		return
	}
	s.connector.Dispose()
	s.Disconnect()
	s.waitForRetiredReaders()

	s.listenerMu.Lock()
	stopped := s.stoppedListeners
	s.stoppedListeners = nil
	s.listenerMu.Unlock()
	for _, done := range stopped {
		<-done
	}
}

// connectorError and connectorReconnected route connector events to
// the handler.
func (s *DataSubscriber) connectorError(message string) { s.dispatchErrorMessage(message) }

func (s *DataSubscriber) connectorReconnected() {
	s.dispatchStatusMessage(fmt.Sprintf("Reconnected to %s.", s.ConnectionID()))
	s.currentHandler().AutoReconnected()
}

func (s *DataSubscriber) dispatchStatusMessage(message string) {
	s.logger.Info("subscriber status", "message", message)
	s.currentHandler().StatusMessage(message)
}

func (s *DataSubscriber) dispatchErrorMessage(message string) {
	s.logger.Warn("subscriber error", "message", message)
	s.currentHandler().ErrorMessage(message)
}
