// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbustcp

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const (
	tcpTimeout     = 5 * time.Second
	tcpDialTimeout = 5 * time.Second
)

// ConnState is the state of the client connection.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connected
)

func (s ConnState) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// ExchangeState tells whether a request is outstanding.
type ExchangeState int32

const (
	Idle ExchangeState = iota
	AwaitingResponse
)

func (s ExchangeState) String() string {
	if s == AwaitingResponse {
		return "awaiting response"
	}
	return "idle"
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets how long an exchange waits for its response.
// Zero waits until the context is done.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.Timeout = timeout }
}

// WithDialTimeout bounds connection establishment with the default dialer.
func WithDialTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.DialTimeout = timeout }
}

// WithIdleTimeout closes the connection after the given time without an
// exchange. The next request reconnects.
func WithIdleTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.IdleTimeout = timeout }
}

// WithUnitID sets the unit identifier of every request.
func WithUnitID(unitID byte) ClientOption {
	return func(c *Client) { c.UnitID = unitID }
}

// WithLogger sets the transmission logger.
func WithLogger(logger Logger) ClientOption {
	return func(c *Client) { c.Logger = logger }
}

// WithDialer replaces net.Dialer, e.g. to hand over a pre-dialed connection.
func WithDialer(dial DialFunc) ClientOption {
	return func(c *Client) { c.Dial = dial }
}

// WithTLSConfig upgrades the connection to TLS before any request is sent.
// An empty ServerName is taken from the host part of the address.
func WithTLSConfig(config *tls.Config) ClientOption {
	return func(c *Client) { c.TLSConfig = config }
}

// Client is a MODBUS TCP client bound to one remote address. Requests are
// serialized: one exchange is outstanding at a time.
type Client struct {
	tcpPackager

	// Connect string
	address string
	// Response timeout
	Timeout     time.Duration
	DialTimeout time.Duration
	// Idle timeout to close the connection
	IdleTimeout time.Duration
	Dial        DialFunc
	TLSConfig   *tls.Config
	// Transmission logger
	Logger Logger

	sequencer Sequencer
	state     atomic.Int32

	// mu serializes exchanges
	mu           sync.Mutex
	lastActivity time.Time

	// connMu guards sess and closeTimer; Close takes only connMu so it can
	// interrupt an exchange
	connMu     sync.Mutex
	sess       *session
	closeTimer *time.Timer
}

// NewClient allocates a client for address ("host:port"). It does not
// connect; see Connect.
func NewClient(address string, opts ...ClientOption) *Client {
	c := &Client{
		address:     address,
		Timeout:     tcpTimeout,
		DialTimeout: tcpDialTimeout,
	}
	c.UnitID = DefaultUnitID
	c.transactions = &c.sequencer
	for _, opt := range opts {
		opt(c)
	}
	if c.Dial == nil {
		c.Dial = defaultDialFunc(c.DialTimeout)
	}
	return c
}

// Address returns the remote address.
func (c *Client) Address() string {
	return c.address
}

// Connect establishes the connection. Executing a request connects on
// demand, so calling Connect is only needed to fail early.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.session(ctx)
	return err
}

// session returns the current session, dialing a new one if disconnected.
// A new session restarts the transaction sequence.
func (c *Client) session(ctx context.Context) (*session, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.sess != nil {
		if !c.sess.stopped() {
			return c.sess, nil
		}
		c.logf("modbus: connection to %s lost while idle, reconnecting", c.address)
		c.sess.close()
		c.sess = nil
	}
	conn, err := dial(ctx, c.Dial, c.address, c.TLSConfig)
	if err != nil {
		return nil, err
	}
	c.sequencer.Reset()
	c.sess = newSession(conn)
	c.logf("modbus: connected to %s", c.address)
	return c.sess, nil
}

// drop closes s if it is still the current session.
func (c *Client) drop(s *session) {
	c.connMu.Lock()
	if c.sess == s {
		c.sess = nil
	}
	c.connMu.Unlock()
	s.close()
}

// Close closes the connection. An exchange in progress fails with
// ErrConnectionClosed.
func (c *Client) Close() error {
	c.connMu.Lock()
	s := c.sess
	c.sess = nil
	if c.closeTimer != nil {
		c.closeTimer.Stop()
	}
	c.connMu.Unlock()

	if s == nil {
		return nil
	}
	c.logf("modbus: connection to %s closed", c.address)
	return s.close()
}

// ConnState reports whether the client holds a connection. A connection the
// device closed counts as Disconnected.
func (c *Client) ConnState() ConnState {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.sess != nil && !c.sess.stopped() {
		return Connected
	}
	return Disconnected
}

// IsConnected returns true if a connection has been established.
func (c *Client) IsConnected() bool {
	return c.ConnState() == Connected
}

// State reports whether an exchange is waiting for its response.
func (c *Client) State() ExchangeState {
	return ExchangeState(c.state.Load())
}

// Execute sends cmd and waits for the matching response. A device exception
// is returned as a *Fault Response with a nil error. Errors are:
// ErrInvalidRequest, *ConnectionError, ErrTimeout, ErrConnectionClosed,
// ErrMalformedFrame, ErrUnsupportedFunction, ErrResponseLengthMismatch or the
// context error.
func (c *Client) Execute(ctx context.Context, cmd Command) (Response, error) {
	request, err := BuildPDU(cmd)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	aduRequest, err := c.Encode(request)
	if err != nil {
		return nil, err
	}

	c.lastActivity = time.Now()
	c.startCloseTimer()
	var (
		deadline time.Time
		timeout  <-chan time.Time
	)
	if c.Timeout > 0 {
		deadline = c.lastActivity.Add(c.Timeout)
		timer := time.NewTimer(c.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	c.logf("modbus: send % x", aduRequest)
	if err = s.send(aduRequest, deadline); err != nil {
		c.drop(s)
		return nil, err
	}

	c.state.Store(int32(AwaitingResponse))
	defer c.state.Store(int32(Idle))

	aduResponse, err := c.await(ctx, s, aduRequest, timeout)
	if err != nil {
		var connErr *ConnectionError
		if errors.As(err, &connErr) || errors.Is(err, ErrConnectionClosed) {
			c.drop(s)
		}
		return nil, err
	}
	c.logf("modbus: recv % x", aduResponse)

	response, err := c.Decode(aduResponse)
	if err != nil {
		return nil, err
	}
	return Interpret(cmd, response)
}

// await returns the first frame answering aduRequest. Frames carrying another
// transaction or protocol id are left over from earlier exchanges and are
// discarded.
func (c *Client) await(ctx context.Context, s *session, aduRequest []byte, timeout <-chan time.Time) ([]byte, error) {
	transactionID := binary.BigEndian.Uint16(aduRequest)
	for {
		aduResponse, err := s.readFrame(ctx, timeout)
		if err != nil {
			return nil, err
		}
		header := decodeHeader(aduResponse)
		if header.TransactionID != transactionID || header.ProtocolID != tcpProtocolIdentifier {
			c.logf("modbus: discarding frame with transaction id '%v' protocol id '%v', waiting for '%v'",
				header.TransactionID, header.ProtocolID, transactionID)
			continue
		}
		if err = c.Verify(aduRequest, aduResponse); err != nil {
			return nil, err
		}
		return aduResponse, nil
	}
}

// ReadHoldingRegisters reads quantity (1 to 125) holding registers starting
// at address. A device exception is returned as *Fault.
func (c *Client) ReadHoldingRegisters(ctx context.Context, address, quantity uint16) ([]uint16, error) {
	c.logf("modbus: request to %s, starting address: 0x%04X, quantity: %d",
		functionName(FuncCodeReadHoldingRegisters), address, quantity)
	response, err := c.Execute(ctx, ReadHoldingRegisters{Address: address, Quantity: quantity})
	if err != nil {
		return nil, err
	}
	switch r := response.(type) {
	case *Fault:
		return nil, r
	case Registers:
		c.logf("modbus: response to %s, values: %s", functionName(FuncCodeReadHoldingRegisters), r)
		return r, nil
	}
	return nil, ErrUnsupportedFunction
}

// WriteSingleRegister writes value to the holding register at address.
func (c *Client) WriteSingleRegister(ctx context.Context, address, value uint16) error {
	c.logf("modbus: request to %s, starting address: 0x%04X, value: 0x%04X",
		functionName(FuncCodeWriteSingleRegister), address, value)
	return c.write(ctx, WriteSingleRegister{Address: address, Value: value})
}

// WriteMultipleRegisters writes values (1 to 123 registers) starting at
// address.
func (c *Client) WriteMultipleRegisters(ctx context.Context, address uint16, values []uint16) error {
	c.logf("modbus: request to %s, starting address: 0x%04X, values: %s",
		functionName(FuncCodeWriteMultipleRegisters), address, Registers(values))
	return c.write(ctx, WriteMultipleRegisters{Address: address, Values: values})
}

func (c *Client) write(ctx context.Context, cmd Command) error {
	response, err := c.Execute(ctx, cmd)
	if err != nil {
		return err
	}
	if fault, ok := response.(*Fault); ok {
		return fault
	}
	return nil
}

func (c *Client) startCloseTimer() {
	if c.IdleTimeout <= 0 {
		return
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.closeTimer == nil {
		c.closeTimer = time.AfterFunc(c.IdleTimeout, c.closeIdle)
	} else {
		c.closeTimer.Reset(c.IdleTimeout)
	}
}

// closeIdle closes the connection if last activity is passed behind IdleTimeout.
func (c *Client) closeIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.IdleTimeout <= 0 {
		return
	}
	idle := time.Since(c.lastActivity)
	if idle >= c.IdleTimeout {
		c.logf("modbus: closing connection due to idle timeout: %v", idle)
		c.Close()
	}
}

func (c *Client) logf(format string, v ...interface{}) {
	if c.Logger != nil {
		c.Logger.Printf(format, v...)
	}
}
