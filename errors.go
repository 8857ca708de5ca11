// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbustcp

import (
	"errors"
	"fmt"
	"net"
)

var (
	// ErrInvalidRequest is returned when a command carries values outside
	// the protocol limits. Nothing is sent on the wire.
	ErrInvalidRequest = errors.New("modbus: invalid request")
	// ErrMalformedFrame is returned when received bytes cannot be parsed as
	// a MODBUS TCP frame.
	ErrMalformedFrame = errors.New("modbus: malformed frame")
	// ErrUnsupportedFunction is returned when a frame carries a function code
	// this client does not handle.
	ErrUnsupportedFunction = errors.New("modbus: unsupported function")
	// ErrResponseLengthMismatch is returned when a response does not agree
	// with the request it answers.
	ErrResponseLengthMismatch = errors.New("modbus: response does not match request")
	// ErrTimeout is returned when no matching response arrived in time.
	ErrTimeout error = timeoutError{}
	// ErrConnectionClosed is returned when the connection was closed while a
	// request was outstanding.
	ErrConnectionClosed = errors.New("modbus: connection closed")
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "modbus: timeout waiting for response" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// ConnectionError reports a failure of the underlying transport.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("modbus: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the transport failed with a network timeout.
func (e *ConnectionError) Timeout() bool {
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}
