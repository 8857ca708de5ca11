// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbustcp

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"
)

const (
	// Queued reads between the receive loop and the waiting exchange
	chunkQueueSize = 16
)

// DialFunc opens the stream connection to the remote device.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

func defaultDialFunc(timeout time.Duration) DialFunc {
	dialer := &net.Dialer{Timeout: timeout}
	return dialer.DialContext
}

// dial connects to address and performs the TLS handshake when tlsConfig is
// set, before any MODBUS traffic flows.
func dial(ctx context.Context, dialFn DialFunc, address string, tlsConfig *tls.Config) (net.Conn, error) {
	conn, err := dialFn(ctx, "tcp", address)
	if err != nil {
		return nil, &ConnectionError{Op: "connect", Err: err}
	}
	if tlsConfig == nil {
		return conn, nil
	}
	cfg := tlsConfig.Clone()
	if cfg.ServerName == "" {
		if host, _, err := net.SplitHostPort(address); err == nil {
			cfg.ServerName = host
		}
	}
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, &ConnectionError{Op: "handshake", Err: err}
	}
	return tlsConn, nil
}

// session is one established connection. A background goroutine reads the
// stream and hands chunks to the single consumer running an exchange.
type session struct {
	conn   net.Conn
	chunks chan []byte
	// done is closed when the receive loop exits; err is valid after that.
	done chan struct{}
	err  error
	stop chan struct{}
	once sync.Once

	// Bytes received but not yet framed. Owned by the exchange in progress.
	pending []byte
}

func newSession(conn net.Conn) *session {
	s := &session{
		conn:   conn,
		chunks: make(chan []byte, chunkQueueSize),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	go s.receive()
	return s
}

func (s *session) receive() {
	defer close(s.done)
	for {
		buf := make([]byte, tcpMaxLength)
		n, err := s.conn.Read(buf)
		if n > 0 {
			select {
			case s.chunks <- buf[:n]:
			case <-s.stop:
				s.err = ErrConnectionClosed
				return
			}
		}
		if err != nil {
			select {
			case <-s.stop:
				s.err = ErrConnectionClosed
			default:
				s.err = &ConnectionError{Op: "receive", Err: err}
			}
			return
		}
	}
}

// send writes the whole frame before deadline.
func (s *session) send(aduRequest []byte, deadline time.Time) error {
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return &ConnectionError{Op: "send", Err: err}
	}
	if _, err := s.conn.Write(aduRequest); err != nil {
		select {
		case <-s.stop:
			return ErrConnectionClosed
		default:
		}
		return &ConnectionError{Op: "send", Err: err}
	}
	return nil
}

// readFrame blocks until a complete frame is buffered, the timer fires, ctx
// is done or the receive loop stops.
func (s *session) readFrame(ctx context.Context, timeout <-chan time.Time) ([]byte, error) {
	for {
		frame, err := s.nextFrame()
		if err != nil || frame != nil {
			return frame, err
		}
		select {
		case chunk := <-s.chunks:
			s.pending = append(s.pending, chunk...)
		case <-s.done:
			// Keep what the loop delivered before it stopped
			select {
			case chunk := <-s.chunks:
				s.pending = append(s.pending, chunk...)
				continue
			default:
			}
			return nil, s.err
		case <-timeout:
			return nil, ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// nextFrame cuts one frame off the pending bytes, using the MBAP length
// field. A length that cannot belong to a frame drops the buffer.
func (s *session) nextFrame() ([]byte, error) {
	if len(s.pending) < tcpHeaderSize {
		return nil, nil
	}
	// Read length, ignore transaction & protocol id (4 bytes)
	length := int(binary.BigEndian.Uint16(s.pending[4:]))
	if length < 2 || length > tcpMaxLength-tcpHeaderSize+1 {
		s.pending = nil
		return nil, fmt.Errorf("%w: length in header '%v' must be between '%v' and '%v'",
			ErrMalformedFrame, length, 2, tcpMaxLength-tcpHeaderSize+1)
	}
	// Skip unit id
	size := tcpHeaderSize - 1 + length
	if len(s.pending) < size {
		return nil, nil
	}
	frame := make([]byte, size)
	copy(frame, s.pending)
	s.pending = s.pending[size:]
	return frame, nil
}

// stopped reports whether the receive loop has exited, which happens when the
// device closes the connection or reading fails.
func (s *session) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// close shuts the connection; an exchange blocked in readFrame returns
// ErrConnectionClosed.
func (s *session) close() (err error) {
	s.once.Do(func() {
		close(s.stop)
		err = s.conn.Close()
	})
	return
}
