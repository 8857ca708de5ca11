// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbustcp

import "sync/atomic"

// Sequencer hands out MODBUS TCP transaction identifiers. The zero value is
// ready to use and yields 1 first.
type Sequencer struct {
	// For synchronization between messages of server & client
	transactionID atomic.Uint32
}

// Next returns the previous identifier plus one, wrapping from 0xFFFF to 0.
func (s *Sequencer) Next() uint16 {
	for {
		current := s.transactionID.Load()
		next := (current + 1) % 0x10000
		if s.transactionID.CompareAndSwap(current, next) {
			return uint16(next)
		}
	}
}

// Current returns the most recently issued identifier.
func (s *Sequencer) Current() uint16 {
	return uint16(s.transactionID.Load())
}

// Reset starts the sequence over, as on a new connection.
func (s *Sequencer) Reset() {
	s.transactionID.Store(0)
}
