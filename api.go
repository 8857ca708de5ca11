// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbustcp

import "context"

// RegisterClient declares the holding register access of a MODBUS client.
type RegisterClient interface {
	// ReadHoldingRegisters reads the contents of a contiguous block of
	// holding registers (1 to 125) in a remote device and returns the
	// register values.
	ReadHoldingRegisters(ctx context.Context, address, quantity uint16) (results []uint16, err error)
	// WriteSingleRegister writes a single holding register in a remote
	// device.
	WriteSingleRegister(ctx context.Context, address, value uint16) error
	// WriteMultipleRegisters writes a block of contiguous registers
	// (1 to 123 registers) in a remote device.
	WriteMultipleRegisters(ctx context.Context, address uint16, values []uint16) error
}

var _ RegisterClient = (*Client)(nil)
