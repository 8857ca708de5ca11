// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbustcp

import (
	"encoding/binary"
	"fmt"
)

const (
	maxReadRegisters  = 125
	maxWriteRegisters = 123
)

// Command is a request that can be sent with Client.Execute.
type Command interface {
	// FunctionCode returns the MODBUS function code of the request.
	FunctionCode() byte
	// Validate checks the command against the protocol limits.
	Validate() error
	// data returns the request PDU data. Only valid after Validate.
	data() []byte
}

// ReadHoldingRegisters reads a contiguous block of holding registers.
//
// Request:
//
//	Function code         : 1 byte (0x03)
//	Starting address      : 2 bytes
//	Quantity of registers : 2 bytes
//
// Response:
//
//	Function code         : 1 byte (0x03)
//	Byte count            : 1 byte
//	Register value        : Nx2 bytes
type ReadHoldingRegisters struct {
	Address  uint16
	Quantity uint16
}

// FunctionCode implements Command.
func (ReadHoldingRegisters) FunctionCode() byte { return FuncCodeReadHoldingRegisters }

// Validate implements Command.
func (c ReadHoldingRegisters) Validate() error {
	if c.Quantity < 1 || c.Quantity > maxReadRegisters {
		return fmt.Errorf("%w: quantity '%v' must be between '%v' and '%v'", ErrInvalidRequest, c.Quantity, 1, maxReadRegisters)
	}
	return checkRange(c.Address, int(c.Quantity))
}

func (c ReadHoldingRegisters) data() []byte {
	return dataBlock(c.Address, c.Quantity)
}

// WriteSingleRegister writes a single holding register.
//
// Request:
//
//	Function code         : 1 byte (0x06)
//	Register address      : 2 bytes
//	Register value        : 2 bytes
//
// Response:
//
//	Function code         : 1 byte (0x06)
//	Register address      : 2 bytes
//	Register value        : 2 bytes
type WriteSingleRegister struct {
	Address uint16
	Value   uint16
}

// FunctionCode implements Command.
func (WriteSingleRegister) FunctionCode() byte { return FuncCodeWriteSingleRegister }

// Validate implements Command. Every address and value is representable.
func (WriteSingleRegister) Validate() error { return nil }

func (c WriteSingleRegister) data() []byte {
	return dataBlock(c.Address, c.Value)
}

// WriteMultipleRegisters writes a block of contiguous registers.
//
// Request:
//
//	Function code         : 1 byte (0x10)
//	Starting address      : 2 bytes
//	Quantity of registers : 2 bytes
//	Byte count            : 1 byte
//	Registers value       : Nx2 bytes
//
// Response:
//
//	Function code         : 1 byte (0x10)
//	Starting address      : 2 bytes
//	Quantity of registers : 2 bytes
type WriteMultipleRegisters struct {
	Address uint16
	Values  []uint16
}

// FunctionCode implements Command.
func (WriteMultipleRegisters) FunctionCode() byte { return FuncCodeWriteMultipleRegisters }

// Validate implements Command.
func (c WriteMultipleRegisters) Validate() error {
	if len(c.Values) < 1 || len(c.Values) > maxWriteRegisters {
		return fmt.Errorf("%w: quantity '%v' must be between '%v' and '%v'", ErrInvalidRequest, len(c.Values), 1, maxWriteRegisters)
	}
	return checkRange(c.Address, len(c.Values))
}

func (c WriteMultipleRegisters) data() []byte {
	return dataBlockSuffix(dataBlock(c.Values...), c.Address, uint16(len(c.Values)))
}

// BuildPDU validates cmd and returns its request PDU.
func BuildPDU(cmd Command) (*ProtocolDataUnit, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return &ProtocolDataUnit{
		FunctionCode: cmd.FunctionCode(),
		Data:         cmd.data(),
	}, nil
}

// checkRange ensures count registers starting at address stay addressable.
func checkRange(address uint16, count int) error {
	if int(address)+count-1 > 0xFFFF {
		return fmt.Errorf("%w: address '%v' with quantity '%v' exceeds '%v'", ErrInvalidRequest, address, count, 0xFFFF)
	}
	return nil
}

// dataBlock creates a sequence of uint16 data.
func dataBlock(value ...uint16) []byte {
	data := make([]byte, 2*len(value))
	for i, v := range value {
		binary.BigEndian.PutUint16(data[i*2:], v)
	}
	return data
}

// dataBlockSuffix creates a sequence of uint16 data and append the suffix plus its length.
func dataBlockSuffix(suffix []byte, value ...uint16) []byte {
	length := 2 * len(value)
	data := make([]byte, length+1+len(suffix))
	for i, v := range value {
		binary.BigEndian.PutUint16(data[i*2:], v)
	}
	data[length] = uint8(len(suffix))
	copy(data[length+1:], suffix)
	return data
}
