// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbustcp

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Response is the outcome of one exchange: Registers, Ack or *Fault.
type Response interface {
	isResponse()
}

// Registers holds the values returned by a read.
type Registers []uint16

func (Registers) isResponse() {}

// String formats the values the way they are logged, e.g. "0xAABB 0xCCDD".
func (r Registers) String() string {
	values := make([]string, len(r))
	for i, v := range r {
		values[i] = fmt.Sprintf("0x%04X", v)
	}
	return strings.Join(values, " ")
}

// Ack confirms a write. Value is the written value for a single register
// and the register count for a multiple write.
type Ack struct {
	Address uint16
	Value   uint16
}

func (Ack) isResponse() {}

// ExceptionKind classifies a device exception code.
type ExceptionKind int

// Exception kinds reported by a device.
const (
	UnknownExceptionKind ExceptionKind = iota
	IllegalFunction
	IllegalDataAddress
	IllegalDataValue
	SlaveDeviceFailure
	Acknowledge
	SlaveDeviceBusy
	GatewayPathUnavailable
)

func (k ExceptionKind) String() string {
	switch k {
	case IllegalFunction:
		return "illegal function"
	case IllegalDataAddress:
		return "illegal data address"
	case IllegalDataValue:
		return "illegal data value"
	case SlaveDeviceFailure:
		return "slave device failure"
	case Acknowledge:
		return "acknowledge"
	case SlaveDeviceBusy:
		return "slave device busy"
	case GatewayPathUnavailable:
		return "gateway path unavailable"
	default:
		return "unknown"
	}
}

// Description explains the exception kind in the words of the protocol
// reference.
func (k ExceptionKind) Description() string {
	switch k {
	case IllegalFunction:
		return "The function code received in the query is not an allowable action for the slave."
	case IllegalDataAddress:
		return "The data address received in the query is not an allowable address for the slave."
	case IllegalDataValue:
		return "A value contained in the query data field is not an allowable value for the slave."
	case SlaveDeviceFailure:
		return "An unrecoverable error occurred while the slave was attempting to perform the requested action."
	case Acknowledge:
		return "The slave has accepted the request and is processing it, but a long duration of time is required."
	case SlaveDeviceBusy:
		return "The slave is engaged in processing a long-duration command."
	case GatewayPathUnavailable:
		return "The gateway was unable to allocate an internal communication path."
	default:
		return "The exception code is not known to this client."
	}
}

// Fault is an exception response reported by the device.
type Fault struct {
	// FunctionCode of the request, without the exception bit.
	FunctionCode  byte
	ExceptionCode byte
}

func (*Fault) isResponse() {}

// Kind maps the exception code to an ExceptionKind.
func (e *Fault) Kind() ExceptionKind {
	switch e.ExceptionCode {
	case ExceptionCodeIllegalFunction:
		return IllegalFunction
	case ExceptionCodeIllegalDataAddress:
		return IllegalDataAddress
	case ExceptionCodeIllegalDataValue:
		return IllegalDataValue
	case ExceptionCodeSlaveDeviceFailure:
		return SlaveDeviceFailure
	case ExceptionCodeAcknowledge:
		return Acknowledge
	case ExceptionCodeSlaveDeviceBusy:
		return SlaveDeviceBusy
	case ExceptionCodeGatewayPathUnavailable:
		return GatewayPathUnavailable
	}
	return UnknownExceptionKind
}

// Error converts known modbus exception code to error message.
func (e *Fault) Error() string {
	return fmt.Sprintf("modbus: exception '%v' (%s), function '%v'", e.ExceptionCode, e.Kind(), e.FunctionCode)
}

// faultFrom builds the Fault carried by an exception PDU.
func faultFrom(pdu *ProtocolDataUnit) *Fault {
	fault := &Fault{FunctionCode: pdu.FunctionCode &^ exceptionBit}
	if len(pdu.Data) > 0 {
		fault.ExceptionCode = pdu.Data[0]
	}
	return fault
}

// Interpret turns the response PDU for cmd into a Response. An exception
// response is returned as a *Fault value with a nil error.
func Interpret(cmd Command, pdu *ProtocolDataUnit) (Response, error) {
	if pdu.IsException() {
		if pdu.FunctionCode&^exceptionBit != cmd.FunctionCode() {
			return nil, fmt.Errorf("%w: exception for function '%v', request was '%v'",
				ErrResponseLengthMismatch, pdu.FunctionCode&^exceptionBit, cmd.FunctionCode())
		}
		return faultFrom(pdu), nil
	}
	if pdu.FunctionCode != cmd.FunctionCode() {
		return nil, fmt.Errorf("%w: response function '%v', request was '%v'",
			ErrResponseLengthMismatch, pdu.FunctionCode, cmd.FunctionCode())
	}
	if len(pdu.Data) == 0 {
		return nil, fmt.Errorf("%w: response data is empty", ErrResponseLengthMismatch)
	}

	switch c := cmd.(type) {
	case ReadHoldingRegisters:
		return interpretRead(c, pdu.Data)
	case WriteSingleRegister:
		return interpretEcho(pdu.Data, c.Address, c.Value, "value")
	case WriteMultipleRegisters:
		return interpretEcho(pdu.Data, c.Address, uint16(len(c.Values)), "quantity")
	}
	return nil, fmt.Errorf("%w: function code '%v'", ErrUnsupportedFunction, cmd.FunctionCode())
}

func interpretRead(c ReadHoldingRegisters, data []byte) (Response, error) {
	count := int(data[0])
	length := len(data) - 1
	if count != length {
		return nil, fmt.Errorf("%w: response data size '%v' does not match count '%v'", ErrResponseLengthMismatch, length, count)
	}
	if count%2 != 0 || count/2 != int(c.Quantity) {
		return nil, fmt.Errorf("%w: response register count '%v' does not match quantity '%v'",
			ErrResponseLengthMismatch, float64(count)/2, c.Quantity)
	}
	registers := make(Registers, count/2)
	for i := range registers {
		registers[i] = binary.BigEndian.Uint16(data[1+i*2:])
	}
	return registers, nil
}

// interpretEcho checks a write response that repeats address and value.
func interpretEcho(data []byte, address, value uint16, field string) (Response, error) {
	// Fixed response length
	if len(data) != 4 {
		return nil, fmt.Errorf("%w: response data size '%v' does not match expected '%v'", ErrResponseLengthMismatch, len(data), 4)
	}
	respValue := binary.BigEndian.Uint16(data)
	if address != respValue {
		return nil, fmt.Errorf("%w: response address '%v' does not match request '%v'", ErrResponseLengthMismatch, respValue, address)
	}
	respValue = binary.BigEndian.Uint16(data[2:])
	if value != respValue {
		return nil, fmt.Errorf("%w: response %s '%v' does not match request '%v'", ErrResponseLengthMismatch, field, respValue, value)
	}
	return Ack{Address: address, Value: value}, nil
}
