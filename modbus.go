// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

/*
Package modbustcp provides a client for MODBUS TCP.

A Client owns one connection to a remote device and runs at most one
request/response exchange at a time. Holding registers can be read and
written; device exception responses are returned as *Fault.
*/
package modbustcp

const (
	// FuncCodeReadHoldingRegisters 16-bit wise access
	FuncCodeReadHoldingRegisters = 3
	// FuncCodeWriteSingleRegister 16-bit wise access
	FuncCodeWriteSingleRegister = 6
	// FuncCodeWriteMultipleRegisters 16-bit wise access
	FuncCodeWriteMultipleRegisters = 16

	// exceptionBit is set in the function code of an exception response.
	exceptionBit = 0x80
)

const (
	// ExceptionCodeIllegalFunction error code
	ExceptionCodeIllegalFunction = 1
	// ExceptionCodeIllegalDataAddress error code
	ExceptionCodeIllegalDataAddress = 2
	// ExceptionCodeIllegalDataValue error code
	ExceptionCodeIllegalDataValue = 3
	// ExceptionCodeSlaveDeviceFailure error code
	ExceptionCodeSlaveDeviceFailure = 4
	// ExceptionCodeAcknowledge error code
	ExceptionCodeAcknowledge = 5
	// ExceptionCodeSlaveDeviceBusy error code
	ExceptionCodeSlaveDeviceBusy = 6
	// ExceptionCodeGatewayPathUnavailable error code
	ExceptionCodeGatewayPathUnavailable = 10
)

// supportedFunction reports whether code (exception bit stripped) is one
// this client knows how to build and interpret.
func supportedFunction(code byte) bool {
	switch code &^ exceptionBit {
	case FuncCodeReadHoldingRegisters,
		FuncCodeWriteSingleRegister,
		FuncCodeWriteMultipleRegisters:
		return true
	}
	return false
}

// functionName returns the short name used in log lines.
func functionName(code byte) string {
	switch code &^ exceptionBit {
	case FuncCodeReadHoldingRegisters:
		return "Read Holding Registers (FC03)"
	case FuncCodeWriteSingleRegister:
		return "Write Single Register (FC06)"
	case FuncCodeWriteMultipleRegisters:
		return "Write Multiple Registers (FC16)"
	}
	return "Unknown Function"
}

// Logger is the interface to the required logging functions.
type Logger interface {
	Printf(format string, v ...interface{})
}
