// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbustcp

import (
	"encoding/binary"
	"fmt"
)

const (
	tcpProtocolIdentifier uint16 = 0x0000

	// Modbus Application Protocol
	tcpHeaderSize = 7
	tcpMinSize    = tcpHeaderSize + 1
	tcpMaxLength  = 260
	// Function code plus data
	pduMaxSize = 253

	// DefaultUnitID addresses any unit behind the remote end.
	DefaultUnitID byte = 0xFF
)

// MBAPHeader is the MODBUS application protocol header preceding every PDU.
type MBAPHeader struct {
	TransactionID uint16
	ProtocolID    uint16
	// Length counts the unit identifier and the PDU that follow it.
	Length uint16
	UnitID byte
}

// ProtocolDataUnit (PDU) is independent of underlying communication layers.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// IsException reports whether the PDU is an exception response.
func (pdu *ProtocolDataUnit) IsException() bool {
	return pdu.FunctionCode&exceptionBit != 0
}

// ApplicationDataUnit is a complete MODBUS TCP frame.
type ApplicationDataUnit struct {
	Header MBAPHeader
	PDU    ProtocolDataUnit
}

// HeaderLength returns the value of the MBAP length field for pdu:
// unit identifier + function code + data.
func HeaderLength(pdu *ProtocolDataUnit) uint16 {
	return uint16(1 + 1 + len(pdu.Data))
}

// EncodeADU builds the wire representation of header and pdu:
//
//	Transaction identifier: 2 bytes
//	Protocol identifier: 2 bytes
//	Length: 2 bytes
//	Unit identifier: 1 byte
//	Function code: 1 byte
//	Data: n bytes
//
// The length field is always computed from pdu; header.Length is ignored.
func EncodeADU(header MBAPHeader, pdu *ProtocolDataUnit) []byte {
	adu := make([]byte, tcpHeaderSize+1+len(pdu.Data))

	binary.BigEndian.PutUint16(adu, header.TransactionID)
	binary.BigEndian.PutUint16(adu[2:], header.ProtocolID)
	binary.BigEndian.PutUint16(adu[4:], HeaderLength(pdu))
	adu[6] = header.UnitID

	adu[tcpHeaderSize] = pdu.FunctionCode
	copy(adu[tcpHeaderSize+1:], pdu.Data)
	return adu
}

// decodeHeader reads the MBAP header. len(adu) must be at least tcpHeaderSize.
func decodeHeader(adu []byte) MBAPHeader {
	return MBAPHeader{
		TransactionID: binary.BigEndian.Uint16(adu),
		ProtocolID:    binary.BigEndian.Uint16(adu[2:]),
		Length:        binary.BigEndian.Uint16(adu[4:]),
		UnitID:        adu[6],
	}
}

// DecodeADU splits a received frame into header and PDU. The length field is
// reported but not checked here; framing is done by the transport.
func DecodeADU(adu []byte) (*ApplicationDataUnit, error) {
	if len(adu) < tcpMinSize {
		return nil, fmt.Errorf("%w: frame size '%v' is less than minimum '%v'", ErrMalformedFrame, len(adu), tcpMinSize)
	}
	frame := &ApplicationDataUnit{Header: decodeHeader(adu)}
	frame.PDU.FunctionCode = adu[tcpHeaderSize]
	frame.PDU.Data = adu[tcpHeaderSize+1:]

	if !supportedFunction(frame.PDU.FunctionCode) {
		return nil, fmt.Errorf("%w: function code '%v'", ErrUnsupportedFunction, frame.PDU.FunctionCode&^exceptionBit)
	}
	// An exception carries exactly the exception code
	if frame.PDU.IsException() && len(frame.PDU.Data) < 1 {
		return nil, fmt.Errorf("%w: exception response for function '%v' has no exception code",
			ErrMalformedFrame, frame.PDU.FunctionCode&^exceptionBit)
	}
	return frame, nil
}

// tcpPackager stamps PDUs with an MBAP header for one connection.
type tcpPackager struct {
	transactions *Sequencer
	UnitID       byte
}

// Encode advances the transaction sequence and builds the frame for pdu.
func (mb *tcpPackager) Encode(pdu *ProtocolDataUnit) (adu []byte, err error) {
	if len(pdu.Data)+1 > pduMaxSize {
		err = fmt.Errorf("%w: pdu size '%v' exceeds maximum '%v'", ErrInvalidRequest, len(pdu.Data)+1, pduMaxSize)
		return
	}
	header := MBAPHeader{
		TransactionID: mb.transactions.Next(),
		ProtocolID:    tcpProtocolIdentifier,
		UnitID:        mb.UnitID,
	}
	adu = EncodeADU(header, pdu)
	return
}

// Decode extracts the PDU from a TCP frame.
func (mb *tcpPackager) Decode(adu []byte) (*ProtocolDataUnit, error) {
	frame, err := DecodeADU(adu)
	if err != nil {
		return nil, err
	}
	return &frame.PDU, nil
}

// Verify confirms protocol and unit id of a response whose transaction id
// already matched the request.
func (mb *tcpPackager) Verify(aduRequest []byte, aduResponse []byte) error {
	return verify(aduRequest, aduResponse)
}

func verify(aduRequest []byte, aduResponse []byte) (err error) {
	// Transaction id
	responseVal := binary.BigEndian.Uint16(aduResponse)
	requestVal := binary.BigEndian.Uint16(aduRequest)
	if responseVal != requestVal {
		err = fmt.Errorf("%w: response transaction id '%v' does not match request '%v'", ErrResponseLengthMismatch, responseVal, requestVal)
		return
	}
	// Protocol id
	responseVal = binary.BigEndian.Uint16(aduResponse[2:])
	requestVal = binary.BigEndian.Uint16(aduRequest[2:])
	if responseVal != requestVal {
		err = fmt.Errorf("%w: response protocol id '%v' does not match request '%v'", ErrResponseLengthMismatch, responseVal, requestVal)
		return
	}
	// Unit id (1 byte)
	if aduResponse[6] != aduRequest[6] {
		err = fmt.Errorf("%w: response unit id '%v' does not match request '%v'", ErrResponseLengthMismatch, aduResponse[6], aduRequest[6])
		return
	}
	return
}
