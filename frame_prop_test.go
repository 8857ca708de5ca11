package modbustcp

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"
)

func commandGenerator() *rapid.Generator[Command] {
	read := rapid.Custom(func(t *rapid.T) Command {
		quantity := rapid.Uint16Range(1, maxReadRegisters).Draw(t, "quantity")
		address := rapid.Uint16Range(0, 0xFFFF-quantity+1).Draw(t, "address")
		return ReadHoldingRegisters{Address: address, Quantity: quantity}
	})
	writeSingle := rapid.Custom(func(t *rapid.T) Command {
		return WriteSingleRegister{
			Address: rapid.Uint16().Draw(t, "address"),
			Value:   rapid.Uint16().Draw(t, "value"),
		}
	})
	writeMultiple := rapid.Custom(func(t *rapid.T) Command {
		values := rapid.SliceOfN(rapid.Uint16(), 1, maxWriteRegisters).Draw(t, "values")
		address := rapid.Uint16Range(0, uint16(0xFFFF-len(values)+1)).Draw(t, "address")
		return WriteMultipleRegisters{Address: address, Values: values}
	})
	return rapid.OneOf(read, writeSingle, writeMultiple)
}

func TestTCPEncodeDecode(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		transactionID := rapid.Uint16().Draw(t, "transactionID")
		packager := &tcpPackager{
			transactions: &Sequencer{},
			UnitID:       rapid.Byte().Draw(t, "UnitID"),
		}
		packager.transactions.transactionID.Store(uint32(transactionID))

		pdu, err := BuildPDU(commandGenerator().Draw(t, "command"))
		if err != nil {
			t.Fatalf("error while building: %+v", err)
		}

		raw, err := packager.Encode(pdu)
		if err != nil {
			t.Fatalf("error while encoding: %+v", err)
		}

		frame, err := DecodeADU(raw)
		if err != nil {
			t.Fatalf("error while decoding: %+v", err)
		}

		want := MBAPHeader{
			TransactionID: transactionID + 1,
			ProtocolID:    tcpProtocolIdentifier,
			Length:        HeaderLength(pdu),
			UnitID:        packager.UnitID,
		}
		if !cmp.Equal(want, frame.Header) {
			t.Errorf("invalid header: %s", cmp.Diff(want, frame.Header))
		}
		if !cmp.Equal(pdu, &frame.PDU) {
			t.Errorf("invalid pdu: %s", cmp.Diff(pdu, &frame.PDU))
		}
	})
}

func TestEncodeADULength(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pdu := &ProtocolDataUnit{
			FunctionCode: rapid.Byte().Draw(t, "FunctionCode"),
			Data:         rapid.SliceOfN(rapid.Byte(), 0, pduMaxSize-1).Draw(t, "Data"),
		}
		header := MBAPHeader{
			TransactionID: rapid.Uint16().Draw(t, "TransactionID"),
			Length:        rapid.Uint16().Draw(t, "Length"),
		}
		raw := EncodeADU(header, pdu)
		if len(raw) != tcpHeaderSize+1+len(pdu.Data) {
			t.Fatalf("frame size %v for data size %v", len(raw), len(pdu.Data))
		}
		if got := decodeHeader(raw).Length; got != uint16(len(raw)-tcpHeaderSize+1) {
			t.Fatalf("length field %v for frame size %v", got, len(raw))
		}
	})
}
