// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbustcp

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTCPEncoding(t *testing.T) {
	packager := tcpPackager{transactions: &Sequencer{}}
	pdu := ProtocolDataUnit{}
	pdu.FunctionCode = 3
	pdu.Data = []byte{0, 4, 0, 3}

	adu, err := packager.Encode(&pdu)
	if err != nil {
		t.Fatal(err)
	}

	expected := []byte{0, 1, 0, 0, 0, 6, 0, 3, 0, 4, 0, 3}
	if !bytes.Equal(expected, adu) {
		t.Fatalf("Expected %v, actual %v", expected, adu)
	}
}

func TestTCPEncodingAdvancesTransaction(t *testing.T) {
	packager := tcpPackager{transactions: &Sequencer{}, UnitID: 0xFF}
	pdu := ProtocolDataUnit{FunctionCode: 3, Data: []byte{0, 4, 0, 3}}

	for want := uint16(1); want <= 3; want++ {
		adu, err := packager.Encode(&pdu)
		if err != nil {
			t.Fatal(err)
		}
		frame, err := DecodeADU(adu)
		if err != nil {
			t.Fatal(err)
		}
		if frame.Header.TransactionID != want {
			t.Fatalf("transaction id: expected %v, actual %v", want, frame.Header.TransactionID)
		}
		if frame.Header.UnitID != 0xFF {
			t.Fatalf("unit id: expected %v, actual %v", 0xFF, frame.Header.UnitID)
		}
	}
}

func TestTCPEncodingTooLarge(t *testing.T) {
	packager := tcpPackager{transactions: &Sequencer{}}
	pdu := ProtocolDataUnit{FunctionCode: 16, Data: make([]byte, pduMaxSize)}
	if _, err := packager.Encode(&pdu); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if packager.transactions.Current() != 0 {
		t.Fatalf("rejected pdu must not consume a transaction id")
	}
}

func TestTCPDecoding(t *testing.T) {
	packager := tcpPackager{}
	adu := []byte{0, 1, 0, 0, 0, 6, 17, 3, 0, 120, 0, 3}

	pdu, err := packager.Decode(adu)
	if err != nil {
		t.Fatal(err)
	}

	if pdu.FunctionCode != 3 {
		t.Fatalf("Function code: expected %v, actual %v", 3, pdu.FunctionCode)
	}
	expected := []byte{0, 120, 0, 3}
	if !bytes.Equal(expected, pdu.Data) {
		t.Fatalf("Data: expected %v, actual %v", expected, adu)
	}
}

func TestDecodeADU(t *testing.T) {
	tests := []struct {
		name    string
		adu     []byte
		want    *ApplicationDataUnit
		wantErr error
	}{
		{
			name: "read response",
			adu:  []byte{0x12, 0x34, 0, 0, 0, 5, 0xFF, 3, 2, 0xAA, 0xBB},
			want: &ApplicationDataUnit{
				Header: MBAPHeader{TransactionID: 0x1234, Length: 5, UnitID: 0xFF},
				PDU:    ProtocolDataUnit{FunctionCode: 3, Data: []byte{2, 0xAA, 0xBB}},
			},
		},
		{
			name: "exception response",
			adu:  []byte{0, 7, 0, 0, 0, 3, 1, 0x83, 2},
			want: &ApplicationDataUnit{
				Header: MBAPHeader{TransactionID: 7, Length: 3, UnitID: 1},
				PDU:    ProtocolDataUnit{FunctionCode: 0x83, Data: []byte{2}},
			},
		},
		{
			name: "length field is informational",
			adu:  []byte{0, 7, 0, 0, 0, 99, 1, 6, 0, 1, 0, 2},
			want: &ApplicationDataUnit{
				Header: MBAPHeader{TransactionID: 7, Length: 99, UnitID: 1},
				PDU:    ProtocolDataUnit{FunctionCode: 6, Data: []byte{0, 1, 0, 2}},
			},
		},
		{
			name:    "header only",
			adu:     []byte{0, 1, 0, 0, 0, 1, 0xFF},
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "empty",
			adu:     nil,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "exception without code",
			adu:     []byte{0, 1, 0, 0, 0, 2, 0xFF, 0x90},
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "read coils",
			adu:     []byte{0, 1, 0, 0, 0, 4, 0xFF, 1, 1, 0},
			wantErr: ErrUnsupportedFunction,
		},
		{
			name:    "read input registers exception",
			adu:     []byte{0, 1, 0, 0, 0, 3, 0xFF, 0x84, 1},
			wantErr: ErrUnsupportedFunction,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeADU(tt.adu)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("unexpected frame (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeADURecomputesLength(t *testing.T) {
	pdu := &ProtocolDataUnit{FunctionCode: 6, Data: []byte{0x01, 0xFF, 0x12, 0x34}}
	adu := EncodeADU(MBAPHeader{TransactionID: 9, Length: 1000, UnitID: 0xFF}, pdu)

	expected := []byte{0, 9, 0, 0, 0, 6, 0xFF, 6, 0x01, 0xFF, 0x12, 0x34}
	if !bytes.Equal(expected, adu) {
		t.Fatalf("Expected % x, actual % x", expected, adu)
	}
}

func TestVerify(t *testing.T) {
	request := []byte{0, 1, 0, 0, 0, 6, 0xFF, 3, 0, 0, 0, 1}
	tests := []struct {
		name     string
		response []byte
		wantErr  bool
	}{
		{"match", []byte{0, 1, 0, 0, 0, 5, 0xFF, 3, 2, 0, 1}, false},
		{"transaction id", []byte{0, 2, 0, 0, 0, 5, 0xFF, 3, 2, 0, 1}, true},
		{"protocol id", []byte{0, 1, 0, 1, 0, 5, 0xFF, 3, 2, 0, 1}, true},
		{"unit id", []byte{0, 1, 0, 0, 0, 5, 0x01, 3, 2, 0, 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verify(request, tt.response)
			if (err != nil) != tt.wantErr {
				t.Fatalf("verify() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrResponseLengthMismatch) {
				t.Fatalf("expected ErrResponseLengthMismatch, got %v", err)
			}
		})
	}
}

func BenchmarkTCPEncoder(b *testing.B) {
	encoder := tcpPackager{
		transactions: &Sequencer{},
		UnitID:       10,
	}
	pdu := ProtocolDataUnit{
		FunctionCode: 16,
		Data:         []byte{2, 3, 4, 5, 6, 7, 8, 9},
	}
	for i := 0; i < b.N; i++ {
		_, err := encoder.Encode(&pdu)
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkTCPDecoder(b *testing.B) {
	decoder := tcpPackager{
		UnitID: 10,
	}
	adu := []byte{0, 1, 0, 0, 0, 6, 17, 3, 0, 120, 0, 3}
	for i := 0; i < b.N; i++ {
		_, err := decoder.Decode(adu)
		if err != nil {
			b.Fatal(err)
		}
	}
}
