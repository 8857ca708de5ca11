// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbustcp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tbrandon/mbserver"
)

// startServer runs an mbserver device on a free loopback port. setup runs
// before the server starts listening.
func startServer(t *testing.T, setup func(*mbserver.Server)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	serv := mbserver.NewServer()
	serv.HoldingRegisters[100] = 0x0BAD
	serv.HoldingRegisters[101] = 0xC0DE
	if setup != nil {
		setup(serv)
	}
	require.NoError(t, serv.ListenTCP(addr))
	t.Cleanup(serv.Close)
	return addr
}

func TestIntegrationServer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	addr := startServer(t, nil)

	client := NewClient(addr, WithTimeout(2*time.Second), WithUnitID(1), WithLogger(testLogger(t)))
	t.Cleanup(func() { client.Close() })
	ctx := context.Background()

	t.Run("ReadHoldingRegisters", func(t *testing.T) {
		values, err := client.ReadHoldingRegisters(ctx, 100, 2)
		require.NoError(t, err)
		assert.Equal(t, []uint16{0x0BAD, 0xC0DE}, values)
	})

	t.Run("WriteSingleRegister", func(t *testing.T) {
		require.NoError(t, client.WriteSingleRegister(ctx, 200, 4711))

		values, err := client.ReadHoldingRegisters(ctx, 200, 1)
		require.NoError(t, err)
		assert.Equal(t, []uint16{4711}, values)
	})

	t.Run("WriteMultipleRegisters", func(t *testing.T) {
		require.NoError(t, client.WriteMultipleRegisters(ctx, 300, []uint16{0xAABB, 0xCCDD, 0xEEFF}))

		values, err := client.ReadHoldingRegisters(ctx, 299, 5)
		require.NoError(t, err)
		assert.Equal(t, []uint16{0, 0xAABB, 0xCCDD, 0xEEFF, 0}, values)
	})

	t.Run("Execute", func(t *testing.T) {
		response, err := client.Execute(ctx, WriteMultipleRegisters{Address: 400, Values: []uint16{1, 2}})
		require.NoError(t, err)
		assert.Equal(t, Ack{Address: 400, Value: 2}, response)
	})

	assert.True(t, client.IsConnected())
	assert.Equal(t, Idle, client.State())
}

func TestIntegrationServerException(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	addr := startServer(t, func(serv *mbserver.Server) {
		serv.RegisterFunctionHandler(FuncCodeWriteSingleRegister,
			func(*mbserver.Server, mbserver.Framer) ([]byte, *mbserver.Exception) {
				return []byte{}, &mbserver.SlaveDeviceBusy
			})
	})

	client := NewClient(addr, WithTimeout(2*time.Second), WithLogger(testLogger(t)))
	t.Cleanup(func() { client.Close() })

	err := client.WriteSingleRegister(context.Background(), 10, 1)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, SlaveDeviceBusy, fault.Kind())
	assert.Equal(t, byte(FuncCodeWriteSingleRegister), fault.FunctionCode)

	// the connection survives a device exception
	values, err := client.ReadHoldingRegisters(context.Background(), 100, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x0BAD}, values)
}
