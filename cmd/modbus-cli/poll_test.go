package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/grid-x/modbustcp"
)

type fakeReader struct {
	results []error
	calls   int
	onRead  func(call int)
}

func (r *fakeReader) ReadHoldingRegisters(ctx context.Context, address, quantity uint16) ([]uint16, error) {
	r.calls++
	if r.onRead != nil {
		r.onRead(r.calls)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.calls <= len(r.results) && r.results[r.calls-1] != nil {
		return nil, r.results[r.calls-1]
	}
	values := make([]uint16, quantity)
	for i := range values {
		values[i] = address + uint16(i)
	}
	return values, nil
}

func (r *fakeReader) WriteSingleRegister(context.Context, uint16, uint16) error {
	return modbustcp.ErrInvalidRequest
}

func (r *fakeReader) WriteMultipleRegisters(context.Context, uint16, []uint16) error {
	return modbustcp.ErrInvalidRequest
}

func testPollOptions(count int) pollOptions {
	return pollOptions{
		readOptions: readOptions{pType: "uint16", parseBigEndian: true},
		address:     7,
		quantity:    1,
		count:       count,
		interval:    time.Millisecond,
	}
}

func TestPoll(t *testing.T) {
	reader := &fakeReader{}
	var out bytes.Buffer

	err := poll(context.Background(), reader, zaptest.NewLogger(t), testPollOptions(3), &out)
	require.NoError(t, err)
	assert.Equal(t, 3, reader.calls)
	assert.Equal(t, "7\n7\n7\n", out.String())
}

func TestPollContinuesAfterFailure(t *testing.T) {
	reader := &fakeReader{results: []error{
		modbustcp.ErrTimeout,
		&modbustcp.ConnectionError{Op: "receive", Err: errors.New("EOF")},
	}}
	var out bytes.Buffer

	err := poll(context.Background(), reader, zaptest.NewLogger(t), testPollOptions(3), &out)
	require.NoError(t, err)
	assert.Equal(t, 3, reader.calls)
	assert.Equal(t, "7\n", out.String())
}

func TestPollAllFailed(t *testing.T) {
	reader := &fakeReader{results: []error{modbustcp.ErrTimeout, modbustcp.ErrTimeout}}

	err := poll(context.Background(), reader, zaptest.NewLogger(t), testPollOptions(2), &bytes.Buffer{})
	assert.ErrorIs(t, err, modbustcp.ErrTimeout)
	assert.Contains(t, err.Error(), "all 2 reads failed")
}

func TestPollUntilCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &fakeReader{onRead: func(call int) {
		if call == 5 {
			cancel()
		}
	}}
	var out bytes.Buffer

	err := poll(ctx, reader, zaptest.NewLogger(t), testPollOptions(0), &out)
	require.NoError(t, err)
	assert.Equal(t, 5, reader.calls)
	assert.Equal(t, 4, strings.Count(out.String(), "\n"))
}

func TestIsConnectionLoss(t *testing.T) {
	assert.True(t, isConnectionLoss(&modbustcp.ConnectionError{Op: "send", Err: errors.New("broken pipe")}))
	assert.True(t, isConnectionLoss(modbustcp.ErrConnectionClosed))
	assert.False(t, isConnectionLoss(modbustcp.ErrTimeout))
	assert.False(t, isConnectionLoss(&modbustcp.Fault{FunctionCode: 3, ExceptionCode: 2}))
}
