package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/grid-x/modbustcp"
)

type pollOptions struct {
	readOptions
	address  uint16
	quantity uint16
	// count of reads, 0 polls until ctx is done
	count    int
	interval time.Duration
}

// poll reads the registers every interval and writes each result to out. A
// failed read is logged and polling goes on; the client reconnects on the
// next read after a connection loss. poll fails only if no read succeeded.
func poll(ctx context.Context, client modbustcp.RegisterClient, logger *zap.Logger, opts pollOptions, out io.Writer) error {
	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	var (
		reads, failures int
		lastErr         error
	)
	for opts.count == 0 || reads < opts.count {
		if reads > 0 {
			select {
			case <-ctx.Done():
				return summarize(reads, failures, lastErr)
			case <-ticker.C:
			}
		}
		reads++

		values, err := client.ReadHoldingRegisters(ctx, opts.address, opts.quantity)
		if err != nil {
			if ctx.Err() != nil {
				return summarize(reads-1, failures, lastErr)
			}
			failures++
			lastErr = err
			logger.Warn("read failed",
				zap.Int("read", reads),
				zap.Bool("connectionLost", isConnectionLoss(err)),
				zap.Error(err),
			)
			continue
		}
		res, err := opts.format(values, opts.address)
		if err != nil {
			return err
		}
		fmt.Fprint(out, res)
	}
	return summarize(reads, failures, lastErr)
}

func summarize(reads, failures int, lastErr error) error {
	if reads > 0 && failures == reads {
		return fmt.Errorf("all %d reads failed: %w", reads, lastErr)
	}
	return nil
}
