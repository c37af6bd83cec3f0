package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nvarga/daq-gateway/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"frame_rx", snap.FrameRx,
					"frame_tx", snap.FrameTx,
					"crc_mismatch", snap.CRCMismatch,
					"malformed", snap.Malformed,
					"errors", snap.Errors,
					"packets", snap.Packets,
					"samples", snap.Samples,
					"bursts_opened", snap.BurstsOpened,
					"bursts_done", snap.BurstsDone,
					"bursts_evicted", snap.BurstsEvicted,
					"fanout_conns", snap.FanoutConns,
					"fanout_dropped", snap.FanoutDropped,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
