package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/battleship-server/internal/metrics"
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
					"frames_rx", snap.FramesRx,
					"frames_tx", snap.FramesTx,
					"checksum_errors", snap.ChecksumErrors,
					"retransmits", snap.Retransmits,
					"duplicates", snap.Duplicates,
					"rate_limited", snap.RateLimited,
					"sessions", snap.Sessions,
					"reconnects", snap.Reconnects,
					"disconnects", snap.Disconnects,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
