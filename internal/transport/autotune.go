package transport

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/parityline/transfer/internal/chunker"
)

// clampChunkBytes clamps v to [256KiB, 8MiB] and rounds it up to the next
// 256KiB multiple.
func clampChunkBytes(v int) int {
	if v < 256*1024 {
		v = 256 * 1024
	}
	if v > 8*1024*1024 {
		v = 8 * 1024 * 1024
	}
	rem := v % (256 * 1024)
	if rem != 0 {
		v = v - rem + (256 * 1024)
	}
	return v
}

// AutoTuner periodically adjusts the bulk worker pool's stream count and
// chunk size, and paces bulk sends through a token bucket
// (golang.org/x/time/rate) so a burst of resends or a newly-opened
// connection doesn't saturate the link before loss feedback catches up.
// RecordLoss lets the sender's control-stream loop feed live loss signal
// in; absent that, AutoTuner holds its starting estimate.
type AutoTuner struct {
	orch     *OrchestratedSender
	manifest *chunker.Manifest
	limiter  *rate.Limiter
	quit     chan struct{}

	lossRate float64
}

// NewAutoTuner creates an AutoTuner seeded with a conservative pacing rate.
func NewAutoTuner(orch *OrchestratedSender, manifest *chunker.Manifest) *AutoTuner {
	burst := manifest.ChunkSize * 4
	if burst <= 0 {
		burst = 1 << 20
	}
	return &AutoTuner{
		orch:     orch,
		manifest: manifest,
		limiter:  rate.NewLimiter(4*1024*1024, burst),
		quit:     make(chan struct{}),
	}
}

// Limiter returns the pacing token bucket; OrchestratedSender.EnqueueBulk
// consults it before handing a chunk to a worker pool.
func (a *AutoTuner) Limiter() *rate.Limiter {
	return a.limiter
}

// RecordLoss folds a freshly sampled loss rate into the tuner's estimate
// via an EWMA that gives the new sample a weight of 0.2 (fec.AdaptivePolicy
// uses the same EWMA shape with a weight of 0.3).
func (a *AutoTuner) RecordLoss(sampledLossRate float64) {
	const alpha = 0.2
	a.lossRate = alpha*sampledLossRate + (1-alpha)*a.lossRate
}

// Start runs an initial low-rate probe phase, then periodically retunes
// streams and pacing from the loss estimate.
func (a *AutoTuner) Start() {
	go func() {
		probeUntil := time.Now().Add(5 * time.Second)
		for time.Now().Before(probeUntil) {
			a.orch.Adjust(256*1024, 8)
			time.Sleep(500 * time.Millisecond)
		}

		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-a.quit:
				return
			case <-ticker.C:
				a.tune()
			}
		}
	}()
}

// tune widens streams and the pacing rate when loss is low, and narrows
// both when loss climbs, rather than waiting for FEC/resend alone to
// absorb it.
func (a *AutoTuner) tune() {
	streams := 8
	bytesPerSec := rate.Limit(4 * 1024 * 1024)

	switch {
	case a.lossRate > 0.10:
		streams = 4
		bytesPerSec = 1 * 1024 * 1024
	case a.lossRate > 0.03:
		streams = 6
		bytesPerSec = 2 * 1024 * 1024
	case a.lossRate < 0.005:
		streams = 16
		bytesPerSec = 16 * 1024 * 1024
	}

	chunkBytes := clampChunkBytes(a.manifest.ChunkSize)
	a.orch.Adjust(chunkBytes, streams)
	a.limiter.SetLimit(bytesPerSec)
}

func (a *AutoTuner) Stop() { close(a.quit) }

// waitPacer blocks until the limiter admits n bytes, or ctx is done. A nil
// limiter never blocks.
func waitPacer(ctx context.Context, limiter *rate.Limiter, n int) error {
	if limiter == nil {
		return nil
	}
	return limiter.WaitN(ctx, n)
}
