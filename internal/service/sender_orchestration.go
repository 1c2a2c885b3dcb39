package service

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/parityline/transfer/internal/chunker"
	"github.com/parityline/transfer/internal/transport"
)

// SendWithOrchestration drives a sender's whole chunk-transmission phase:
// priority-routed worker pools, autotuning, runtime FEC adaptation, and a
// CAS preflight so chunks the receiver already holds are skipped. Called
// after the manifest has been negotiated and the control stream is
// established.
func SendWithOrchestration(ctx context.Context, conn *transport.QUICConnection, manifest *chunker.Manifest, sessionID uuid.UUID, filePath string, onChunkSent func(int64)) error {
	onFailed := func(idx int64, err error) {
		q := GetDTNQueue()
		if q == nil {
			return
		}
		expire := time.Now().Add(1 * time.Hour).Unix()
		_ = q.Enqueue(&DTNItem{SessionID: manifest.TransferID, ChunkIdx: idx, Priority: 1, ExpireAt: expire})
	}

	var sentCount, lostCount int64
	wrappedOnChunkSent := func(idx int64) {
		atomic.AddInt64(&sentCount, 1)
		onChunkSent(idx)
	}

	profile := transport.ProfileForDevice(manifest.SenderDeviceClass, manifest)
	orch := transport.NewOrchestratedSender(conn, profile, sessionID, filePath, int64(manifest.ChunkSize), wrappedOnChunkSent, onFailed)
	defer orch.Close()

	auto := transport.NewAutoTuner(orch, manifest)
	orch.SetPacer(auto.Limiter())
	auto.Start()
	defer auto.Stop()

	var fecCtl *transport.FECController
	if manifest.FEC != nil {
		fecCtl = transport.NewFECController(manifest.FEC.K, manifest.FEC.R, func(k, r int, reason string) {
			if conn.GetControlStream() != nil {
				_ = conn.GetControlStream().SendFECUpdate(&transport.FECUpdateMessage{
					SessionID: manifest.TransferID,
					K:         k,
					R:         r,
					Reason:    reason,
					Timestamp: time.Now().Unix(),
				})
			}
		})
	}

	// Periodically derive a loss-rate sample from requested resends vs
	// chunks sent so far and feed both the autotuner and the FEC
	// controller, so pacing and parity widen together under loss.
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sent := atomic.LoadInt64(&sentCount)
				lost := atomic.LoadInt64(&lostCount)
				lossRate := 0.0
				if sent > 0 {
					lossRate = float64(lost) / float64(sent)
				}
				auto.RecordLoss(lossRate)
				if fecCtl != nil {
					fecCtl.RecordLoss(lossRate * 100)
					fecCtl.Tick()
				}
			}
		}
	}()

	have := map[int64]bool{}
	if conn.GetControlStream() != nil {
		_ = conn.GetControlStream().SendChunkHaveRequest(&transport.ChunkHaveRequest{
			SessionID:  manifest.TransferID,
			ChunkCount: manifest.TotalChunks,
		})
		if t, data, err := conn.GetControlStream().ReceiveAny(); err == nil && t == transport.MessageTypeChunkHaveResponse {
			var resp transport.ChunkHaveResponse
			if json.Unmarshal(data, &resp) == nil {
				var decomp transport.ChunkRangeCompressor
				idxs, _ := decomp.Decompress(resp.HaveRanges)
				for _, id := range idxs {
					have[id] = true
				}
			}
		}
	}

	// Spawn a control listener to retransmit chunks the receiver requests.
	go func() {
		for {
			if conn.GetControlStream() == nil {
				return
			}
			t, data, err := conn.GetControlStream().ReceiveAny()
			if err != nil {
				return
			}
			if t == transport.MessageTypeRequestResend {
				var req transport.RequestResendMessage
				if json.Unmarshal(data, &req) == nil {
					var decomp transport.ChunkRangeCompressor
					idxs, _ := decomp.Decompress(req.MissingRanges)
					atomic.AddInt64(&lostCount, int64(len(idxs)))
					for _, id := range idxs {
						_ = orch.EnqueueBulk(id)
					}
				}
			}
		}
	}()

	const previewChunks = 3
	for i := int64(0); i < previewChunks && i < int64(manifest.TotalChunks); i++ {
		if have[i] {
			continue
		}
		_ = orch.EnqueuePreview(i)
	}
	for i := int64(previewChunks); i < int64(manifest.TotalChunks); i++ {
		if have[i] {
			continue
		}
		_ = orch.EnqueueBulk(i)
	}
	return nil
}
