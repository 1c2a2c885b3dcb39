package transport

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// OrchestratedSender manages per-class worker pools and control routing.
// P0 carries control-priority sends, P1 carries early chunks so a receiver
// can start assembling sooner, P2 carries the remaining bulk payload.
type OrchestratedSender struct {
	conn           *QUICConnection
	pools          map[PriorityClass]*ChunkWorkerPool
	pacer          *rate.Limiter
	bulkChunkBytes int
}

// NewOrchestratedSender creates worker pools for P0/P1/P2 according to the
// device-class transport profile.
func NewOrchestratedSender(conn *QUICConnection, profile DomainTransportProfile, sessionID uuid.UUID, filePath string, baseChunkSize int64, onChunkSent func(idx int64), onChunkFailed func(idx int64, err error)) *OrchestratedSender {
	pools := make(map[PriorityClass]*ChunkWorkerPool)
	mk := func(class PriorityClass, cfg ClassConfig) *ChunkWorkerPool {
		workers := cfg.Streams
		if workers <= 0 {
			workers = 1
		}
		chunkSize := baseChunkSize
		if cfg.ChunkBytes > 0 {
			chunkSize = int64(cfg.ChunkBytes)
		}
		p := NewChunkWorkerPool(workers, 1024, conn.GetConnection(), sessionID, filePath, chunkSize, onChunkSent, onChunkFailed)
		p.SetScheduler(conn.Scheduler(), class)
		return p
	}
	pools[PriorityP0] = mk(PriorityP0, profile.P0)
	pools[PriorityP1] = mk(PriorityP1, profile.P1)
	pools[PriorityP2] = mk(PriorityP2, profile.P2)
	for _, p := range pools {
		p.Start()
	}

	bulkChunkBytes := profile.P2.ChunkBytes
	if bulkChunkBytes <= 0 {
		bulkChunkBytes = int(baseChunkSize)
	}
	return &OrchestratedSender{conn: conn, pools: pools, bulkChunkBytes: bulkChunkBytes}
}

// SetPacer wires a token-bucket pacer (from AutoTuner) that EnqueueBulk
// consults before admitting a chunk, so autotuning's rate decision actually
// throttles bulk sends rather than only resizing the worker pool.
func (s *OrchestratedSender) SetPacer(pacer *rate.Limiter) {
	s.pacer = pacer
}

// EnqueueControl schedules a control task on P0.
func (s *OrchestratedSender) EnqueueControl(fn func(context.Context)) {
	s.conn.Scheduler().Enqueue(PriorityP0, fn)
}

// EnqueuePreview schedules a chunk index on P1 for early chunks.
func (s *OrchestratedSender) EnqueuePreview(chunkIndex int64) error {
	return s.pools[PriorityP1].EnqueueChunk(chunkIndex)
}

// EnqueueBulk paces and schedules a chunk index on P2 for bulk payload.
func (s *OrchestratedSender) EnqueueBulk(chunkIndex int64) error {
	if err := waitPacer(context.Background(), s.pacer, s.bulkChunkBytes); err != nil {
		return err
	}
	return s.pools[PriorityP2].EnqueueChunk(chunkIndex)
}

// Close stops all pools.
func (s *OrchestratedSender) Close() {
	for _, p := range s.pools {
		p.Stop()
	}
}

// Adjust updates chunk sizes and worker counts for the P1/P2 pools
// according to autotuning decisions.
func (s *OrchestratedSender) Adjust(chunkBytes int, totalStreams int) {
	if totalStreams < 2 {
		totalStreams = 2
	}
	p1 := totalStreams / 2
	p2 := totalStreams - p1
	if pool, ok := s.pools[PriorityP1]; ok {
		pool.SetChunkSize(int64(chunkBytes))
		pool.ScaleWorkers(p1)
	}
	if pool, ok := s.pools[PriorityP2]; ok {
		pool.SetChunkSize(int64(chunkBytes))
		pool.ScaleWorkers(p2)
	}
	s.bulkChunkBytes = chunkBytes
}
