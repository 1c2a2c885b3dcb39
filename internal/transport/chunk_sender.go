package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/parityline/transfer/internal/chunker"
	"github.com/quic-go/quic-go"
)

var (
	ErrWorkerPoolStopped = errors.New("worker pool stopped")
)

// ChunkWorkerPool sends chunks concurrently, one QUIC stream per chunk, each
// stream carrying a single binary chunk frame (48-byte header + payload, no
// payload encryption per the transport's Non-goals).
type ChunkWorkerPool struct {
	workerCount   int
	chunkQueue    chan int64
	connection    *quic.Conn
	scheduler     *PriorityScheduler
	class         PriorityClass
	sessionID     uuid.UUID
	filePath      string
	chunkSize     int64
	framer        *chunker.Framer
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	workerCancels []context.CancelFunc
	onChunkSent   func(chunkIndex int64)
	onChunkFailed func(chunkIndex int64, err error)
}

// NewChunkWorkerPool creates a new worker pool
func NewChunkWorkerPool(
	workerCount int,
	queueDepth int,
	connection *quic.Conn,
	sessionID uuid.UUID,
	filePath string,
	chunkSize int64,
	onChunkSent func(chunkIndex int64),
	onChunkFailed func(chunkIndex int64, err error),
) *ChunkWorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	return &ChunkWorkerPool{
		workerCount:   workerCount,
		chunkQueue:    make(chan int64, queueDepth),
		connection:    connection,
		sessionID:     sessionID,
		filePath:      filePath,
		chunkSize:     chunkSize,
		framer:        chunker.NewFramer(0),
		ctx:           ctx,
		cancel:        cancel,
		onChunkSent:   onChunkSent,
		onChunkFailed: onChunkFailed,
		class:         PriorityP2,
	}
}

// Start starts the worker pool
func (p *ChunkWorkerPool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.addWorker()
	}
}

func (p *ChunkWorkerPool) addWorker() {
	p.wg.Add(1)
	wctx, wcancel := context.WithCancel(p.ctx)
	p.workerCancels = append(p.workerCancels, wcancel)
	id := len(p.workerCancels)
	go p.workerWithCtx(id, wctx)
}

// EnqueueChunk adds a chunk to the transmission queue
func (p *ChunkWorkerPool) EnqueueChunk(chunkIndex int64) error {
	select {
	case p.chunkQueue <- chunkIndex:
		return nil
	case <-p.ctx.Done():
		return ErrWorkerPoolStopped
	}
}

// Stop stops the worker pool gracefully
func (p *ChunkWorkerPool) Stop() {
	// Stop workers
	for _, c := range p.workerCancels {
		c()
	}
	close(p.chunkQueue)
	p.wg.Wait()
	p.cancel()
}

// SetScheduler wires a priority scheduler and class into the pool; workers
// enqueue sends through it instead of sending directly.
func (p *ChunkWorkerPool) SetScheduler(scheduler *PriorityScheduler, class PriorityClass) {
	p.scheduler = scheduler
	p.class = class
}

// SetChunkSize updates the chunk size used by workers
func (p *ChunkWorkerPool) SetChunkSize(bytes int64) {
	if bytes > 0 {
		p.chunkSize = bytes
	}
}

// ScaleWorkers adjusts the number of active workers. It can scale up or down.
func (p *ChunkWorkerPool) ScaleWorkers(target int) {
	if target <= 0 {
		target = 1
	}
	// Scale up
	for len(p.workerCancels) < target {
		p.addWorker()
	}
	// Scale down
	for len(p.workerCancels) > target {
		idx := len(p.workerCancels) - 1
		p.workerCancels[idx]()
		p.workerCancels = p.workerCancels[:idx]
	}
}

// worker processes chunks from the queue
func (p *ChunkWorkerPool) workerWithCtx(workerID int, wctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case chunkIndex, ok := <-p.chunkQueue:
			if !ok {
				// Queue closed, worker exits
				return
			}

			// If a scheduler is present, enqueue by priority class
			if p.scheduler != nil {
				ci := chunkIndex
				p.scheduler.Enqueue(p.class, func(ctx context.Context) {
					if err := p.sendChunk(ci); err != nil {
						fmt.Printf("Worker %d: failed to send chunk %d: %v\n", workerID, ci, err)
						if p.onChunkFailed != nil {
							p.onChunkFailed(ci, err)
						}
						return
					}
					if p.onChunkSent != nil {
						p.onChunkSent(ci)
					}
				})
				continue
			}

			if err := p.sendChunk(chunkIndex); err != nil {
				// Log error and enqueue DTN retry via callback
				fmt.Printf("Worker %d: failed to send chunk %d: %v\n", workerID, chunkIndex, err)
				if p.onChunkFailed != nil {
					p.onChunkFailed(chunkIndex, err)
				}
				continue
			}

			// Notify chunk sent
			if p.onChunkSent != nil {
				p.onChunkSent(chunkIndex)
			}

		case <-p.ctx.Done():
			return
		case <-wctx.Done():
			return
		}
	}
}

// sendChunk sends a single chunk over a QUIC stream as one binary frame.
func (p *ChunkWorkerPool) sendChunk(chunkIndex int64) error {
	stream, err := p.connection.OpenStreamSync(p.ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	chunk, err := chunker.ReadChunk(p.filePath, int(chunkIndex), int(p.chunkSize))
	if err != nil {
		return err
	}

	header := chunker.Header{
		Sequence: uint32(chunk.Sequence),
		Offset:   chunk.Offset,
		Size:     uint32(chunk.Size),
		Hash:     chunk.Hash,
	}
	frame, err := p.framer.Encode(header, chunk.Payload)
	if err != nil {
		return err
	}

	_, err = stream.Write(frame)
	return err
}
