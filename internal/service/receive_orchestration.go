package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/parityline/transfer/internal/chunker"
	"github.com/parityline/transfer/internal/manager"
	"github.com/parityline/transfer/internal/observability"
	"github.com/parityline/transfer/internal/transport"
)

// ReceiveWithOrchestration drives a receiver's whole chunk-assembly phase:
// it builds the session bitmap, starts the chunk-stream acceptor and the
// control-update listener, and blocks until the transfer reaches a
// terminal state (assembled and verified, or failed) or ctx is canceled.
// Mirrors SendWithOrchestration's shape on the accepting side.
func ReceiveWithOrchestration(
	ctx context.Context,
	conn *transport.QUICConnection,
	manifest *chunker.Manifest,
	sessionID uuid.UUID,
	outputPath string,
	onChunkReceived func(int64),
	logger *observability.Logger,
	metrics *observability.Metrics,
) error {
	bitmap := manager.NewChunkBitmap(sessionID.String(), int64(manifest.TotalChunks))

	recv := transport.NewChunkReceiver(
		conn.GetConnection(),
		sessionID,
		outputPath,
		int64(manifest.ChunkSize),
		onChunkReceived,
		conn.GetControlStream(),
		manifest,
		bitmap,
		logger,
		metrics,
	)

	recv.ServeControlUpdates()

	go func() {
		if err := recv.AcceptAndProcessStreams(); err != nil {
			if logger != nil {
				logger.WithSession(sessionID.String()).Warn(fmt.Sprintf("chunk stream acceptor stopped: %v", err))
			}
		}
	}()

	select {
	case <-recv.Done():
		if verified, err := recv.Result(); !verified {
			return fmt.Errorf("transfer failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
