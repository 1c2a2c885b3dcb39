package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/parityline/transfer/internal/chunker"
	"github.com/parityline/transfer/internal/config"
	"github.com/parityline/transfer/internal/manager"
	"github.com/parityline/transfer/internal/observability"
	"github.com/parityline/transfer/internal/quicutil"
	"github.com/parityline/transfer/internal/service"
	"github.com/parityline/transfer/internal/transport"
	"github.com/parityline/transfer/internal/validation"
)

func main() {
	// Parse command line flags
	quicAddr := flag.String("quic-addr", ":4433", "QUIC listener address")
	observAddr := flag.String("observ-addr", "127.0.0.1:8081", "Observability server address")
	mode := flag.String("mode", "", "Run mode (e.g., test, receive)")
	peerAddr := flag.String("peer-addr", "", "Sender address to dial (mode=receive)")
	token := flag.String("token", "", "Transfer token issued by the sender (mode=receive)")
	output := flag.String("output", "", "Output file path to assemble into (mode=receive)")
	flag.Parse()

	if err := validation.ValidateAddr(*quicAddr); err != nil {
		log.Fatalf("invalid quic-addr: %v", err)
	}
	if *mode != "receive" {
		if err := validation.ValidateAddr(*observAddr); err != nil {
			log.Fatalf("invalid observ-addr: %v", err)
		}
	}

	// Initialize observability
	logger := observability.NewLogger("transfer-daemon", "1.0.0", os.Stdout)
	// Initialize CAS backend (BoltCAS under ~/.local/share/parityline; falls back to in-memory)
	service.InitCAS()
	// Start periodic CAS GC when BoltCAS is used (24h retention, hourly interval)
	service.StartCASGCLoop(24*time.Hour, 1*time.Hour)
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker("1.0.0")
	// Init tracing if configured
	if shutdown, err := observability.InitTracing(context.Background(), "transfer-daemon"); err == nil {
		defer shutdown(context.Background())
	}

	logger.Info("transfer daemon starting...")

	// Load configuration
	cfg, err := config.LoadConfig("")
	if err != nil {
		logger.Fatal(err, "Failed to load config")
	}
	cfg.QUICAddress = *quicAddr
	// For test mode, adjust config if needed
	if *mode == "test" {
		// Test-specific config
	}

	logger.Info("Configuration loaded")
	log.Printf("  QUIC Address: %s", cfg.QUICAddress)
	log.Printf("  Chunk Size: %d bytes", cfg.ChunkSize)
	log.Printf("  Worker Count: %d", cfg.WorkerCount)

	// Initialize session store
	sessionStore := manager.NewSessionStore()
	logger.Info("Session store initialized")

	// Initialize event publisher
	eventPublisher := service.NewEventPublisher(cfg.EventBufferSize)
	log.Printf("Event publisher initialized (buffer size: %d)", cfg.EventBufferSize)

	// Initialize transfer service
	transferService, err := service.NewTransferService(
		sessionStore,
		eventPublisher,
		cfg.KeysDirectory,
		cfg.ChunkSize,
	)
	if err != nil {
		logger.Fatal(err, "Failed to initialize transfer service")
	}
	logger.Info("Transfer service initialized")

	if *mode == "receive" {
		if err := runReceiveMode(*peerAddr, *token, *output, transferService, logger, metrics); err != nil {
			logger.Fatal(err, "receive mode failed")
		}
		return
	}

	// Register health checks
	if *mode != "test" {
		healthChecker.RegisterCheck("quic_listener", observability.QUICListenerCheck(cfg.QUICAddress))
		healthChecker.RegisterCheck("keystore", observability.KeystoreCheck(true))
		healthChecker.RegisterCheck("database", observability.DatabaseCheck("./data/transfer.db"))
		healthChecker.RegisterCheck("spool_disk_space", observability.DiskSpaceCheck(cfg.KeysDirectory, 1))
	}

	// Generate self-signed TLS certificate for QUIC
	certPEM, keyPEM, err := quicutil.GenerateSelfSignedCert()
	if err != nil {
		logger.Fatal(err, "Failed to generate TLS certificate")
	}
	logger.Info("Generated self-signed TLS certificate for QUIC")

	tlsConfig, err := quicutil.MakeTLSConfig(certPEM, keyPEM)
	if err != nil {
		logger.Fatal(err, "Failed to create TLS config")
	}

	// Start QUIC listener
	quicListener, err := transport.ListenQUIC(cfg.QUICAddress, tlsConfig)
	if err != nil {
		logger.Fatal(err, "Failed to start QUIC listener")
	}
	defer quicListener.Close()

	logger.Info("QUIC listener started on " + cfg.QUICAddress)

	// Start metrics and health HTTP server
	go startObservabilityServer(*observAddr, metrics, healthChecker, logger) // exposes /metrics, /health, /debug/pprof

	// Start accepting QUIC connections in background
	ctx, cancel := context.WithCancel(context.Background())
	// Rate limiter: limit new connections per second, independent of the
	// per-transfer pacing AutoTuner drives inside each connection.
	connLimiter := rate.NewLimiter(50, 100) // 50 conn/s, burst 100
	defer cancel()

	go func() { // connection accept loop (rate-limited)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if err := connLimiter.Wait(ctx); err != nil {
					return
				}
				conn, err := quicListener.Accept(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					logger.Error(err, "Failed to accept QUIC connection")
					metrics.RecordQUICConnection(false)
					continue
				}

				logger.ConnectionEstablished(conn.GetConnection().RemoteAddr().String(), "conn-id")
				metrics.RecordQUICConnection(true)

				// Handle connection in goroutine
				go handleConnection(ctx, conn, transferService, eventPublisher, sessionStore, cfg, logger, metrics)
			}
		}
	}()

	logger.Info("transfer daemon running")
	logger.Info("Press Ctrl+C to stop")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")
	cancel()

	// Cleanup old sessions
	cleanedUp := sessionStore.CleanupOldSessions(24 * time.Hour)
	log.Printf("Cleaned up %d old sessions", cleanedUp)

	logger.Info("Daemon stopped")
}

func startObservabilityServer(addr string, metrics *observability.Metrics, health *observability.HealthChecker, logger *observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", health.Handler())
	// pprof endpoints
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	server := &http.Server{Addr: addr, Handler: mux}
	logger.Info("Observability server listening on " + addr + " (metrics, health, pprof)")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(err, "Observability server error")
	}
}

func handleConnection(
	ctx context.Context,
	conn *transport.QUICConnection,
	transferService *service.TransferService,
	eventPublisher *service.EventPublisher,
	sessionStore *manager.SessionStore,
	cfg *config.Config,
	logger *observability.Logger,
	metrics *observability.Metrics,
) {
	defer conn.Close()

	// Accept control stream and receive the signed manifest
	ctrl, err := conn.AcceptControlStream(ctx)
	if err != nil {
		logger.Error(err, "failed to accept control stream")
		return
	}
	signed, err := ctrl.ReceiveTransferManifest()
	if err != nil {
		logger.Error(err, "failed to receive manifest")
		return
	}
	logger.Info("Manifest received")
	var manifest chunker.Manifest
	if err := json.Unmarshal(signed.ManifestJSON, &manifest); err != nil {
		logger.Error(err, "failed to parse manifest JSON")
		return
	}
	// Resolve file path (using file name as placeholder)
	filePath := manifest.FileName
	sessionUUID, _ := uuid.Parse(manifest.TransferID)
	// Set up progress publishing and session updates
	var sentChunks int64 = 0
	onChunkSent := func(idx int64) {
		sentChunks++
		if sess, err := sessionStore.Get(manifest.TransferID); err == nil {
			bytes := sentChunks * int64(manifest.ChunkSize)
			sess.UpdateProgress(bytes, sentChunks)
			eventPublisher.PublishProgress(manifest.TransferID, sess.GetProgressPercent(), sess.GetTransferRate())
		}
		metrics.RecordChunkSent(int(manifest.ChunkSize))
	}
	if err := service.SendWithOrchestration(ctx, conn, &manifest, sessionUUID, filePath, onChunkSent); err != nil {
		logger.Error(err, "send orchestration failed")
		return
	}
	logger.Info("Orchestrated transfer scheduled")
}

// runReceiveMode is a one-shot client run: it accepts a token out-of-band,
// negotiates the receiving session locally, dials the sender, hands the
// negotiated manifest back over the control stream as the trigger for the
// sender to start pushing chunks, and blocks until the assembled file is
// verified or the transfer fails.
func runReceiveMode(
	peerAddr, token, output string,
	transferService *service.TransferService,
	logger *observability.Logger,
	metrics *observability.Metrics,
) error {
	if err := validation.ValidateAddr(peerAddr); err != nil {
		return err
	}
	if err := validation.ValidateStringNonEmpty(token); err != nil {
		return err
	}
	if err := validation.ValidateFilePath(output, false); err != nil {
		return err
	}

	sessionID, manifest, err := transferService.AcceptTransfer(token, output, "")
	if err != nil {
		return err
	}
	sessionUUID, err := uuid.Parse(sessionID)
	if err != nil {
		return err
	}
	logger.Info("Transfer accepted, negotiated chunk size " + fmt.Sprint(manifest.ChunkSize))

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Hour)
	defer cancel()

	conn, err := transport.DialQUIC(ctx, peerAddr, quicutil.MakeClientTLSConfig())
	if err != nil {
		return fmt.Errorf("failed to dial sender: %w", err)
	}
	defer conn.Close()

	ctrl, err := conn.OpenControlStream(ctx)
	if err != nil {
		return fmt.Errorf("failed to open control stream: %w", err)
	}

	if err := transferService.SendManifestOverControl(ctrl, manifest); err != nil {
		return fmt.Errorf("failed to send negotiated manifest: %w", err)
	}
	logger.Info("Negotiated manifest sent, waiting for chunks")

	onChunkReceived := func(idx int64) {
		metrics.RecordChunkReceived(int(manifest.ChunkSize))
	}

	if err := service.ReceiveWithOrchestration(ctx, conn, manifest, sessionUUID, output, onChunkReceived, logger, metrics); err != nil {
		return fmt.Errorf("receive orchestration failed: %w", err)
	}

	logger.Info("Transfer complete: " + output)
	return nil
}
