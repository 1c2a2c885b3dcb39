package transport

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/parityline/transfer/internal/quicutil"
)

// newLoopbackControlStreams spins up a real QUIC listener and dialer on
// loopback and returns a pair of connected control streams, one per side.
func newLoopbackControlStreams(t *testing.T) (client, server *ControlStream, closeAll func()) {
	t.Helper()

	certPEM, keyPEM, err := quicutil.GenerateSelfSignedCert()
	if err != nil {
		t.Fatalf("GenerateSelfSignedCert failed: %v", err)
	}
	serverTLS, err := quicutil.MakeTLSConfig(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("MakeTLSConfig failed: %v", err)
	}

	listener, err := ListenQUIC("127.0.0.1:0", serverTLS)
	if err != nil {
		t.Fatalf("ListenQUIC failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

	type acceptResult struct {
		conn *QUICConnection
		err  error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		conn, err := listener.Accept(ctx)
		acceptCh <- acceptResult{conn, err}
	}()

	clientConn, err := DialQUIC(ctx, listener.Addr(), quicutil.MakeClientTLSConfig())
	if err != nil {
		cancel()
		t.Fatalf("DialQUIC failed: %v", err)
	}

	res := <-acceptCh
	if res.err != nil {
		cancel()
		t.Fatalf("Accept failed: %v", res.err)
	}
	serverConn := res.conn

	clientStream, err := clientConn.OpenControlStream(ctx)
	if err != nil {
		cancel()
		t.Fatalf("OpenControlStream failed: %v", err)
	}
	serverStream, err := serverConn.AcceptControlStream(ctx)
	if err != nil {
		cancel()
		t.Fatalf("AcceptControlStream failed: %v", err)
	}

	return clientStream, serverStream, func() {
		cancel()
		clientConn.Close()
		serverConn.Close()
		listener.Close()
	}
}

func TestControlStream_TransferManifestRoundTrip(t *testing.T) {
	client, server, closeAll := newLoopbackControlStreams(t)
	defer closeAll()

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	manifestJSON := []byte(`{"transferId":"t1","fileName":"f.bin"}`)

	go func() {
		client.SendTransferManifest(manifestJSON, priv)
	}()

	sm, err := server.ReceiveTransferManifest()
	if err != nil {
		t.Fatalf("ReceiveTransferManifest failed: %v", err)
	}
	if string(sm.ManifestJSON) != string(manifestJSON) {
		t.Errorf("manifest JSON mismatch")
	}
	if string(sm.PublicKey) != string(pub) {
		t.Errorf("public key mismatch")
	}
}

func TestControlStream_ChunkAckRoundTrip(t *testing.T) {
	client, server, closeAll := newLoopbackControlStreams(t)
	defer closeAll()

	ack := &ChunkAckMessage{
		SessionID:      "s1",
		ChunkRanges:    "0-4",
		LastContiguous: 4,
		TotalReceived:  5,
		Timestamp:      1234,
	}

	go func() {
		client.SendChunkAck(ack)
	}()

	got, err := server.ReceiveChunkAck()
	if err != nil {
		t.Fatalf("ReceiveChunkAck failed: %v", err)
	}
	if got.SessionID != ack.SessionID || got.LastContiguous != ack.LastContiguous {
		t.Errorf("chunk-ack mismatch: got %+v, want %+v", got, ack)
	}
}

func TestControlStream_RequestResendRoundTrip(t *testing.T) {
	client, server, closeAll := newLoopbackControlStreams(t)
	defer closeAll()

	req := &RequestResendMessage{
		SessionID:     "s1",
		MissingRanges: "7,9-10",
		Reason:        "gap detected",
		Timestamp:     5678,
	}

	go func() {
		client.SendRequestResend(req)
	}()

	got, err := server.ReceiveRequestResend()
	if err != nil {
		t.Fatalf("ReceiveRequestResend failed: %v", err)
	}
	if got.MissingRanges != req.MissingRanges {
		t.Errorf("missing ranges mismatch: got %q, want %q", got.MissingRanges, req.MissingRanges)
	}
}

func TestControlStream_TransferLifecycleMessages(t *testing.T) {
	client, server, closeAll := newLoopbackControlStreams(t)
	defer closeAll()

	go func() {
		client.SendTransferEnd("s1", 111)
		client.SendTransferComplete("s1", "deadbeef", 10, 500, 222)
		client.SendTransferFailed("s1", "hash_mismatch", "deadbeef", "beefdead", 333)
	}()

	wantTypes := []ControlMessageType{MessageTypeTransferEnd, MessageTypeTransferComplete, MessageTypeTransferFailed}
	for _, want := range wantTypes {
		msgType, msg, err := server.ReceiveTransferControl()
		if err != nil {
			t.Fatalf("ReceiveTransferControl failed: %v", err)
		}
		if msgType != want {
			t.Errorf("message type = %d, want %d", msgType, want)
		}
		if msg.SessionID != "s1" {
			t.Errorf("session ID mismatch")
		}
	}
}

func TestChunkRangeCompressor_CompressDecompress(t *testing.T) {
	c := &ChunkRangeCompressor{}
	chunks := []int64{0, 1, 2, 5, 7, 8, 9}

	compressed := c.Compress(chunks)
	got, err := c.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if len(got) != len(chunks) {
		t.Fatalf("got %d chunks, want %d", len(got), len(chunks))
	}
	for i := range chunks {
		if got[i] != chunks[i] {
			t.Errorf("chunk %d = %d, want %d", i, got[i], chunks[i])
		}
	}
}
