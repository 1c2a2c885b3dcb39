package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestSelectChunkSize(t *testing.T) {
	cases := []struct {
		name     string
		fileSize int64
		device   DeviceClass
		want     int
	}{
		{"mobile below threshold", 10 * mib, DeviceMobile, chunkSizeMobileSmall},
		{"mobile at threshold", mobileSizeThreshold, DeviceMobile, chunkSizeMobileLarge},
		{"tablet below threshold", mobileSizeThreshold - 1, DeviceTablet, chunkSizeMobileSmall},
		{"tablet above threshold", mobileSizeThreshold + 1, DeviceTablet, chunkSizeMobileLarge},
		{"desktop tiny", 10 * mib, DeviceDesktop, chunkSizeDesktopTiny},
		{"desktop at tiny threshold", desktopTinyThreshold, DeviceDesktop, chunkSizeDesktopMid},
		{"desktop mid", 200 * mib, DeviceDesktop, chunkSizeDesktopMid},
		{"desktop at mid threshold", desktopMidThreshold, DeviceDesktop, chunkSizeDesktopBig},
		{"desktop big", 900 * mib, DeviceDesktop, chunkSizeDesktopBig},
		{"unknown device defaults to desktop table", 10 * mib, DeviceClass("unknown"), chunkSizeDesktopTiny},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := SelectChunkSize(c.fileSize, c.device)
			if got != c.want {
				t.Errorf("SelectChunkSize(%d, %s) = %d, want %d", c.fileSize, c.device, got, c.want)
			}
		})
	}
}

func TestShouldUseDurableSpool(t *testing.T) {
	cases := []struct {
		name           string
		device         DeviceClass
		fileSize       int64
		spoolAvailable bool
		want           bool
	}{
		{"mobile large file spool available", DeviceMobile, mobileSizeThreshold, true, true},
		{"mobile large file no spool", DeviceMobile, mobileSizeThreshold, false, false},
		{"mobile small file", DeviceMobile, mobileSizeThreshold - 1, true, false},
		{"desktop never spools", DeviceDesktop, 10 * desktopMidThreshold, true, false},
		{"tablet large file spool available", DeviceTablet, mobileSizeThreshold + 1, true, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ShouldUseDurableSpool(c.device, c.fileSize, c.spoolAvailable)
			if got != c.want {
				t.Errorf("ShouldUseDurableSpool(%s, %d, %v) = %v, want %v", c.device, c.fileSize, c.spoolAvailable, got, c.want)
			}
		})
	}
}

func TestSelectAckBatchSize(t *testing.T) {
	cases := []struct {
		totalChunks int
		want        int
	}{
		{1, 5},
		{19, 5},
		{20, 10},
		{500, 10},
		{1000, 10},
		{1001, 50},
		{100000, 50},
	}

	for _, c := range cases {
		got := SelectAckBatchSize(c.totalChunks)
		if got != c.want {
			t.Errorf("SelectAckBatchSize(%d) = %d, want %d", c.totalChunks, got, c.want)
		}
	}
}

func TestTotalChunks(t *testing.T) {
	cases := []struct {
		fileSize  int64
		chunkSize int
		want      int
	}{
		{0, 1024, 1},
		{1, 1024, 1},
		{1024, 1024, 1},
		{1025, 1024, 2},
		{2048, 1024, 2},
		{2049, 1024, 3},
	}

	for _, c := range cases {
		got := TotalChunks(c.fileSize, c.chunkSize)
		if got != c.want {
			t.Errorf("TotalChunks(%d, %d) = %d, want %d", c.fileSize, c.chunkSize, got, c.want)
		}
	}
}

func TestManifest_Negotiate(t *testing.T) {
	m := NewManifest("t1", "file.bin", 10*mib, "application/octet-stream", DeviceDesktop)
	proposed := m.ChunkSize

	// Receiver prefers something smaller: agreed size shrinks, chunk count recomputed.
	m.Negotiate(proposed / 2)
	if m.ChunkSize != proposed/2 {
		t.Errorf("ChunkSize = %d, want %d", m.ChunkSize, proposed/2)
	}
	if m.TotalChunks != TotalChunks(m.FileSize, proposed/2) {
		t.Errorf("TotalChunks not recomputed after negotiation")
	}
}

func TestManifest_NegotiateKeepsProposedWhenReceiverPrefersLarger(t *testing.T) {
	m := NewManifest("t1", "file.bin", 10*mib, "application/octet-stream", DeviceDesktop)
	proposed := m.ChunkSize

	m.Negotiate(proposed * 2)
	if m.ChunkSize != proposed {
		t.Errorf("ChunkSize = %d, want unchanged proposed %d", m.ChunkSize, proposed)
	}
}

func TestManifest_NegotiateIgnoresNonPositivePreference(t *testing.T) {
	m := NewManifest("t1", "file.bin", 10*mib, "application/octet-stream", DeviceDesktop)
	proposed := m.ChunkSize

	m.Negotiate(0)
	if m.ChunkSize != proposed {
		t.Errorf("ChunkSize = %d, want unchanged proposed %d", m.ChunkSize, proposed)
	}
}

func TestNewManifestAck(t *testing.T) {
	m := NewManifest("t1", "big.bin", mobileSizeThreshold+1, "application/octet-stream", DeviceMobile)
	ack := NewManifestAck(m, DeviceMobile, true)

	if ack.TransferID != m.TransferID {
		t.Errorf("TransferID mismatch")
	}
	if ack.AgreedChunkSize != m.ChunkSize {
		t.Errorf("AgreedChunkSize = %d, want %d", ack.AgreedChunkSize, m.ChunkSize)
	}
	if !ack.UseDurableSpool {
		t.Error("expected durable spool for large mobile transfer")
	}
	if ack.AckBatchSize != SelectAckBatchSize(m.TotalChunks) {
		t.Errorf("AckBatchSize = %d, want %d", ack.AckBatchSize, SelectAckBatchSize(m.TotalChunks))
	}
}

func TestComputeMerkleRoot_OddNodeDuplication(t *testing.T) {
	leaf := func(b byte) string {
		digest := sha256.Sum256([]byte{b})
		return hex.EncodeToString(digest[:])
	}
	h1, h2, h3 := leaf(1), leaf(2), leaf(3)

	rootOdd, err := ComputeMerkleRoot([]string{h1, h2, h3})
	if err != nil {
		t.Fatalf("ComputeMerkleRoot failed: %v", err)
	}
	if rootOdd == "" {
		t.Error("expected non-empty root for odd leaf count")
	}

	rootEven, err := ComputeMerkleRoot([]string{h1, h2})
	if err != nil {
		t.Fatalf("ComputeMerkleRoot failed: %v", err)
	}
	if rootOdd == rootEven {
		t.Error("odd-leaf root (with duplication) should differ from the even-leaf root")
	}
}

func TestComputeMerkleRoot_Empty(t *testing.T) {
	root, err := ComputeMerkleRoot(nil)
	if err != nil {
		t.Fatalf("ComputeMerkleRoot failed: %v", err)
	}
	if root != "" {
		t.Errorf("expected empty root for no hashes, got %q", root)
	}
}

func TestComputeMerkleRoot_RejectsInvalidHex(t *testing.T) {
	_, err := ComputeMerkleRoot([]string{"not-hex"})
	if err == nil {
		t.Error("expected error decoding invalid hex")
	}
}
