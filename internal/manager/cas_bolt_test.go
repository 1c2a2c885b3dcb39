package manager

import (
	"path/filepath"
	"testing"
	"time"
)

func TestBoltCAS_PutAndHasChunk(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cas.db")
	cas, err := OpenBoltCAS(dbPath)
	if err != nil {
		t.Fatalf("OpenBoltCAS failed: %v", err)
	}
	defer cas.Close()

	hash := "deadbeef"
	if cas.HasChunk(hash) {
		t.Error("expected chunk not present before PutChunk")
	}

	if err := cas.PutChunk(hash, 1024); err != nil {
		t.Fatalf("PutChunk failed: %v", err)
	}
	if !cas.HasChunk(hash) {
		t.Error("expected chunk present after PutChunk")
	}
}

func TestBoltCAS_GC(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cas.db")
	cas, err := OpenBoltCAS(dbPath)
	if err != nil {
		t.Fatalf("OpenBoltCAS failed: %v", err)
	}
	defer cas.Close()

	if err := cas.PutChunk("stale", 10); err != nil {
		t.Fatalf("PutChunk failed: %v", err)
	}

	removed, err := cas.GC(-1 * time.Second)
	if err != nil {
		t.Fatalf("GC failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 entry removed, got %d", removed)
	}
	if cas.HasChunk("stale") {
		t.Error("expected stale entry to be gone after GC")
	}
}

func TestBoltCAS_GCKeepsFreshEntries(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cas.db")
	cas, err := OpenBoltCAS(dbPath)
	if err != nil {
		t.Fatalf("OpenBoltCAS failed: %v", err)
	}
	defer cas.Close()

	if err := cas.PutChunk("fresh", 10); err != nil {
		t.Fatalf("PutChunk failed: %v", err)
	}

	removed, err := cas.GC(time.Hour)
	if err != nil {
		t.Fatalf("GC failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("expected 0 entries removed, got %d", removed)
	}
	if !cas.HasChunk("fresh") {
		t.Error("expected fresh entry to survive GC")
	}
}
