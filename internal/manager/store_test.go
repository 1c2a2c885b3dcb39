package manager

import (
	"testing"
	"time"
)

func TestSessionStore_AddGetUpdateDelete(t *testing.T) {
	store := NewSessionStore()
	s := NewSession("t1", "/tmp/f.bin", "f.bin", 1024, 512, DirectionSend)

	if err := store.Add(s); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := store.Add(s); err != ErrSessionAlreadyExists {
		t.Errorf("expected ErrSessionAlreadyExists, got %v", err)
	}

	got, err := store.Get("t1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != "t1" {
		t.Errorf("got wrong session")
	}

	s.State = StateTransferring
	if err := store.Update(s); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if err := store.Delete("t1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get("t1"); err != ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound after delete, got %v", err)
	}
}

func TestSessionStore_CleanupOldSessions(t *testing.T) {
	store := NewSessionStore()
	s := NewSession("old", "/tmp/f.bin", "f.bin", 1024, 512, DirectionSend)
	s.State = StateCompleted
	s.UpdateTime = time.Now().Add(-48 * time.Hour)
	store.Add(s)

	active := NewSession("active", "/tmp/g.bin", "g.bin", 1024, 512, DirectionSend)
	active.State = StateTransferring
	store.Add(active)

	removed := store.CleanupOldSessions(24 * time.Hour)
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if store.Count() != 1 {
		t.Errorf("expected 1 session remaining, got %d", store.Count())
	}
}

func TestSessionStore_ListWithFilterAndPagination(t *testing.T) {
	store := NewSessionStore()
	for i := 0; i < 5; i++ {
		s := NewSession(string(rune('a'+i)), "/tmp/f.bin", "f.bin", 1024, 512, DirectionSend)
		if i%2 == 0 {
			s.State = StateCompleted
		}
		store.Add(s)
	}

	completed := StateCompleted
	results, total := store.List(&completed, 10, 0)
	if total != 3 {
		t.Errorf("expected 3 completed sessions, got %d", total)
	}
	if len(results) != 3 {
		t.Errorf("expected 3 results, got %d", len(results))
	}

	allResults, allTotal := store.List(nil, 2, 0)
	if allTotal != 5 {
		t.Errorf("expected total 5, got %d", allTotal)
	}
	if len(allResults) != 2 {
		t.Errorf("expected page of 2, got %d", len(allResults))
	}
}
