package property

import (
	"fmt"
	"sync"
	"testing"
)

func TestNewStore(t *testing.T) {
	s := NewStore()
	if s == nil {
		t.Fatal("NewStore() returned nil")
	}
	if got := len(s.Snapshot()); got != 0 {
		t.Errorf("new store has %d entries, want 0", got)
	}
}

func TestUpsertReturnsPrevious(t *testing.T) {
	s := NewStore()

	prev, ok := s.Upsert("pause", "false")
	if ok || prev != "" {
		t.Errorf("first Upsert returned (%q, %v), want (\"\", false)", prev, ok)
	}

	prev, ok = s.Upsert("pause", "true")
	if !ok || prev != "false" {
		t.Errorf("second Upsert returned (%q, %v), want (\"false\", true)", prev, ok)
	}

	got, ok := s.Get("pause")
	if !ok || got != "true" {
		t.Errorf("Get(pause) = (%q, %v), want (\"true\", true)", got, ok)
	}
}

func TestUpsertIdempotent(t *testing.T) {
	s := NewStore()
	s.Upsert("pause", "true")
	s.Upsert("pause", "true")

	snap := s.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot has %d entries, want 1", len(snap))
	}
	if snap["pause"] != "true" {
		t.Errorf("snapshot[pause] = %q, want %q", snap["pause"], "true")
	}
}

func TestGetMissing(t *testing.T) {
	s := NewStore()
	if v, ok := s.Get("nonexistent"); ok || v != "" {
		t.Errorf("Get for missing key returned (%q, %v)", v, ok)
	}
}

func TestSnapshotReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Upsert("playback-time", "42.0")

	snap := s.Snapshot()
	snap["playback-time"] = "mutated"
	snap["extra"] = "x"

	if v, _ := s.Get("playback-time"); v != "42.0" {
		t.Error("Snapshot did not return a copy; mutation leaked into store")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d after mutating snapshot, want 1", s.Len())
	}
}

func TestConcurrentUpsertAndSnapshot(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Upsert(fmt.Sprintf("p%d", n), fmt.Sprintf("%d", j))
			}
		}(i)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.Snapshot()
			}
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	if len(snap) != 8 {
		t.Fatalf("expected 8 properties, got %d", len(snap))
	}
	for k, v := range snap {
		if v != "99" {
			t.Errorf("%s = %q, want %q", k, v, "99")
		}
	}
}
