package game

import (
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestCreateRoomCodes(t *testing.T) {
	registry := NewRegistry(clockwork.NewFakeClock())

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		room := registry.Create("conn", "Owner", 10)
		if len(room.ID) != roomCodeLength {
			t.Fatalf("code %q has wrong length", room.ID)
		}
		for _, c := range room.ID {
			if !strings.ContainsRune(roomCodeAlphabet, c) {
				t.Fatalf("code %q contains %q outside the alphabet", room.ID, c)
			}
		}
		if seen[room.ID] {
			t.Fatalf("duplicate code %q inserted", room.ID)
		}
		seen[room.ID] = true
	}
	if registry.Len() != 100 {
		t.Fatalf("expected 100 rooms, got %d", registry.Len())
	}
}

func TestRegistryGetRemove(t *testing.T) {
	registry := NewRegistry(clockwork.NewFakeClock())

	room := registry.Create("conn", "Owner", 10)
	if got, ok := registry.Get(room.ID); !ok || got != room {
		t.Fatal("expected to find created room")
	}

	registry.Remove(room.ID)
	if _, ok := registry.Get(room.ID); ok {
		t.Fatal("expected room to be gone after Remove")
	}
}

func TestSweepEvictsIdleAndEndedRooms(t *testing.T) {
	clock := clockwork.NewFakeClock()
	registry := NewRegistry(clock)

	idle := registry.Create("conn-1", "Idle", 10)
	ended := registry.Create("conn-2", "Done", 10)
	ended.mu.Lock()
	ended.State = StateEnded
	ended.mu.Unlock()

	clock.Advance(30 * time.Minute)
	fresh := registry.Create("conn-3", "Fresh", 10)

	if n := registry.Sweep(time.Hour); n != 1 {
		t.Fatalf("expected only the ended room evicted, got %d", n)
	}
	if _, ok := registry.Get(ended.ID); ok {
		t.Fatal("ended room survived sweep")
	}

	clock.Advance(45 * time.Minute)
	if n := registry.Sweep(time.Hour); n != 1 {
		t.Fatalf("expected only the idle room evicted, got %d", n)
	}
	if _, ok := registry.Get(idle.ID); ok {
		t.Fatal("idle room survived sweep")
	}
	if _, ok := registry.Get(fresh.ID); !ok {
		t.Fatal("fresh room should survive sweep")
	}
}
