package game

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// roomCodeLength keeps codes short enough to read out loud.
const roomCodeLength = 5

// roomCodeAlphabet drops easily confused characters (0/O, 1/I/L).
const roomCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// Registry owns every live room. Nothing else holds a *Room beyond the
// scope of a single handler invocation.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	clock clockwork.Clock
}

// NewRegistry returns an empty registry using the given clock for room
// timestamps and eviction decisions.
func NewRegistry(clock clockwork.Clock) *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		clock: clock,
	}
}

// Create inserts a fresh room with the owner already seated at score 0.
// The code is re-rolled until it does not collide with a live room.
func (r *Registry) Create(ownerID, ownerName string, totalRounds int) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	var code string
	for {
		code = newRoomCode(roomCodeLength)
		if _, exists := r.rooms[code]; !exists {
			break
		}
	}

	now := r.clock.Now()
	room := &Room{
		ID:          code,
		Players:     []*Player{{ID: ownerID, Name: ownerName}},
		State:       StateLobby,
		TotalRounds: totalRounds,
		createdAt:   now,
		lastActive:  now,
	}
	r.rooms[code] = room
	return room
}

// Get looks up a room by code.
func (r *Registry) Get(id string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	return room, ok
}

// Remove evicts a room. Stopping its timer is the caller's job.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, id)
}

// Len reports the number of live rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Sweep evicts ended rooms, empty rooms, and rooms idle longer than
// idleTTL, returning how many were removed. It never touches a room
// mid-round bookkeeping beyond stopping its pending timer.
func (r *Registry) Sweep(idleTTL time.Duration) int {
	r.mu.RLock()
	candidates := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		candidates = append(candidates, room)
	}
	r.mu.RUnlock()

	now := r.clock.Now()
	evicted := 0
	for _, room := range candidates {
		room.mu.Lock()
		expired := room.State == StateEnded ||
			len(room.Players) == 0 ||
			now.Sub(room.lastActive) > idleTTL
		if expired {
			room.stopTimerLocked()
			room.State = StateEnded
		}
		room.mu.Unlock()

		if expired {
			r.Remove(room.ID)
			evicted++
			log.Info().Str("room_id", room.ID).Msg("evicted room")
		}
	}
	return evicted
}

// RunJanitor sweeps on an interval until ctx is cancelled.
func (r *Registry) RunJanitor(ctx context.Context, interval, idleTTL time.Duration) {
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", interval).
		Dur("idle_ttl", idleTTL).
		Msg("room janitor started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("room janitor shutting down")
			return
		case <-ticker.Chan():
			if n := r.Sweep(idleTTL); n > 0 {
				log.Info().Int("evicted", n).Int("remaining", r.Len()).Msg("sweep complete")
			}
		}
	}
}

// newRoomCode draws n unbiased characters from roomCodeAlphabet.
func newRoomCode(n int) string {
	const maxByte = byte(255 - (256 % len(roomCodeAlphabet)))

	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for {
		if _, err := rand.Read(buf); err != nil {
			panic(err)
		}
		for _, b := range buf {
			if b > maxByte {
				continue
			}
			out = append(out, roomCodeAlphabet[int(b)%len(roomCodeAlphabet)])
			if len(out) == n {
				return string(out)
			}
		}
	}
}
