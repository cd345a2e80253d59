package game

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Daniele-DelVecchio/party-song-guess/internal/game/events"
	"github.com/Daniele-DelVecchio/party-song-guess/internal/music"
)

// State is a room's lifecycle stage.
type State string

const (
	StateLobby   State = "LOBBY"
	StatePlaying State = "PLAYING"
	// StateEnded is terminal; every event against an ended room is a
	// no-op, never an error.
	StateEnded State = "ENDED"
)

// Player is one roster entry. ID is the opaque connection identifier the
// gateway assigned; Score only ever grows.
type Player struct {
	ID    string
	Name  string
	Score int
}

// Room holds one isolated game session. All fields are guarded by mu;
// every handler and timer callback locks exactly one room, and rooms
// never share mutable state.
type Room struct {
	ID           string
	Players      []*Player
	State        State
	CurrentRound int
	TotalRounds  int

	// songs is fixed once the room enters PLAYING. currentSong points
	// into songs; timeout callbacks compare it by identity to detect
	// staleness.
	songs       []music.Track
	currentSong *music.Track
	roundActive bool

	// timer is the single pending lifecycle timer for this room
	// (start delay, countdown, guess window, or between-round pause).
	// It is replaced or stopped on every transition.
	timer clockwork.Timer

	createdAt  time.Time
	lastActive time.Time

	mu sync.Mutex
}

// touchLocked records activity for the idle-eviction sweeper.
func (r *Room) touchLocked(now time.Time) {
	r.lastActive = now
}

// stopTimerLocked cancels the pending lifecycle timer, if any.
func (r *Room) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Room) findPlayerLocked(id string) *Player {
	for _, p := range r.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *Room) removePlayerLocked(id string) bool {
	for i, p := range r.Players {
		if p.ID == id {
			r.Players = append(r.Players[:i], r.Players[i+1:]...)
			return true
		}
	}
	return false
}

// standingsLocked copies the roster in join order for broadcasting.
func (r *Room) standingsLocked() []events.PlayerStanding {
	standings := make([]events.PlayerStanding, len(r.Players))
	for i, p := range r.Players {
		standings[i] = events.PlayerStanding{ID: p.ID, Name: p.Name, Score: p.Score}
	}
	return standings
}

// snapshotLocked builds the client-facing view of the room.
func (r *Room) snapshotLocked() events.RoomSnapshot {
	return events.RoomSnapshot{
		ID:           r.ID,
		Players:      r.standingsLocked(),
		State:        string(r.State),
		CurrentRound: r.CurrentRound,
		TotalRounds:  r.TotalRounds,
	}
}
