// Package events defines the wire events exchanged between the game
// engine and connected clients. It is split out of the gateway so the
// game package can emit events without importing transport code.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Daniele-DelVecchio/party-song-guess/internal/music"
)

// Type identifies an outbound event.
type Type string

const (
	TypeRoomCreated     Type = "room_created"
	TypePlayerJoined    Type = "player_joined"
	TypeRoomJoined      Type = "room_joined"
	TypeError           Type = "error"
	TypeGameStarted     Type = "game_started"
	TypeGameStartFailed Type = "game_start_failed"
	TypeStartCountdown  Type = "start_countdown"
	TypeNewRound        Type = "new_round"
	TypeWrongGuess      Type = "wrong_guess"
	TypeUpdateScores    Type = "update_scores"
	TypeRoundWinner     Type = "round_winner"
	TypeRoundTimeout    Type = "round_timeout"
	TypeGameOver        Type = "game_over"
)

// CodeRoomNotFoundOrStarted is the single error code surfaced for a
// failed join. It deliberately does not distinguish a missing room from
// one that already started; clients render both the same way.
const CodeRoomNotFoundOrStarted = "ROOM_NOT_FOUND_OR_STARTED"

// Event is the envelope broadcast to clients and, optionally, relayed to
// external consumers.
type Event struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"roomId"`
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// New builds an event envelope around payload. A nil payload produces an
// event with no data, which is valid for signals like wrong_guess.
func New(roomID string, typ Type, payload any) (*Event, error) {
	ev := &Event{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Type:      typ,
		Timestamp: time.Now(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
		}
		ev.Data = data
	}
	return ev, nil
}

// PlayerStanding is one roster entry as clients see it.
type PlayerStanding struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// RoomSnapshot is the client-facing view of a room.
type RoomSnapshot struct {
	ID           string           `json:"id"`
	Players      []PlayerStanding `json:"players"`
	State        string           `json:"state"`
	CurrentRound int              `json:"currentRound"`
	TotalRounds  int              `json:"totalRounds"`
}

type ErrorPayload struct {
	Code string `json:"code"`
}

type PlayersPayload struct {
	Players []PlayerStanding `json:"players"`
}

type GameStartedPayload struct {
	TotalRounds int `json:"totalRounds"`
}

type GameStartFailedPayload struct {
	Reason string `json:"reason"`
}

type StartCountdownPayload struct {
	// Duration is in whole seconds, matching what clients render.
	Duration int `json:"duration"`
}

type NewRoundPayload struct {
	RoundNumber int    `json:"roundNumber"`
	PreviewURL  string `json:"previewUrl"`
}

type RoundWinnerPayload struct {
	Player string      `json:"player"`
	Song   music.Track `json:"song"`
}

type RoundTimeoutPayload struct {
	Song music.Track `json:"song"`
}

// ParsePayload decodes an event's data into its typed payload. Unknown
// or payload-less event types return nil.
func ParsePayload(ev *Event) (any, error) {
	switch ev.Type {
	case TypeRoomCreated, TypeRoomJoined:
		var p RoomSnapshot
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypePlayerJoined, TypeUpdateScores, TypeGameOver:
		var p PlayersPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeError:
		var p ErrorPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeGameStarted:
		var p GameStartedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeGameStartFailed:
		var p GameStartFailedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeStartCountdown:
		var p StartCountdownPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeNewRound:
		var p NewRoundPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeRoundWinner:
		var p RoundWinnerPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeRoundTimeout:
		var p RoundTimeoutPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, nil
	}
}
