package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Daniele-DelVecchio/party-song-guess/internal/game"
	"github.com/Daniele-DelVecchio/party-song-guess/internal/game/events"
)

// ClientMessage is the inbound envelope: {"type": ..., "data": {...}}.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type createRoomPayload struct {
	PlayerName  string          `json:"playerName"`
	TotalRounds json.RawMessage `json:"totalRounds"`
}

type joinRoomPayload struct {
	RoomID     string `json:"roomId"`
	PlayerName string `json:"playerName"`
}

type startGamePayload struct {
	RoomID     string          `json:"roomId"`
	Genre      string          `json:"genre"`
	Genres     []string        `json:"genres"`
	Decade     string          `json:"decade"`
	Rounds     json.RawMessage `json:"rounds"`
	Language   string          `json:"language"`
	Difficulty string          `json:"difficulty"`
}

type submitGuessPayload struct {
	RoomID string `json:"roomId"`
	Guess  string `json:"guess"`
}

// dispatch routes one inbound client message to the game service.
func (cm *ConnectionManager) dispatch(conn *Connection, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", conn.ID).
			Msg("discarding malformed client message")
		return
	}

	switch msg.Type {
	case "create_room":
		cm.handleCreateRoom(conn, msg.Data)
	case "join_room":
		cm.handleJoinRoom(conn, msg.Data)
	case "start_game":
		cm.handleStartGame(conn, msg.Data)
	case "submit_guess":
		cm.handleSubmitGuess(conn, msg.Data)
	default:
		log.Warn().
			Str("connection_id", conn.ID).
			Str("type", msg.Type).
			Msg("unknown client message type")
	}
}

func (cm *ConnectionManager) handleCreateRoom(conn *Connection, data json.RawMessage) {
	var p createRoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("connection_id", conn.ID).Msg("bad create_room payload")
		return
	}
	if cm.connRoom(conn) != "" {
		log.Warn().Str("connection_id", conn.ID).Msg("connection already in a room, ignoring create_room")
		return
	}

	snap := cm.game.CreateRoom(conn.ID, p.PlayerName, rawScalar(p.TotalRounds))
	cm.joinRoomPool(conn, snap.ID)

	ev, err := events.New(snap.ID, events.TypeRoomCreated, snap)
	if err != nil {
		log.Error().Err(err).Msg("failed to build room_created event")
		return
	}
	cm.sendDirect(conn, ev)
}

func (cm *ConnectionManager) handleJoinRoom(conn *Connection, data json.RawMessage) {
	var p joinRoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("connection_id", conn.ID).Msg("bad join_room payload")
		return
	}
	if cm.connRoom(conn) != "" {
		log.Warn().Str("connection_id", conn.ID).Msg("connection already in a room, ignoring join_room")
		return
	}

	snap, err := cm.game.JoinRoom(p.RoomID, conn.ID, p.PlayerName)
	if err != nil {
		code := events.CodeRoomNotFoundOrStarted
		if !errors.Is(err, game.ErrRoomUnavailable) {
			log.Error().Err(err).Str("room_id", p.RoomID).Msg("join failed")
		}
		if ev, evErr := events.New(p.RoomID, events.TypeError, events.ErrorPayload{Code: code}); evErr == nil {
			cm.sendDirect(conn, ev)
		}
		return
	}

	// Register before broadcasting so the joiner sees the roster update
	// too, then confirm the join directly.
	cm.joinRoomPool(conn, snap.ID)
	if ev, evErr := events.New(snap.ID, events.TypePlayerJoined, events.PlayersPayload{Players: snap.Players}); evErr == nil {
		cm.ToRoom(snap.ID, ev)
	}
	if ev, evErr := events.New(snap.ID, events.TypeRoomJoined, snap); evErr == nil {
		cm.sendDirect(conn, ev)
	}
}

func (cm *ConnectionManager) handleStartGame(conn *Connection, data json.RawMessage) {
	var p startGamePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("connection_id", conn.ID).Msg("bad start_game payload")
		return
	}

	// The track fetch blocks; keep the read pump free.
	go cm.game.StartGame(context.Background(), p.RoomID, game.StartParams{
		Rounds:     rawScalar(p.Rounds),
		Genre:      p.Genre,
		Genres:     p.Genres,
		Decade:     p.Decade,
		Language:   p.Language,
		Difficulty: p.Difficulty,
	})
}

func (cm *ConnectionManager) handleSubmitGuess(conn *Connection, data json.RawMessage) {
	var p submitGuessPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("connection_id", conn.ID).Msg("bad submit_guess payload")
		return
	}
	cm.game.SubmitGuess(p.RoomID, conn.ID, p.Guess)
}

func (cm *ConnectionManager) connRoom(conn *Connection) string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return conn.roomID
}

// rawScalar renders a JSON scalar as plain text: clients send round
// counts as either a number or a string.
func rawScalar(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
