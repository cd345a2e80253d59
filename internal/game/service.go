// Package game implements the room lifecycle state machine, scoring, and
// round orchestration for the song-guessing game.
package game

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Daniele-DelVecchio/party-song-guess/internal/game/events"
	"github.com/Daniele-DelVecchio/party-song-guess/internal/match"
	"github.com/Daniele-DelVecchio/party-song-guess/internal/music"
)

// Broadcaster delivers events to a room or a single player. Callers may
// invoke it while holding a room lock, so implementations must not
// block; queue and drop instead.
type Broadcaster interface {
	ToRoom(roomID string, ev *events.Event)
	ToPlayer(roomID, playerID string, ev *events.Event)
}

// Timings collects the fixed delays and round limits driving a game.
type Timings struct {
	// StartDelay lets clients process game_started before the first
	// countdown begins.
	StartDelay   time.Duration
	Countdown    time.Duration
	GuessWindow  time.Duration
	WinnerPause  time.Duration
	TimeoutPause time.Duration

	DefaultRounds int
	MaxRounds     int
}

// DefaultTimings returns the production values.
func DefaultTimings() Timings {
	return Timings{
		StartDelay:    500 * time.Millisecond,
		Countdown:     3 * time.Second,
		GuessWindow:   30 * time.Second,
		WinnerPause:   time.Second,
		TimeoutPause:  5 * time.Second,
		DefaultRounds: 10,
		MaxRounds:     50,
	}
}

// StartParams carries the owner's start_game request. Rounds arrives as
// raw text because clients send it as either a number or a string.
type StartParams struct {
	Rounds     string
	Genre      string
	Genres     []string
	Decade     string
	Language   string
	Difficulty string
}

// Service drives every room through LOBBY → PLAYING → ENDED.
type Service struct {
	registry    *Registry
	provider    music.Provider
	broadcaster Broadcaster
	clock       clockwork.Clock
	timings     Timings
}

// NewService wires the state machine to its collaborators. The clock is
// injected so tests can drive rounds without wall-clock delays.
func NewService(registry *Registry, provider music.Provider, broadcaster Broadcaster, clock clockwork.Clock, timings Timings) *Service {
	return &Service{
		registry:    registry,
		provider:    provider,
		broadcaster: broadcaster,
		clock:       clock,
		timings:     timings,
	}
}

// CreateRoom opens a fresh lobby with the creator seated. It never
// fails.
func (s *Service) CreateRoom(connID, playerName, totalRounds string) events.RoomSnapshot {
	rounds := s.normalizeRounds(totalRounds, s.timings.DefaultRounds)
	room := s.registry.Create(connID, playerName, rounds)

	log.Info().
		Str("room_id", room.ID).
		Str("player", playerName).
		Msg("room created")

	room.mu.Lock()
	defer room.mu.Unlock()
	return room.snapshotLocked()
}

// JoinRoom appends a player to a lobby, preserving join order. A missing
// room and an already-started room both return ErrRoomUnavailable.
func (s *Service) JoinRoom(roomID, connID, playerName string) (events.RoomSnapshot, error) {
	room, ok := s.registry.Get(roomID)
	if !ok {
		return events.RoomSnapshot{}, ErrRoomUnavailable
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.State != StateLobby {
		return events.RoomSnapshot{}, ErrRoomUnavailable
	}

	room.Players = append(room.Players, &Player{ID: connID, Name: playerName})
	room.touchLocked(s.clock.Now())

	log.Info().
		Str("room_id", roomID).
		Str("player", playerName).
		Int("players", len(room.Players)).
		Msg("player joined")

	return room.snapshotLocked(), nil
}

// StartGame fetches the playlist and moves the room into PLAYING. It is
// a no-op for missing, empty, or already-started rooms. On provider
// failure the room stays in LOBBY and the failure is broadcast.
func (s *Service) StartGame(ctx context.Context, roomID string, p StartParams) {
	room, ok := s.registry.Get(roomID)
	if !ok {
		return
	}

	room.mu.Lock()
	if room.State != StateLobby || len(room.Players) == 0 {
		room.mu.Unlock()
		return
	}
	rounds := s.normalizeRounds(p.Rounds, room.TotalRounds)
	room.TotalRounds = rounds
	room.mu.Unlock()

	difficulty := p.Difficulty
	if difficulty == "" {
		difficulty = "hard"
	}

	// The only blocking call in the whole engine; made without the room
	// lock so other rooms and lobby joins proceed.
	songs, err := s.provider.RandomTracks(ctx, music.SearchRequest{
		Term:       buildSearchTerm(p),
		Limit:      rounds,
		Language:   p.Language,
		Difficulty: difficulty,
	})
	if err != nil || len(songs) == 0 {
		log.Error().
			Err(err).
			Str("room_id", roomID).
			Msg("failed to fetch tracks for game start")
		s.emitRoom(roomID, events.TypeGameStartFailed, events.GameStartFailedPayload{
			Reason: "could not load songs, try a different genre",
		})
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	// The room may have emptied or been evicted during the fetch.
	if room.State != StateLobby || len(room.Players) == 0 {
		return
	}

	if len(songs) < rounds {
		// Provider returned a short playlist; the game shrinks to it so
		// every round has a song.
		room.TotalRounds = len(songs)
	}
	room.songs = songs
	room.State = StatePlaying
	room.CurrentRound = 0
	room.touchLocked(s.clock.Now())

	log.Info().
		Str("room_id", roomID).
		Int("rounds", room.TotalRounds).
		Msg("game started")

	s.replaceTimerLocked(room, s.timings.StartDelay, func() { s.startRound(room) })
	s.emitRoom(roomID, events.TypeGameStarted, events.GameStartedPayload{TotalRounds: room.TotalRounds})
}

// SubmitGuess scores the first correct guess of a round. Guesses against
// inactive rounds are dropped silently; wrong guesses notify only the
// guesser.
func (s *Service) SubmitGuess(roomID, playerID, guess string) {
	room, ok := s.registry.Get(roomID)
	if !ok {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.State != StatePlaying || !room.roundActive || room.currentSong == nil {
		return
	}

	if !match.Matches(guess, room.currentSong.Title) {
		s.emitPlayer(roomID, playerID, events.TypeWrongGuess, nil)
		return
	}

	player := room.findPlayerLocked(playerID)
	if player == nil {
		return
	}

	// First correct guess wins: flipping roundActive under the lock
	// shuts out every later guess for this round.
	room.roundActive = false
	room.stopTimerLocked()
	player.Score++
	room.touchLocked(s.clock.Now())

	log.Info().
		Str("room_id", roomID).
		Str("player", player.Name).
		Int("score", player.Score).
		Str("title", room.currentSong.Title).
		Msg("round won")

	s.replaceTimerLocked(room, s.timings.WinnerPause, func() { s.startRound(room) })
	s.emitRoom(roomID, events.TypeUpdateScores, events.PlayersPayload{Players: room.standingsLocked()})
	s.emitRoom(roomID, events.TypeRoundWinner, events.RoundWinnerPayload{
		Player: player.Name,
		Song:   *room.currentSong,
	})
}

// EndGame moves a room to its terminal state and publishes the final
// standings. Ending an already-ended room is a no-op.
func (s *Service) EndGame(roomID string) {
	room, ok := s.registry.Get(roomID)
	if !ok {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	s.finishLocked(room)
}

// HandleDisconnect is the gateway's connection-close notification.
// Lobby rooms drop the player and rebroadcast the roster; a room with no
// connections left is evicted outright. Players in running games stay on
// the scoreboard so standings remain stable.
func (s *Service) HandleDisconnect(roomID, playerID string, remainingConns int) {
	room, ok := s.registry.Get(roomID)
	if !ok {
		return
	}

	room.mu.Lock()
	if room.State == StateLobby && room.removePlayerLocked(playerID) {
		log.Info().
			Str("room_id", roomID).
			Str("player_id", playerID).
			Msg("player left lobby")
		s.emitRoom(roomID, events.TypePlayerJoined, events.PlayersPayload{Players: room.standingsLocked()})
	}

	abandoned := remainingConns == 0 || len(room.Players) == 0
	if abandoned {
		room.stopTimerLocked()
		room.State = StateEnded
	}
	room.mu.Unlock()

	if abandoned {
		s.registry.Remove(roomID)
		log.Info().Str("room_id", roomID).Msg("room abandoned")
	}
}

// finishLocked ends the game. Caller holds room.mu.
func (s *Service) finishLocked(room *Room) {
	if room.State == StateEnded {
		return
	}
	room.State = StateEnded
	room.roundActive = false
	room.stopTimerLocked()
	room.touchLocked(s.clock.Now())

	log.Info().Str("room_id", room.ID).Msg("game over")
	s.emitRoom(room.ID, events.TypeGameOver, events.PlayersPayload{Players: room.standingsLocked()})
}

// normalizeRounds applies the original lenient parsing: non-numeric or
// non-positive input falls back, oversized input clamps to MaxRounds.
func (s *Service) normalizeRounds(requested string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(requested))
	if err != nil || n <= 0 {
		if fallback > 0 {
			return fallback
		}
		return s.timings.DefaultRounds
	}
	if n > s.timings.MaxRounds {
		return s.timings.MaxRounds
	}
	return n
}

// buildSearchTerm joins the requested genres ("pop" when none given)
// with the optional decade qualifier.
func buildSearchTerm(p StartParams) string {
	genres := p.Genres
	if len(genres) == 0 && p.Genre != "" {
		genres = []string{p.Genre}
	}
	if len(genres) == 0 {
		genres = []string{"pop"}
	}

	parts := []string{strings.Join(genres, " ")}
	if p.Decade != "" {
		parts = append(parts, p.Decade)
	}
	return strings.Join(parts, " ")
}

func (s *Service) emitRoom(roomID string, typ events.Type, payload any) {
	ev, err := events.New(roomID, typ, payload)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to build event")
		return
	}
	s.broadcaster.ToRoom(roomID, ev)
}

func (s *Service) emitPlayer(roomID, playerID string, typ events.Type, payload any) {
	ev, err := events.New(roomID, typ, payload)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to build event")
		return
	}
	s.broadcaster.ToPlayer(roomID, playerID, ev)
}
