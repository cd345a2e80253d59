package game

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Daniele-DelVecchio/party-song-guess/internal/game/events"
	"github.com/Daniele-DelVecchio/party-song-guess/internal/music"
)

// Round progression. Each phase schedules the next through the room's
// single cancellable timer:
//
//	startRound: countdown announcement, then reveal after Countdown
//	revealRound: song goes live, guess window opens
//	roundTimedOut: nobody guessed, answer revealed, pause, next round
//
// A round resolved by a correct guess stops the guess-window timer in
// SubmitGuess; the staleness check in roundTimedOut is the backstop for
// a callback that was already in flight when the timer was stopped.

// replaceTimerLocked swaps in a new pending timer for the room,
// stopping any existing one. Caller holds room.mu.
func (s *Service) replaceTimerLocked(room *Room, d time.Duration, fn func()) {
	if room.timer != nil {
		room.timer.Stop()
	}
	room.timer = s.clock.AfterFunc(d, fn)
}

// startRound begins the next round, or ends the game when the playlist
// is exhausted.
func (s *Service) startRound(room *Room) {
	room.mu.Lock()
	defer room.mu.Unlock()

	if room.State != StatePlaying {
		return
	}
	if room.CurrentRound >= room.TotalRounds {
		s.finishLocked(room)
		return
	}

	s.replaceTimerLocked(room, s.timings.Countdown, func() { s.revealRound(room) })
	s.emitRoom(room.ID, events.TypeStartCountdown, events.StartCountdownPayload{
		Duration: int(s.timings.Countdown / time.Second),
	})
}

// revealRound publishes the round's preview and opens the guess window.
// The title stays server-side until the round resolves.
func (s *Service) revealRound(room *Room) {
	room.mu.Lock()
	defer room.mu.Unlock()

	if room.State != StatePlaying {
		return
	}

	song := &room.songs[room.CurrentRound]
	room.currentSong = song
	room.roundActive = true
	room.CurrentRound++
	room.touchLocked(s.clock.Now())

	log.Info().
		Str("room_id", room.ID).
		Int("round", room.CurrentRound).
		Msg("round started")

	s.replaceTimerLocked(room, s.timings.GuessWindow, func() { s.roundTimedOut(room, song) })
	s.emitRoom(room.ID, events.TypeNewRound, events.NewRoundPayload{
		RoundNumber: room.CurrentRound,
		PreviewURL:  song.PreviewURL,
	})
}

// roundTimedOut fires when the guess window elapses. The identity check
// against the scheduled song makes a stale callback harmless after the
// round already advanced.
func (s *Service) roundTimedOut(room *Room, song *music.Track) {
	room.mu.Lock()
	defer room.mu.Unlock()

	if room.State != StatePlaying {
		return
	}
	if !room.roundActive || room.currentSong != song {
		return
	}

	room.roundActive = false
	room.touchLocked(s.clock.Now())

	log.Info().
		Str("room_id", room.ID).
		Int("round", room.CurrentRound).
		Str("title", song.Title).
		Msg("round timed out")

	s.replaceTimerLocked(room, s.timings.TimeoutPause, func() { s.startRound(room) })
	s.emitRoom(room.ID, events.TypeRoundTimeout, events.RoundTimeoutPayload{Song: *song})
}
