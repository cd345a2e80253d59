package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Daniele-DelVecchio/party-song-guess/internal/game/events"
	"github.com/Daniele-DelVecchio/party-song-guess/internal/music"
)

// recordedEvent is one broadcast captured by the fake broadcaster.
// playerID is empty for room-wide broadcasts.
type recordedEvent struct {
	roomID   string
	playerID string
	ev       *events.Event
}

type fakeBroadcaster struct {
	ch chan recordedEvent
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{ch: make(chan recordedEvent, 256)}
}

func (b *fakeBroadcaster) ToRoom(roomID string, ev *events.Event) {
	b.ch <- recordedEvent{roomID: roomID, ev: ev}
}

func (b *fakeBroadcaster) ToPlayer(roomID, playerID string, ev *events.Event) {
	b.ch <- recordedEvent{roomID: roomID, playerID: playerID, ev: ev}
}

// waitFor blocks until an event of the given type arrives, skipping
// events of other types.
func (b *fakeBroadcaster) waitFor(t *testing.T, typ events.Type) recordedEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-b.ch:
			if e.ev.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

// drain empties the queue and returns how many events of typ were seen.
func (b *fakeBroadcaster) drain(typ events.Type) int {
	count := 0
	for {
		select {
		case e := <-b.ch:
			if e.ev.Type == typ {
				count++
			}
		default:
			return count
		}
	}
}

type fakeProvider struct {
	mu      sync.Mutex
	tracks  []music.Track
	err     error
	lastReq music.SearchRequest
}

// RandomTracks returns the configured tracks, or generates req.Limit
// placeholder tracks when none were configured.
func (p *fakeProvider) RandomTracks(ctx context.Context, req music.SearchRequest) ([]music.Track, error) {
	p.mu.Lock()
	p.lastReq = req
	p.mu.Unlock()

	if p.err != nil {
		return nil, p.err
	}
	if p.tracks != nil {
		if len(p.tracks) > req.Limit {
			return p.tracks[:req.Limit], nil
		}
		return p.tracks, nil
	}

	tracks := make([]music.Track, req.Limit)
	for i := range tracks {
		tracks[i] = music.Track{
			Title:      fmt.Sprintf("Song %d", i+1),
			Artist:     "Test Artist",
			PreviewURL: fmt.Sprintf("http://preview/%d", i+1),
			Artwork:    fmt.Sprintf("http://art/%d", i+1),
		}
	}
	return tracks, nil
}

func (p *fakeProvider) request() music.SearchRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastReq
}

func newTestService(provider music.Provider) (*Service, *fakeBroadcaster, *clockwork.FakeClock, *Registry) {
	clock := clockwork.NewFakeClock()
	registry := NewRegistry(clock)
	broadcaster := newFakeBroadcaster()
	svc := NewService(registry, provider, broadcaster, clock, DefaultTimings())
	return svc, broadcaster, clock, registry
}

func decodePayload[T any](t *testing.T, ev *events.Event) T {
	t.Helper()
	var payload T
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		t.Fatalf("failed to decode %s payload: %v", ev.Type, err)
	}
	return payload
}

func TestCreateRoomSeedsOwner(t *testing.T) {
	svc, _, _, registry := newTestService(&fakeProvider{})

	snap := svc.CreateRoom("conn-1", "Alice", "")
	if len(snap.ID) != roomCodeLength {
		t.Fatalf("expected %d-char room code, got %q", roomCodeLength, snap.ID)
	}
	if snap.State != string(StateLobby) {
		t.Fatalf("expected LOBBY, got %s", snap.State)
	}
	if snap.TotalRounds != 10 {
		t.Fatalf("expected default 10 rounds, got %d", snap.TotalRounds)
	}
	if len(snap.Players) != 1 || snap.Players[0].Name != "Alice" || snap.Players[0].Score != 0 {
		t.Fatalf("unexpected roster %+v", snap.Players)
	}
	if _, ok := registry.Get(snap.ID); !ok {
		t.Fatal("room not registered")
	}
}

func TestJoinRoomPreservesOrder(t *testing.T) {
	svc, _, _, _ := newTestService(&fakeProvider{})

	snap := svc.CreateRoom("conn-a", "Alice", "")
	if _, err := svc.JoinRoom(snap.ID, "conn-b", "Bob"); err != nil {
		t.Fatalf("join Bob: %v", err)
	}
	got, err := svc.JoinRoom(snap.ID, "conn-c", "Carol")
	if err != nil {
		t.Fatalf("join Carol: %v", err)
	}

	names := []string{"Alice", "Bob", "Carol"}
	if len(got.Players) != len(names) {
		t.Fatalf("expected %d players, got %d", len(names), len(got.Players))
	}
	for i, want := range names {
		if got.Players[i].Name != want {
			t.Errorf("player %d = %s, want %s", i, got.Players[i].Name, want)
		}
		if got.Players[i].Score != 0 {
			t.Errorf("player %s joined with score %d", want, got.Players[i].Score)
		}
	}
}

func TestJoinRoomUnavailable(t *testing.T) {
	svc, broadcaster, _, _ := newTestService(&fakeProvider{})

	if _, err := svc.JoinRoom("NOPE2", "conn-x", "Mallory"); !errors.Is(err, ErrRoomUnavailable) {
		t.Fatalf("expected ErrRoomUnavailable for missing room, got %v", err)
	}

	snap := svc.CreateRoom("conn-a", "Alice", "")
	svc.StartGame(context.Background(), snap.ID, StartParams{Rounds: "2"})
	broadcaster.waitFor(t, events.TypeGameStarted)

	if _, err := svc.JoinRoom(snap.ID, "conn-x", "Latecomer"); !errors.Is(err, ErrRoomUnavailable) {
		t.Fatalf("expected ErrRoomUnavailable for started room, got %v", err)
	}
}

func TestStartGameNormalizesRounds(t *testing.T) {
	tests := []struct {
		rounds string
		want   int
	}{
		{"abc", 10},
		{"-5", 10},
		{"", 10},
		{"75", 50},
		{"3", 3},
	}
	for _, tt := range tests {
		svc, broadcaster, _, _ := newTestService(&fakeProvider{})
		snap := svc.CreateRoom("conn-a", "Alice", "")
		svc.StartGame(context.Background(), snap.ID, StartParams{Rounds: tt.rounds})
		ev := broadcaster.waitFor(t, events.TypeGameStarted)
		payload := decodePayload[events.GameStartedPayload](t, ev.ev)
		if payload.TotalRounds != tt.want {
			t.Errorf("rounds %q: got %d total rounds, want %d", tt.rounds, payload.TotalRounds, tt.want)
		}
	}
}

func TestStartGameBuildsSearchTerm(t *testing.T) {
	provider := &fakeProvider{}
	svc, broadcaster, _, _ := newTestService(provider)

	snap := svc.CreateRoom("conn-a", "Alice", "")
	svc.StartGame(context.Background(), snap.ID, StartParams{
		Rounds: "2",
		Genres: []string{"rock", "metal"},
		Decade: "1980s",
	})
	broadcaster.waitFor(t, events.TypeGameStarted)

	req := provider.request()
	if req.Term != "rock metal 1980s" {
		t.Errorf("search term = %q, want %q", req.Term, "rock metal 1980s")
	}
	if req.Difficulty != "hard" {
		t.Errorf("difficulty = %q, want default hard", req.Difficulty)
	}
}

func TestStartGameDefaultsToPop(t *testing.T) {
	provider := &fakeProvider{}
	svc, broadcaster, _, _ := newTestService(provider)

	snap := svc.CreateRoom("conn-a", "Alice", "")
	svc.StartGame(context.Background(), snap.ID, StartParams{Rounds: "1"})
	broadcaster.waitFor(t, events.TypeGameStarted)

	if req := provider.request(); req.Term != "pop" {
		t.Errorf("search term = %q, want pop", req.Term)
	}
}

func TestStartGameProviderFailureStaysInLobby(t *testing.T) {
	svc, broadcaster, _, _ := newTestService(&fakeProvider{err: errors.New("itunes down")})

	snap := svc.CreateRoom("conn-a", "Alice", "")
	svc.StartGame(context.Background(), snap.ID, StartParams{Rounds: "2"})
	broadcaster.waitFor(t, events.TypeGameStartFailed)

	// The room must remain joinable.
	if _, err := svc.JoinRoom(snap.ID, "conn-b", "Bob"); err != nil {
		t.Fatalf("expected room to stay in LOBBY after provider failure, got %v", err)
	}
}

func TestStartGameShrinksToShortPlaylist(t *testing.T) {
	provider := &fakeProvider{tracks: []music.Track{
		{Title: "Only Song", PreviewURL: "http://p/1"},
	}}
	svc, broadcaster, _, _ := newTestService(provider)

	snap := svc.CreateRoom("conn-a", "Alice", "")
	svc.StartGame(context.Background(), snap.ID, StartParams{Rounds: "5"})
	ev := broadcaster.waitFor(t, events.TypeGameStarted)
	payload := decodePayload[events.GameStartedPayload](t, ev.ev)
	if payload.TotalRounds != 1 {
		t.Fatalf("expected game to shrink to 1 round, got %d", payload.TotalRounds)
	}
}

// advanceToRound drives the clock from game_started to the given
// round's new_round event and returns its payload.
func advanceToRound(t *testing.T, broadcaster *fakeBroadcaster, clock *clockwork.FakeClock, timings Timings, fromStart bool) events.NewRoundPayload {
	t.Helper()
	if fromStart {
		clock.Advance(timings.StartDelay)
	}
	broadcaster.waitFor(t, events.TypeStartCountdown)
	clock.Advance(timings.Countdown)
	ev := broadcaster.waitFor(t, events.TypeNewRound)
	return decodePayload[events.NewRoundPayload](t, ev.ev)
}

func TestFullGameFlow(t *testing.T) {
	provider := &fakeProvider{tracks: []music.Track{
		{Title: "Song One", Artist: "A", PreviewURL: "http://p/1"},
		{Title: "Song Two", Artist: "B", PreviewURL: "http://p/2"},
	}}
	svc, broadcaster, clock, registry := newTestService(provider)
	timings := DefaultTimings()

	snap := svc.CreateRoom("conn-a", "Alice", "")
	if _, err := svc.JoinRoom(snap.ID, "conn-b", "Bob"); err != nil {
		t.Fatalf("join Bob: %v", err)
	}

	svc.StartGame(context.Background(), snap.ID, StartParams{Rounds: "2"})
	started := decodePayload[events.GameStartedPayload](t, broadcaster.waitFor(t, events.TypeGameStarted).ev)
	if started.TotalRounds != 2 {
		t.Fatalf("expected 2 rounds, got %d", started.TotalRounds)
	}

	// Round 1: Bob wins.
	round := advanceToRound(t, broadcaster, clock, timings, true)
	if round.RoundNumber != 1 || round.PreviewURL != "http://p/1" {
		t.Fatalf("unexpected round payload %+v", round)
	}

	svc.SubmitGuess(snap.ID, "conn-b", "song one")
	scores := decodePayload[events.PlayersPayload](t, broadcaster.waitFor(t, events.TypeUpdateScores).ev)
	if scores.Players[1].Name != "Bob" || scores.Players[1].Score != 1 {
		t.Fatalf("expected Bob at 1 point, got %+v", scores.Players)
	}
	winner := decodePayload[events.RoundWinnerPayload](t, broadcaster.waitFor(t, events.TypeRoundWinner).ev)
	if winner.Player != "Bob" || winner.Song.Title != "Song One" {
		t.Fatalf("unexpected winner payload %+v", winner)
	}

	// Round 2: a wrong guess, then nobody gets it.
	clock.Advance(timings.WinnerPause)
	round = advanceToRound(t, broadcaster, clock, timings, false)
	if round.RoundNumber != 2 || round.PreviewURL != "http://p/2" {
		t.Fatalf("unexpected round payload %+v", round)
	}

	svc.SubmitGuess(snap.ID, "conn-a", "definitely wrong")
	rejected := broadcaster.waitFor(t, events.TypeWrongGuess)
	if rejected.playerID != "conn-a" {
		t.Fatalf("wrong_guess went to %q, want conn-a only", rejected.playerID)
	}

	clock.Advance(timings.GuessWindow)
	timeout := decodePayload[events.RoundTimeoutPayload](t, broadcaster.waitFor(t, events.TypeRoundTimeout).ev)
	if timeout.Song.Title != "Song Two" {
		t.Fatalf("timeout revealed %q, want Song Two", timeout.Song.Title)
	}

	clock.Advance(timings.TimeoutPause)
	final := decodePayload[events.PlayersPayload](t, broadcaster.waitFor(t, events.TypeGameOver).ev)
	if final.Players[0].Score != 0 || final.Players[1].Score != 1 {
		t.Fatalf("unexpected final standings %+v", final.Players)
	}

	room, ok := registry.Get(snap.ID)
	if !ok {
		t.Fatal("room missing after game over")
	}
	if room.State != StateEnded {
		t.Fatalf("expected ENDED, got %s", room.State)
	}

	// Terminal state: further guesses change nothing.
	svc.SubmitGuess(snap.ID, "conn-a", "song two")
	if n := broadcaster.drain(events.TypeRoundWinner); n != 0 {
		t.Fatalf("scored %d wins against an ended room", n)
	}
}

func TestSingleWinnerUnderConcurrentGuesses(t *testing.T) {
	provider := &fakeProvider{tracks: []music.Track{
		{Title: "The Only Song", PreviewURL: "http://p/1"},
	}}
	svc, broadcaster, clock, _ := newTestService(provider)
	timings := DefaultTimings()

	snap := svc.CreateRoom("conn-a", "Alice", "")
	if _, err := svc.JoinRoom(snap.ID, "conn-b", "Bob"); err != nil {
		t.Fatalf("join Bob: %v", err)
	}
	svc.StartGame(context.Background(), snap.ID, StartParams{Rounds: "1"})
	broadcaster.waitFor(t, events.TypeGameStarted)
	advanceToRound(t, broadcaster, clock, timings, true)

	var wg sync.WaitGroup
	for _, conn := range []string{"conn-a", "conn-b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			svc.SubmitGuess(snap.ID, id, "the only song")
		}(conn)
	}
	wg.Wait()

	scores := decodePayload[events.PlayersPayload](t, broadcaster.waitFor(t, events.TypeUpdateScores).ev)
	total := 0
	for _, p := range scores.Players {
		total += p.Score
	}
	if total != 1 {
		t.Fatalf("expected exactly one point awarded, got %d", total)
	}
	broadcaster.waitFor(t, events.TypeRoundWinner)
	if n := broadcaster.drain(events.TypeRoundWinner); n != 0 {
		t.Fatalf("expected a single round_winner, saw %d extra", n)
	}
}

func TestRoundTimeoutFiresOnce(t *testing.T) {
	provider := &fakeProvider{tracks: []music.Track{
		{Title: "Song One", PreviewURL: "http://p/1"},
		{Title: "Song Two", PreviewURL: "http://p/2"},
	}}
	svc, broadcaster, clock, _ := newTestService(provider)
	timings := DefaultTimings()

	snap := svc.CreateRoom("conn-a", "Alice", "")
	svc.StartGame(context.Background(), snap.ID, StartParams{Rounds: "2"})
	broadcaster.waitFor(t, events.TypeGameStarted)
	advanceToRound(t, broadcaster, clock, timings, true)

	clock.Advance(timings.GuessWindow)
	broadcaster.waitFor(t, events.TypeRoundTimeout)

	// Drive well past the grace pause and into round 2; no second
	// timeout may fire for round 1.
	clock.Advance(timings.TimeoutPause)
	broadcaster.waitFor(t, events.TypeStartCountdown)
	clock.Advance(timings.Countdown)
	broadcaster.waitFor(t, events.TypeNewRound)
	if n := broadcaster.drain(events.TypeRoundTimeout); n != 0 {
		t.Fatalf("round 1 timed out %d extra times", n)
	}
}

func TestGuessBeforeRevealIsIgnored(t *testing.T) {
	svc, broadcaster, _, _ := newTestService(&fakeProvider{})

	snap := svc.CreateRoom("conn-a", "Alice", "")
	svc.StartGame(context.Background(), snap.ID, StartParams{Rounds: "1"})
	broadcaster.waitFor(t, events.TypeGameStarted)

	// Round not yet revealed: guesses are dropped with no response.
	svc.SubmitGuess(snap.ID, "conn-a", "Song 1")
	if n := broadcaster.drain(events.TypeUpdateScores); n != 0 {
		t.Fatalf("scored %d times before round reveal", n)
	}
	if n := broadcaster.drain(events.TypeWrongGuess); n != 0 {
		t.Fatal("expected silence for guess outside an active round")
	}
}

func TestEndGameIsTerminal(t *testing.T) {
	svc, broadcaster, _, _ := newTestService(&fakeProvider{})

	snap := svc.CreateRoom("conn-a", "Alice", "")
	svc.EndGame(snap.ID)
	broadcaster.waitFor(t, events.TypeGameOver)

	svc.EndGame(snap.ID)
	if n := broadcaster.drain(events.TypeGameOver); n != 0 {
		t.Fatalf("ending an ended room emitted %d extra game_over events", n)
	}
}

func TestDisconnectFromLobbyUpdatesRoster(t *testing.T) {
	svc, broadcaster, _, registry := newTestService(&fakeProvider{})

	snap := svc.CreateRoom("conn-a", "Alice", "")
	if _, err := svc.JoinRoom(snap.ID, "conn-b", "Bob"); err != nil {
		t.Fatalf("join Bob: %v", err)
	}

	svc.HandleDisconnect(snap.ID, "conn-b", 1)
	roster := decodePayload[events.PlayersPayload](t, broadcaster.waitFor(t, events.TypePlayerJoined).ev)
	if len(roster.Players) != 1 || roster.Players[0].Name != "Alice" {
		t.Fatalf("unexpected roster after disconnect %+v", roster.Players)
	}
	if _, ok := registry.Get(snap.ID); !ok {
		t.Fatal("room should survive while connections remain")
	}

	svc.HandleDisconnect(snap.ID, "conn-a", 0)
	if _, ok := registry.Get(snap.ID); ok {
		t.Fatal("expected abandoned room to be evicted")
	}
}
