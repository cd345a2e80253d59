package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Daniele-DelVecchio/party-song-guess/internal/config"
	"github.com/Daniele-DelVecchio/party-song-guess/internal/game"
	"github.com/Daniele-DelVecchio/party-song-guess/internal/game/events"
	"github.com/Daniele-DelVecchio/party-song-guess/internal/gateway"
	"github.com/Daniele-DelVecchio/party-song-guess/internal/music/itunes"
	"github.com/Daniele-DelVecchio/party-song-guess/internal/relay"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Str("itunes_base_url", cfg.ITunesBaseURL).
		Bool("relay_enabled", cfg.NATSURL != "").
		Msg("starting party-song-guess server")

	clock := clockwork.NewRealClock()
	registry := game.NewRegistry(clock)
	provider := itunes.NewClient(cfg.ITunesBaseURL, cfg.ITunesTimeout)
	manager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())

	var broadcaster game.Broadcaster = manager
	var publisher *relay.Publisher
	if cfg.NATSURL != "" {
		relayCfg := relay.DefaultJetStreamConfig()
		relayCfg.URL = cfg.NATSURL
		p, err := relay.NewPublisher(relayCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect event relay")
		}
		defer p.Close()
		publisher = p
		broadcaster = &fanoutBroadcaster{primary: manager, relay: publisher}
	}

	service := game.NewService(registry, provider, broadcaster, clock, game.Timings{
		StartDelay:    cfg.Game.StartDelay,
		Countdown:     cfg.Game.Countdown,
		GuessWindow:   cfg.Game.GuessWindow,
		WinnerPause:   cfg.Game.WinnerPause,
		TimeoutPause:  cfg.Game.TimeoutPause,
		DefaultRounds: cfg.Game.DefaultRounds,
		MaxRounds:     cfg.Game.MaxRounds,
	})
	manager.SetGameService(service)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go manager.Start(ctx)
	go registry.RunJanitor(ctx, cfg.Rooms.SweepInterval, cfg.Rooms.IdleTTL)
	if publisher != nil {
		go publisher.Run(ctx)
	}

	mux := http.NewServeMux()
	wsHandler := gateway.NewWebSocketHandler(manager)
	wsHandler.RegisterRoutes(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		conns, rooms := manager.GetConnectionStats()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"service":"party-song-guess","connections":%d,"rooms":%d}`, conns, rooms)
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: c.Handler(mux),
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// fanoutBroadcaster mirrors every event onto the relay after queueing it
// for connected clients.
type fanoutBroadcaster struct {
	primary game.Broadcaster
	relay   *relay.Publisher
}

func (f *fanoutBroadcaster) ToRoom(roomID string, ev *events.Event) {
	f.primary.ToRoom(roomID, ev)
	f.relay.Publish(ev)
}

func (f *fanoutBroadcaster) ToPlayer(roomID, playerID string, ev *events.Event) {
	f.primary.ToPlayer(roomID, playerID, ev)
}
