// Package relay mirrors room events onto NATS JetStream for external
// consumers (spectator views, analytics). It is strictly fire-and-forget:
// publish failures are logged and never reach the rooms.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/Daniele-DelVecchio/party-song-guess/internal/game/events"
)

// JetStreamConfig configures the relay connection and stream.
type JetStreamConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	MaxAge        time.Duration
}

// DefaultJetStreamConfig returns the relay defaults. Game events are
// short-lived; a day of retention is plenty for spectators to replay.
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:           nats.DefaultURL,
		StreamName:    "GAME_EVENTS",
		SubjectPrefix: "partysong.rooms",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		MaxAge:        24 * time.Hour,
	}
}

// Publisher publishes room events to JetStream. Publish only enqueues;
// the actual JetStream calls happen on the Run goroutine so a broker
// outage can never stall a caller holding a room lock.
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig

	events chan *events.Event
}

// NewPublisher connects to NATS and ensures the event stream exists.
func NewPublisher(cfg JetStreamConfig) (*Publisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p := &Publisher{
		nc:     nc,
		js:     js,
		config: cfg,
		events: make(chan *events.Event, 1024),
	}

	if err := p.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return p, nil
}

func (p *Publisher) ensureStream(ctx context.Context) error {
	_, err := p.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        p.config.StreamName,
		Description: "Room event stream for external consumers",
		Subjects:    []string{fmt.Sprintf("%s.>", p.config.SubjectPrefix)},
		MaxAge:      p.config.MaxAge,
	})
	return err
}

// Publish queues one event for the stream. Never blocks; events are
// dropped when the queue is full.
func (p *Publisher) Publish(ev *events.Event) {
	select {
	case p.events <- ev:
	default:
		log.Warn().
			Str("room_id", ev.RoomID).
			Str("event_type", string(ev.Type)).
			Msg("relay queue full, dropping event")
	}
}

// Run drains the queue until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	log.Info().Str("stream", p.config.StreamName).Msg("event relay started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event relay shutting down")
			return
		case ev := <-p.events:
			p.publish(ev)
		}
	}
}

func (p *Publisher) publish(ev *events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for relay")
		return
	}

	subject := fmt.Sprintf("%s.%s.%s", p.config.SubjectPrefix, ev.RoomID, ev.Type)
	if _, err := p.js.PublishAsync(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("failed to relay event")
	}
}

// Close drains the connection.
func (p *Publisher) Close() {
	if err := p.nc.Drain(); err != nil {
		log.Error().Err(err).Msg("failed to drain NATS connection")
	}
}
