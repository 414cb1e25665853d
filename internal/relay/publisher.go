package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/tarunjayantvm/cricket-auction/internal/events"
)

// Config holds configuration for the JetStream publisher
type Config struct {
	URL            string
	StreamName     string
	SubjectPrefix  string // e.g. "auction.events"
	MaxReconnects  int
	ReconnectWait  time.Duration
	PublishTimeout time.Duration
}

// DefaultConfig returns default JetStream publisher configuration
func DefaultConfig() Config {
	return Config{
		URL:            nats.DefaultURL,
		StreamName:     "AUCTION_EVENTS",
		SubjectPrefix:  "auction.events",
		MaxReconnects:  -1, // Infinite
		ReconnectWait:  2 * time.Second,
		PublishTimeout: 5 * time.Second,
	}
}

// Publisher mirrors every broadcast engine event onto a JetStream subject so
// external consumers (stats boards, recorders) can subscribe without touching
// the engine. It satisfies the engine's sink interface: Publish only
// enqueues, the network write happens on the Start goroutine.
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config Config
	queue  chan *events.AuctionEvent
}

// NewPublisher connects to NATS and ensures the event stream exists.
func NewPublisher(config Config) (*Publisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.PublishTimeout)
	defer cancel()
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     config.StreamName,
		Subjects: []string{config.SubjectPrefix + ".>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", config.StreamName, err)
	}

	return &Publisher{
		nc:     nc,
		js:     js,
		config: config,
		queue:  make(chan *events.AuctionEvent, 1000),
	}, nil
}

// Publish enqueues an event for relay. Never blocks; the queue dropping under
// sustained backlog is preferable to stalling bid processing.
func (p *Publisher) Publish(ev *events.AuctionEvent) {
	select {
	case p.queue <- ev:
	default:
		log.Warn().Str("event_type", string(ev.Type)).Msg("relay queue full, dropping event")
	}
}

// PublishTo is a no-op: caller-private events stay in-process.
func (p *Publisher) PublishTo(handle string, ev *events.AuctionEvent) {}

// Start drains the queue onto JetStream until the context is cancelled.
func (p *Publisher) Start(ctx context.Context) {
	log.Info().
		Str("stream", p.config.StreamName).
		Str("subject_prefix", p.config.SubjectPrefix).
		Msg("event relay started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event relay shutting down")
			return
		case ev := <-p.queue:
			if err := p.publish(ctx, ev); err != nil {
				log.Error().
					Err(err).
					Str("event_id", ev.ID).
					Str("event_type", string(ev.Type)).
					Msg("failed to relay event")
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ev *events.AuctionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", p.config.SubjectPrefix, ev.Type)
	pubCtx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
	defer cancel()

	if _, err := p.js.Publish(pubCtx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", ev.ID).
		Msg("event relayed")
	return nil
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if err := p.nc.Drain(); err != nil {
		log.Error().Err(err).Msg("failed to drain NATS connection")
	}
}
