package main

import (
	"context"
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

	"github.com/tarunjayantvm/cricket-auction/internal/auction"
	"github.com/tarunjayantvm/cricket-auction/internal/config"
	"github.com/tarunjayantvm/cricket-auction/internal/hub"
	"github.com/tarunjayantvm/cricket-auction/internal/relay"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(getEnv("AUCTION_CONFIG", "auctiond.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Info().
		Str("addr", cfg.HTTP.Addr).
		Int("bid_window_sec", cfg.Auction.BidWindowSec).
		Int64("base_price", cfg.Auction.BasePrice).
		Msg("starting auctiond")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Broadcast hub
	broadcastHub := hub.New(hub.DefaultConnectionConfig())
	go broadcastHub.Start(ctx)

	sinks := []auction.EventSink{broadcastHub}

	// Optional NATS relay
	if cfg.NATS.URL != "" {
		relayCfg := relay.DefaultConfig()
		relayCfg.URL = cfg.NATS.URL
		relayCfg.StreamName = cfg.NATS.StreamName
		relayCfg.SubjectPrefix = cfg.NATS.SubjectPrefix

		publisher, err := relay.NewPublisher(relayCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event relay")
		}
		defer publisher.Close()
		go publisher.Start(ctx)
		sinks = append(sinks, publisher)
	}

	// Auction engine
	engine := auction.NewEngine(
		auction.Config{
			BidWindow:       time.Duration(cfg.Auction.BidWindowSec) * time.Second,
			BasePrice:       cfg.Auction.BasePrice,
			StartingCapital: cfg.Auction.StartingCapital,
		},
		auction.NewLedgerStore(),
		auction.NewLotQueue(nil),
		clockwork.NewRealClock(),
		sinks...,
	)
	go func() {
		if err := engine.Run(ctx); err != nil {
			log.Error().Err(err).Msg("auction scheduler failed")
		}
	}()

	// HTTP surface
	mux := http.NewServeMux()
	hub.NewHandler(broadcastHub).RegisterRoutes(mux)
	newCommandServer(engine).registerRoutes(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		stats := broadcastHub.Stats()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"service":"auctiond","connections":%d}`, stats["total"])
	})

	handler := cors.New(cors.Options{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}).Handler(mux)

	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: handler,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
