package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds process-wide settings for auctiond. Values come from an
// optional yaml file, with AUCTION_* environment variables taking precedence.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Auction AuctionConfig `yaml:"auction"`
	NATS    NATSConfig    `yaml:"nats"`
}

// HTTPConfig configures the command and WebSocket surface.
type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AuctionConfig holds the auction rules.
type AuctionConfig struct {
	BidWindowSec    int   `yaml:"bid_window_sec"`
	BasePrice       int64 `yaml:"base_price"`
	StartingCapital int64 `yaml:"starting_capital"`
}

// NATSConfig configures the optional event relay. An empty URL disables it.
type NATSConfig struct {
	URL           string `yaml:"url"`
	StreamName    string `yaml:"stream_name"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
		},
		Auction: AuctionConfig{
			BidWindowSec:    20,
			BasePrice:       25,
			StartingCapital: 1000,
		},
		NATS: NATSConfig{
			StreamName:    "AUCTION_EVENTS",
			SubjectPrefix: "auction.events",
		},
	}
}

// Load reads the yaml file at path (skipped when path is empty or missing)
// and applies environment overrides on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTP.Addr = getEnv("AUCTION_HTTP_ADDR", c.HTTP.Addr)
	c.NATS.URL = getEnv("AUCTION_NATS_URL", c.NATS.URL)
	c.NATS.StreamName = getEnv("AUCTION_NATS_STREAM", c.NATS.StreamName)
	c.NATS.SubjectPrefix = getEnv("AUCTION_NATS_SUBJECT_PREFIX", c.NATS.SubjectPrefix)
	c.Auction.BidWindowSec = getEnvInt("AUCTION_BID_WINDOW_SEC", c.Auction.BidWindowSec)
	c.Auction.BasePrice = int64(getEnvInt("AUCTION_BASE_PRICE", int(c.Auction.BasePrice)))
	c.Auction.StartingCapital = int64(getEnvInt("AUCTION_STARTING_CAPITAL", int(c.Auction.StartingCapital)))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
