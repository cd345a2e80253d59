// Package config loads server configuration from an optional YAML file
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	ITunesBaseURL string        `yaml:"itunes_base_url"`
	ITunesTimeout time.Duration `yaml:"itunes_timeout"`

	// NATSURL enables the event relay when non-empty.
	NATSURL string `yaml:"nats_url"`

	Game  GameConfig  `yaml:"game"`
	Rooms RoomsConfig `yaml:"rooms"`
}

// GameConfig tunes round pacing and limits.
type GameConfig struct {
	DefaultRounds int           `yaml:"default_rounds"`
	MaxRounds     int           `yaml:"max_rounds"`
	StartDelay    time.Duration `yaml:"start_delay"`
	Countdown     time.Duration `yaml:"countdown"`
	GuessWindow   time.Duration `yaml:"guess_window"`
	WinnerPause   time.Duration `yaml:"winner_pause"`
	TimeoutPause  time.Duration `yaml:"timeout_pause"`
}

// RoomsConfig tunes the idle-room janitor.
type RoomsConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	IdleTTL       time.Duration `yaml:"idle_ttl"`
}

// Default returns the production defaults.
func Default() *Config {
	return &Config{
		Port:          "3000",
		LogLevel:      "info",
		ITunesBaseURL: "https://itunes.apple.com",
		ITunesTimeout: 10 * time.Second,
		Game: GameConfig{
			DefaultRounds: 10,
			MaxRounds:     50,
			StartDelay:    500 * time.Millisecond,
			Countdown:     3 * time.Second,
			GuessWindow:   30 * time.Second,
			WinnerPause:   time.Second,
			TimeoutPause:  5 * time.Second,
		},
		Rooms: RoomsConfig{
			SweepInterval: 5 * time.Minute,
			IdleTTL:       time.Hour,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when missing), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Config file is optional.
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.ITunesBaseURL = getEnv("ITUNES_BASE_URL", cfg.ITunesBaseURL)
	cfg.ITunesTimeout = getEnvAsDuration("ITUNES_TIMEOUT", cfg.ITunesTimeout)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.Game.DefaultRounds = getEnvAsInt("GAME_DEFAULT_ROUNDS", cfg.Game.DefaultRounds)
	cfg.Game.MaxRounds = getEnvAsInt("GAME_MAX_ROUNDS", cfg.Game.MaxRounds)
	cfg.Rooms.SweepInterval = getEnvAsDuration("ROOM_SWEEP_INTERVAL", cfg.Rooms.SweepInterval)
	cfg.Rooms.IdleTTL = getEnvAsDuration("ROOM_IDLE_TTL", cfg.Rooms.IdleTTL)

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
