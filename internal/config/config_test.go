package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "3000" {
		t.Errorf("Port = %q, want 3000", cfg.Port)
	}
	if cfg.Game.DefaultRounds != 10 || cfg.Game.MaxRounds != 50 {
		t.Errorf("round limits = %d/%d, want 10/50", cfg.Game.DefaultRounds, cfg.Game.MaxRounds)
	}
	if cfg.Game.GuessWindow != 30*time.Second {
		t.Errorf("GuessWindow = %s, want 30s", cfg.Game.GuessWindow)
	}
	if cfg.NATSURL != "" {
		t.Errorf("NATSURL should default empty, got %q", cfg.NATSURL)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
port: "8080"
log_level: debug
game:
  default_rounds: 15
  guess_window: 20s
rooms:
  idle_ttl: 30m
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || cfg.LogLevel != "debug" {
		t.Errorf("got %q/%q, want 8080/debug", cfg.Port, cfg.LogLevel)
	}
	if cfg.Game.DefaultRounds != 15 {
		t.Errorf("DefaultRounds = %d, want 15", cfg.Game.DefaultRounds)
	}
	if cfg.Game.GuessWindow != 20*time.Second {
		t.Errorf("GuessWindow = %s, want 20s", cfg.Game.GuessWindow)
	}
	if cfg.Rooms.IdleTTL != 30*time.Minute {
		t.Errorf("IdleTTL = %s, want 30m", cfg.Rooms.IdleTTL)
	}
	// Untouched keys keep their defaults.
	if cfg.Game.MaxRounds != 50 {
		t.Errorf("MaxRounds = %d, want 50", cfg.Game.MaxRounds)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(`port: "8080"`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "9090")
	t.Setenv("GAME_MAX_ROUNDS", "25")
	t.Setenv("ROOM_IDLE_TTL", "2h")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want env override 9090", cfg.Port)
	}
	if cfg.Game.MaxRounds != 25 {
		t.Errorf("MaxRounds = %d, want 25", cfg.Game.MaxRounds)
	}
	if cfg.Rooms.IdleTTL != 2*time.Hour {
		t.Errorf("IdleTTL = %s, want 2h", cfg.Rooms.IdleTTL)
	}
	if cfg.NATSURL != "nats://localhost:4222" {
		t.Errorf("NATSURL = %q", cfg.NATSURL)
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected a parse error")
	}
}
