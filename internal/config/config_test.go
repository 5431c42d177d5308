package config

import (
	"strings"
	"testing"
	"time"
)

var arenaKeys = []string{
	"ARENA_ADDR", "ARENA_GRPC_ADDR", "ARENA_ALLOWED_ORIGINS", "ARENA_TICK_HZ",
	"ARENA_MATCH_DURATION", "ARENA_BOTS_ENABLED", "ARENA_RNG_SEED",
	"ARENA_AUTH_SECRET", "ARENA_GRPC_SECRET", "ARENA_REPLAY_DIR",
	"ARENA_REPLAY_RETAIN", "ARENA_REPLAY_MAX_AGE", "ARENA_ADMIN_TOKEN",
	"ARENA_SNAPSHOT_BUDGET_BYTES",
	"ARENA_PING_INTERVAL", "ARENA_MAX_PAYLOAD_BYTES", "ARENA_LOG_LEVEL",
	"ARENA_LOG_PATH", "ARENA_LOG_MAX_SIZE_MB", "ARENA_LOG_MAX_BACKUPS",
	"ARENA_LOG_MAX_AGE_DAYS", "ARENA_LOG_COMPRESS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range arenaKeys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Address != DefaultAddr || cfg.GRPCAddress != DefaultGRPCAddr {
		t.Fatalf("unexpected listen addresses http=%q grpc=%q", cfg.Address, cfg.GRPCAddress)
	}
	if cfg.AllowedOrigins != nil {
		t.Fatalf("expected no allowed origins, got %#v", cfg.AllowedOrigins)
	}
	if cfg.TickRate != DefaultTickRate {
		t.Fatalf("expected tick rate %d, got %d", DefaultTickRate, cfg.TickRate)
	}
	if cfg.MatchDuration != 300*time.Second {
		t.Fatalf("expected 300s match, got %v", cfg.MatchDuration)
	}
	if !cfg.BotsEnabled {
		t.Fatal("expected bots enabled by default")
	}
	if cfg.Seed != 0 || cfg.AuthSecret != "" || cfg.GRPCSecret != "" || cfg.ReplayDir != "" {
		t.Fatalf("expected optional settings to be empty, got %+v", cfg)
	}
	if cfg.SnapshotBudget != 256*1024 {
		t.Fatalf("expected 256KiB snapshot budget, got %d", cfg.SnapshotBudget)
	}
	if cfg.ReplayRetain != DefaultReplayRetain || cfg.ReplayMaxAge != 168*time.Hour || cfg.AdminToken != "" {
		t.Fatalf("unexpected replay retention defaults: %+v", cfg)
	}
	if cfg.Logging.Path != DefaultLogPath || !cfg.Logging.Compress {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if got := cfg.TickInterval(); got != time.Second/60 {
		t.Fatalf("expected 60Hz interval, got %v", got)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ARENA_ADDR", "127.0.0.1:9000")
	t.Setenv("ARENA_GRPC_ADDR", "127.0.0.1:9001")
	t.Setenv("ARENA_ALLOWED_ORIGINS", "https://arena.example, http://localhost:3000")
	t.Setenv("ARENA_TICK_HZ", "120")
	t.Setenv("ARENA_MATCH_DURATION", "90s")
	t.Setenv("ARENA_BOTS_ENABLED", "false")
	t.Setenv("ARENA_RNG_SEED", "42")
	t.Setenv("ARENA_AUTH_SECRET", "jwt-secret")
	t.Setenv("ARENA_REPLAY_DIR", "/tmp/replays")
	t.Setenv("ARENA_REPLAY_RETAIN", "0")
	t.Setenv("ARENA_REPLAY_MAX_AGE", "24h")
	t.Setenv("ARENA_ADMIN_TOKEN", " ops ")
	t.Setenv("ARENA_SNAPSHOT_BUDGET_BYTES", "0")
	t.Setenv("ARENA_LOG_COMPRESS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://localhost:3000" {
		t.Fatalf("unexpected allowed origins: %#v", cfg.AllowedOrigins)
	}
	if cfg.TickRate != 120 || cfg.TickInterval() != time.Second/120 {
		t.Fatalf("unexpected tick rate %d", cfg.TickRate)
	}
	if cfg.MatchDuration != 90*time.Second {
		t.Fatalf("expected 90s match, got %v", cfg.MatchDuration)
	}
	if cfg.BotsEnabled {
		t.Fatal("expected bots disabled")
	}
	if cfg.Seed != 42 {
		t.Fatalf("expected seed 42, got %d", cfg.Seed)
	}
	if cfg.AuthSecret != "jwt-secret" || cfg.ReplayDir != "/tmp/replays" {
		t.Fatalf("unexpected secrets/replay dir: %+v", cfg)
	}
	if cfg.SnapshotBudget != 0 {
		t.Fatalf("expected snapshot throttling disabled, got %d", cfg.SnapshotBudget)
	}
	if cfg.ReplayRetain != 0 || cfg.ReplayMaxAge != 24*time.Hour || cfg.AdminToken != "ops" {
		t.Fatalf("unexpected replay overrides: retain=%d age=%v token=%q", cfg.ReplayRetain, cfg.ReplayMaxAge, cfg.AdminToken)
	}
	if cfg.Logging.Compress {
		t.Fatal("expected log compression disabled")
	}
}

func TestLoadReturnsValidationErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("ARENA_TICK_HZ", "0")
	t.Setenv("ARENA_MATCH_DURATION", "soon")
	t.Setenv("ARENA_BOTS_ENABLED", "maybe")
	t.Setenv("ARENA_RNG_SEED", "-3")
	t.Setenv("ARENA_REPLAY_RETAIN", "-1")
	t.Setenv("ARENA_REPLAY_MAX_AGE", "forever")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, key := range []string{"ARENA_TICK_HZ", "ARENA_MATCH_DURATION", "ARENA_BOTS_ENABLED", "ARENA_RNG_SEED", "ARENA_REPLAY_RETAIN", "ARENA_REPLAY_MAX_AGE"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected error to mention %s, got %v", key, err)
		}
	}
}

func TestLoadRejectsSharedListenAddress(t *testing.T) {
	clearEnv(t)
	t.Setenv("ARENA_ADDR", ":7000")
	t.Setenv("ARENA_GRPC_ADDR", ":7000")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "must differ") {
		t.Fatalf("expected shared address error, got %v", err)
	}
}
