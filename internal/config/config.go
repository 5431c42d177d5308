package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the HTTP/WebSocket listen address.
	DefaultAddr = ":8080"
	// DefaultGRPCAddr is the match control gRPC listen address.
	DefaultGRPCAddr = ":9090"
	// DefaultTickRate is the simulation frequency in Hz.
	DefaultTickRate = 60
	// DefaultMatchDuration is the countdown length of a match.
	DefaultMatchDuration = 300 * time.Second
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 64 << 10
	// DefaultSnapshotBudget caps snapshot bytes per second per WebSocket client.
	DefaultSnapshotBudget = 256 << 10
	// DefaultReplayRetain caps the number of completed replay bundles kept on disk.
	DefaultReplayRetain = 20
	// DefaultReplayMaxAge removes replay bundles older than a week.
	DefaultReplayMaxAge = 7 * 24 * time.Hour

	DefaultLogLevel      = "info"
	DefaultLogPath       = "arena.log"
	DefaultLogMaxSizeMB  = 100
	DefaultLogMaxBackups = 10
	DefaultLogMaxAgeDays = 7
	DefaultLogCompress   = true
)

// Config captures all runtime tunables for the arena server.
type Config struct {
	Address         string
	GRPCAddress     string
	AllowedOrigins  []string
	TickRate        int
	MatchDuration   time.Duration
	BotsEnabled     bool
	Seed            uint64
	AuthSecret      string
	GRPCSecret      string
	ReplayDir       string
	ReplayRetain    int
	ReplayMaxAge    time.Duration
	AdminToken      string
	PingInterval    time.Duration
	MaxPayloadBytes int64
	SnapshotBudget  int
	Logging         LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// TickInterval converts the configured rate into a ticker period.
func (c *Config) TickInterval() time.Duration {
	if c == nil || c.TickRate <= 0 {
		return time.Second / DefaultTickRate
	}
	return time.Second / time.Duration(c.TickRate)
}

// Load reads the arena configuration from ARENA_* environment variables,
// applying defaults and aggregating every invalid override into one error.
func Load() (*Config, error) {
	cfg := &Config{
		Address:         getString("ARENA_ADDR", DefaultAddr),
		GRPCAddress:     getString("ARENA_GRPC_ADDR", DefaultGRPCAddr),
		AllowedOrigins:  parseList(os.Getenv("ARENA_ALLOWED_ORIGINS")),
		TickRate:        DefaultTickRate,
		MatchDuration:   DefaultMatchDuration,
		BotsEnabled:     true,
		AuthSecret:      strings.TrimSpace(os.Getenv("ARENA_AUTH_SECRET")),
		GRPCSecret:      strings.TrimSpace(os.Getenv("ARENA_GRPC_SECRET")),
		ReplayDir:       strings.TrimSpace(os.Getenv("ARENA_REPLAY_DIR")),
		ReplayRetain:    DefaultReplayRetain,
		ReplayMaxAge:    DefaultReplayMaxAge,
		AdminToken:      strings.TrimSpace(os.Getenv("ARENA_ADMIN_TOKEN")),
		PingInterval:    DefaultPingInterval,
		MaxPayloadBytes: DefaultMaxPayloadBytes,
		SnapshotBudget:  DefaultSnapshotBudget,
		Logging: LoggingConfig{
			Level:      getString("ARENA_LOG_LEVEL", DefaultLogLevel),
			Path:       getString("ARENA_LOG_PATH", DefaultLogPath),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("ARENA_TICK_HZ")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 || value > 1000 {
			problems = append(problems, fmt.Sprintf("ARENA_TICK_HZ must be an integer in 1..1000, got %q", raw))
		} else {
			cfg.TickRate = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ARENA_MATCH_DURATION")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration < time.Second {
			problems = append(problems, fmt.Sprintf("ARENA_MATCH_DURATION must be a duration of at least 1s, got %q", raw))
		} else {
			cfg.MatchDuration = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ARENA_BOTS_ENABLED")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("ARENA_BOTS_ENABLED must be a boolean value, got %q", raw))
		} else {
			cfg.BotsEnabled = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ARENA_RNG_SEED")); raw != "" {
		value, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			problems = append(problems, fmt.Sprintf("ARENA_RNG_SEED must be an unsigned integer, got %q", raw))
		} else {
			cfg.Seed = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ARENA_REPLAY_RETAIN")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("ARENA_REPLAY_RETAIN must be a non-negative integer, got %q", raw))
		} else {
			cfg.ReplayRetain = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ARENA_REPLAY_MAX_AGE")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration < 0 {
			problems = append(problems, fmt.Sprintf("ARENA_REPLAY_MAX_AGE must be a non-negative duration, got %q", raw))
		} else {
			cfg.ReplayMaxAge = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ARENA_PING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("ARENA_PING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PingInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ARENA_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("ARENA_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ARENA_SNAPSHOT_BUDGET_BYTES")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("ARENA_SNAPSHOT_BUDGET_BYTES must be a non-negative integer, got %q", raw))
		} else {
			cfg.SnapshotBudget = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ARENA_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("ARENA_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ARENA_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("ARENA_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ARENA_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("ARENA_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ARENA_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("ARENA_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if cfg.Address == cfg.GRPCAddress {
		problems = append(problems, "ARENA_ADDR and ARENA_GRPC_ADDR must differ")
	}

	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
