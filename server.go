package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"fpsarena/server/internal/auth"
	"fpsarena/server/internal/config"
	"fpsarena/server/internal/events"
	httpapi "fpsarena/server/internal/http"
	"fpsarena/server/internal/input"
	"fpsarena/server/internal/logging"
	"fpsarena/server/internal/match"
	"fpsarena/server/internal/replay"
	"fpsarena/server/internal/rpc"
	"fpsarena/server/internal/simulation"
	"fpsarena/server/internal/transport"
)

const (
	shutdownGrace      = 5 * time.Second
	retentionInterval  = time.Hour
	replayFlushCooling = 10 * time.Second
)

var errLoopStopped = errors.New("simulation loop not running")

// server owns every long-lived component of one arena process.
type server struct {
	cfg     *config.Config
	log     *logging.Logger
	sim     *simulation.Sim
	loop    *simulation.Loop
	monitor *simulation.TickMonitor
	gate    *input.Gate
	hub     *transport.Hub
	writer  *replay.Writer
	cleaner *replay.Cleaner
	http    *http.Server
	grpc    *grpc.Server

	started time.Time
	running atomic.Bool
}

// newServer wires the simulation to its transports without opening listeners.
func newServer(cfg *config.Config, logger *logging.Logger) (*server, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if logger == nil {
		logger = logging.L()
	}
	s := &server{cfg: cfg, log: logger, started: time.Now()}

	//1.- Resolve the seed up front so the replay manifest and the match agree.
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	matchID := uuid.New()
	step := cfg.TickInterval()
	logger.Info("match configured",
		logging.String("match_id", matchID.String()),
		logging.Uint64("seed", seed),
		logging.Bool("bots", cfg.BotsEnabled),
		logging.Duration("duration", cfg.MatchDuration),
		logging.Duration("step", step))

	opts := []simulation.Option{
		simulation.WithLogger(logger.With(logging.String("component", "simulation"))),
		simulation.WithSeed(seed),
		simulation.WithMatchID(matchID),
		simulation.WithBots(cfg.BotsEnabled),
		simulation.WithMatchDuration(cfg.MatchDuration),
	}

	//2.- Recording is optional; a broken replay directory must not block play.
	if cfg.ReplayDir != "" {
		writer, manifest, err := replay.NewWriter(cfg.ReplayDir, replay.Settings{
			MatchID:         matchID.String(),
			Seed:            seed,
			StepNs:          int64(step),
			BotsEnabled:     cfg.BotsEnabled,
			MatchDurationMs: cfg.MatchDuration.Milliseconds(),
		}, time.Now)
		if err != nil {
			logger.Error("replay recording disabled", logging.Error(err), logging.String("directory", cfg.ReplayDir))
		} else {
			s.writer = writer
			opts = append(opts, simulation.WithRecorder(writer))
			logger.Info("replay recording enabled",
				logging.String("directory", writer.Directory()),
				logging.String("created_at", manifest.CreatedAt))
		}
		s.cleaner = replay.NewCleaner(cfg.ReplayDir, replay.RetentionPolicy{
			MaxMatches: cfg.ReplayRetain,
			MaxAge:     cfg.ReplayMaxAge,
		}, logger.With(logging.String("component", "replay_retention")))
	}

	s.sim = simulation.New(opts...)
	s.monitor = simulation.NewTickMonitor(step)
	s.loop = simulation.NewLoop(float64(cfg.TickRate), s.sim.Step, s.monitor)
	s.gate = input.NewGate(logger.With(logging.String("component", "input_gate")))

	var authenticator auth.Authenticator = auth.AllowAll{}
	if cfg.AuthSecret != "" {
		verifier, err := auth.NewTokenVerifier(cfg.AuthSecret, 5*time.Second)
		if err != nil {
			return nil, fmt.Errorf("configure websocket auth: %w", err)
		}
		authenticator = auth.NewRequestAuthenticator(verifier)
	}
	s.hub = transport.NewHub(s.sim, s.gate,
		transport.WithAuthenticator(authenticator),
		transport.WithAllowedOrigins(cfg.AllowedOrigins),
		transport.WithPingInterval(cfg.PingInterval),
		transport.WithMaxPayload(cfg.MaxPayloadBytes),
		transport.WithSnapshotBudget(float64(cfg.SnapshotBudget)),
		transport.WithLogger(logger.With(logging.String("component", "transport"))))

	s.http = &http.Server{Addr: cfg.Address, Handler: s.routes(), ReadHeaderTimeout: 5 * time.Second}

	s.grpc = grpc.NewServer(rpc.ServerOptions(cfg.GRPCSecret, logger)...)
	rpc.Register(s.grpc, rpc.NewService(s.sim, s.gate, logger))
	return s, nil
}

func (s *server) routes() http.Handler {
	opts := httpapi.Options{
		Logger:      s.log.With(logging.String("component", "http")),
		Readiness:   s,
		Ticks:       s.monitor.Snapshot,
		Clients:     s.hub.Stats,
		Drops:       s.gate.Totals,
		Scoreboard:  s.sim.Scoreboard,
		ReplayStats: s.cleaner.Stats,
		AdminToken:  s.cfg.AdminToken,
		RateLimiter: httpapi.NewCooldown(replayFlushCooling, nil),
	}
	if s.writer != nil {
		opts.Replay = httpapi.ReplayFlusherFunc(s.flushReplay)
	}
	mux := http.NewServeMux()
	httpapi.NewHandlerSet(opts).Register(mux)
	mux.Handle("/ws", s.hub)
	return logging.HTTPTraceMiddleware(s.log)(mux)
}

// StartupError implements httpapi.ReadinessProvider.
func (s *server) StartupError() error {
	if !s.running.Load() {
		return errLoopStopped
	}
	return nil
}

// Uptime implements httpapi.ReadinessProvider.
func (s *server) Uptime() time.Duration { return time.Since(s.started) }

func (s *server) flushReplay(context.Context) (string, error) {
	if err := s.writer.Flush(); err != nil {
		return "", err
	}
	return s.writer.Directory(), nil
}

// run serves until ctx ends, then shuts every component down and seals the replay.
func (s *server) run(ctx context.Context) error {
	httpListener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	grpcListener, err := net.Listen("tcp", s.cfg.GRPCAddress)
	if err != nil {
		httpListener.Close()
		return fmt.Errorf("listen grpc: %w", err)
	}
	return s.serve(ctx, httpListener, grpcListener)
}

func (s *server) serve(ctx context.Context, httpListener, grpcListener net.Listener) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		s.running.Store(true)
		defer s.running.Store(false)
		s.log.Info("simulation loop started", logging.Int("tick_hz", s.cfg.TickRate))
		err := s.loop.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		address := httpListener.Addr().String()
		s.log.Info("http listening",
			logging.String("url", listenerURL("http", address, "")),
			logging.String("websocket", listenerURL("ws", address, "/ws")))
		if err := s.http.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		s.log.Info("grpc listening", logging.String("address", normaliseHostPort(grpcListener.Addr().String())))
		if err := s.grpc.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	if s.cleaner != nil {
		group.Go(func() error { return s.cleaner.Run(ctx, retentionInterval) })
	}
	group.Go(func() error {
		<-ctx.Done()
		s.shutdown()
		return nil
	})

	err := group.Wait()
	s.sealReplay()
	return err
}

func (s *server) shutdown() {
	s.log.Info("shutting down")
	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http shutdown incomplete", logging.Error(err))
	}
	//1.- Streaming RPCs never finish on their own, so fall back to a hard stop.
	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		s.grpc.Stop()
	}
}

// sealReplay stores the final standings and writes the bundle header.
func (s *server) sealReplay() {
	if s.writer == nil {
		return
	}
	s.writer.SetOutcome(finalSummary(s.sim.Events(), s.sim.Snapshot()), s.sim.Scoreboard().Ranked())
	if err := s.writer.Close(); err != nil {
		s.log.Error("replay close failed", logging.Error(err))
		return
	}
	s.log.Info("replay sealed", logging.String("directory", s.writer.Directory()))
}

// finalSummary returns the match_end payload only while the current match
// is over. The stream keeps the newest match_end across restarts.
func finalSummary(stream *events.Stream, snap *simulation.Snapshot) *match.Summary {
	if snap == nil || !snap.Ended {
		return nil
	}
	for _, envelope := range stream.Latest() {
		if summary, ok := envelope.MatchEnd(); ok {
			return &summary
		}
	}
	return nil
}
