package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"fpsarena/server/internal/config"
	"fpsarena/server/internal/events"
	"fpsarena/server/internal/logging"
	"fpsarena/server/internal/match"
	"fpsarena/server/internal/replay"
	"fpsarena/server/internal/rpc"
	"fpsarena/server/internal/simulation"
	"fpsarena/server/internal/transport"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Address:         "127.0.0.1:0",
		GRPCAddress:     "127.0.0.1:0",
		TickRate:        120,
		MatchDuration:   config.DefaultMatchDuration,
		BotsEnabled:     true,
		Seed:            11,
		GRPCSecret:      "grpc-secret",
		ReplayDir:       t.TempDir(),
		ReplayRetain:    config.DefaultReplayRetain,
		ReplayMaxAge:    config.DefaultReplayMaxAge,
		AdminToken:      "ops",
		PingInterval:    config.DefaultPingInterval,
		MaxPayloadBytes: config.DefaultMaxPayloadBytes,
		SnapshotBudget:  config.DefaultSnapshotBudget,
	}
}

type running struct {
	srv      *server
	httpAddr string
	grpcAddr string
	cancel   context.CancelFunc
	done     chan error
}

func startServer(t *testing.T, cfg *config.Config) *running {
	t.Helper()
	srv, err := newServer(cfg, logging.NewTestLogger())
	require.NoError(t, err)
	httpListener, err := net.Listen("tcp", cfg.Address)
	require.NoError(t, err)
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddress)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{
		srv:      srv,
		httpAddr: httpListener.Addr().String(),
		grpcAddr: grpcListener.Addr().String(),
		cancel:   cancel,
		done:     make(chan error, 1),
	}
	go func() { r.done <- srv.serve(ctx, httpListener, grpcListener) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-r.done:
		case <-time.After(10 * time.Second):
		}
	})
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + r.httpAddr + "/readyz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	return r
}

func (r *running) stop(t *testing.T) {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerPlaysAndSealsReplay(t *testing.T) {
	cfg := testConfig(t)
	r := startServer(t, cfg)

	//1.- A presentation client captures the view and fires one round.
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+r.httpAddr+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"seq":1,"type":"capture","engaged":true}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"seq":2,"type":"fire"}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg transport.ServerMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type != transport.MessageEvent || msg.Event.Kind != events.KindAmmo {
			continue
		}
		payload, ok := msg.Event.Payload.(map[string]any)
		require.True(t, ok)
		if payload["ammo"] == float64(29) {
			break
		}
	}

	//2.- The control RPC requires the shared secret and sees the same match.
	cc, err := grpc.NewClient(r.grpcAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(rpc.SharedSecret(cfg.GRPCSecret)))
	require.NoError(t, err)
	defer cc.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	board, err := rpc.NewClient(cc).Scoreboard(ctx)
	require.NoError(t, err)
	require.Len(t, board.Bots, 6)

	//3.- Operators can force the replay to disk while the match runs.
	req, err := http.NewRequest(http.MethodPost, "http://"+r.httpAddr+"/replay/flush", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+cfg.AdminToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + r.httpAddr + "/metrics")
	require.NoError(t, err)
	var body strings.Builder
	_, err = io.Copy(&body, resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Contains(t, body.String(), "arena_ticks_total")
	require.Contains(t, body.String(), "arena_clients 1")

	r.stop(t)

	//4.- Shutdown writes the header that marks the bundle complete.
	bundle, err := replay.LoadBundle(r.srv.writer.Directory())
	require.NoError(t, err)
	require.NotNil(t, bundle.Header)
	require.Equal(t, r.srv.sim.MatchID().String(), bundle.Header.MatchID)
	require.EqualValues(t, 11, bundle.Header.Seed)
	require.NotEmpty(t, bundle.Header.Scoreboard)
	require.NotEmpty(t, bundle.EventsOfType(simulation.CommandEventType))
	require.NotEmpty(t, bundle.Frames)
}

func TestServerReadinessTracksLoop(t *testing.T) {
	cfg := testConfig(t)
	cfg.ReplayDir = ""
	srv, err := newServer(cfg, logging.NewTestLogger())
	require.NoError(t, err)
	require.ErrorIs(t, srv.StartupError(), errLoopStopped)
	require.Nil(t, srv.writer)
	require.Nil(t, srv.cleaner)

	r := startServer(t, cfg)
	require.NoError(t, r.srv.StartupError())
	r.stop(t)
	require.ErrorIs(t, r.srv.StartupError(), errLoopStopped)
}

func TestNewServerRejectsNilConfig(t *testing.T) {
	if _, err := newServer(nil, nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestFinalSummaryIgnoresEndOfEarlierMatch(t *testing.T) {
	stream := events.NewStream(events.Config{})
	_, err := stream.Publish(events.KindMatchEnd, 40, match.Summary{Kills: 3, Deaths: 1, TimeElapsedSeconds: 300})
	require.NoError(t, err)

	//1.- After a restart the old match_end is still the newest of its kind.
	require.Nil(t, finalSummary(stream, &simulation.Snapshot{Ended: false}))
	require.Nil(t, finalSummary(stream, nil))

	summary := finalSummary(stream, &simulation.Snapshot{Ended: true})
	require.NotNil(t, summary)
	require.Equal(t, 3, summary.Kills)
}
