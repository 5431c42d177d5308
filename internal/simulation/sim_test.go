package simulation

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"fpsarena/server/internal/bots"
	"fpsarena/server/internal/events"
	"fpsarena/server/internal/input"
	"fpsarena/server/internal/logging"
	"fpsarena/server/internal/match"
	"fpsarena/server/internal/physics"
)

const testStep = time.Second / 60

type memoryRecorder struct {
	commands []TickCommand
	frames   int
	last     []byte
}

func (r *memoryRecorder) AppendEvent(tick uint64, _ int64, eventType string, payload []byte) error {
	if eventType != CommandEventType {
		return nil
	}
	var cmd input.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return err
	}
	r.commands = append(r.commands, TickCommand{Tick: tick, Command: cmd})
	return nil
}

func (r *memoryRecorder) AppendFrame(_ uint64, _ int64, payload []byte) error {
	r.frames++
	r.last = append(r.last[:0], payload...)
	return nil
}

func newTestSim(opts ...Option) *Sim {
	return New(append([]Option{WithLogger(logging.NewTestLogger()), WithSeed(7)}, opts...)...)
}

func submit(t *testing.T, sim *Sim, cmds ...input.Command) {
	t.Helper()
	for _, cmd := range cmds {
		if err := sim.Submit(cmd); err != nil {
			t.Fatalf("submit %s: %v", cmd.Kind, err)
		}
	}
}

func latest(sim *Sim, kind events.Kind) *events.Envelope {
	for _, envelope := range sim.Events().Latest() {
		if envelope.Kind == kind {
			return envelope
		}
	}
	return nil
}

func aimAt(snap *Snapshot, target physics.Vec3) input.Command {
	offset := target.Sub(snap.Player.Muzzle())
	return input.Command{
		Kind:  input.KindAim,
		Yaw:   math.Atan2(-offset.X, -offset.Z),
		Pitch: math.Atan2(offset.Y, math.Hypot(offset.X, offset.Z)),
	}
}

var captureCmd = input.Command{Kind: input.KindCapture, Engaged: true}

func TestFireRequiresCapturedView(t *testing.T) {
	sim := newTestSim(WithBots(false))

	//1.- Without capture the trigger is ignored.
	submit(t, sim, input.Command{Kind: input.KindFire})
	sim.Step(testStep)
	if ammo := sim.Snapshot().Ammo; ammo.Ammo != 30 || ammo.Reserve != 90 {
		t.Fatalf("expected untouched ammo, got %+v", ammo)
	}

	//2.- Capturing the view lets the shot through and spawns a player tracer.
	submit(t, sim, captureCmd, input.Command{Kind: input.KindFire})
	sim.Step(testStep)
	snap := sim.Snapshot()
	if snap.Ammo.Ammo != 29 || len(snap.Bullets) != 1 || !snap.Bullets[0].FromPlayer() {
		t.Fatalf("unexpected snapshot after firing: ammo=%+v bullets=%+v", snap.Ammo, snap.Bullets)
	}
	if len(snap.BulletChanges.Spawned) != 1 {
		t.Fatalf("expected spawn to be reported in tick changes, got %+v", snap.BulletChanges)
	}
	envelope := latest(sim, events.KindAmmo)
	if envelope == nil || envelope.Payload != (events.AmmoUpdate{Ammo: 29, Reserve: 90}) {
		t.Fatalf("unexpected ammo event %+v", envelope)
	}
}

func TestBulletsExpireAfterLifetime(t *testing.T) {
	sim := newTestSim(WithBots(false))
	submit(t, sim, captureCmd, input.Command{Kind: input.KindFire})
	sim.Step(testStep)
	for i := 0; i < 59; i++ {
		sim.Step(testStep)
	}
	if got := len(sim.Snapshot().Bullets); got != 1 {
		t.Fatalf("expected bullet alive just under a second, got %d", got)
	}
	sim.Step(testStep)
	sim.Step(testStep)
	snap := sim.Snapshot()
	if len(snap.Bullets) != 0 {
		t.Fatalf("expected bullet pruned, got %+v", snap.Bullets)
	}
}

func TestReloadCompletesOnDeadline(t *testing.T) {
	sim := newTestSim(WithBots(false))
	submit(t, sim, captureCmd, input.Command{Kind: input.KindFire})
	sim.Step(testStep)
	submit(t, sim, input.Command{Kind: input.KindReload})
	sim.Step(testStep)
	if !sim.Snapshot().Reloading {
		t.Fatal("expected reload in progress")
	}
	//1.- 1.5s of ticks completes the reload and tops the magazine back up.
	for i := 0; i < 91; i++ {
		sim.Step(testStep)
	}
	snap := sim.Snapshot()
	if snap.Reloading || snap.Ammo.Ammo != 30 || snap.Ammo.Reserve != 89 {
		t.Fatalf("unexpected ammo after reload %+v reloading=%v", snap.Ammo, snap.Reloading)
	}
}

func TestPausedIgnoresPressesButKeepsReleases(t *testing.T) {
	sim := newTestSim(WithBots(false))
	submit(t, sim, captureCmd, input.Command{Kind: input.KindKey, Key: input.KeyForward, Pressed: true})
	sim.Step(testStep)
	submit(t, sim, input.Command{Kind: input.KindPause})
	sim.Step(testStep)
	paused := sim.Snapshot()
	if !paused.Paused || paused.Captured {
		t.Fatalf("expected paused and released view, got paused=%v captured=%v", paused.Paused, paused.Captured)
	}

	//1.- Presses are dropped, the release still clears the held key.
	submit(t, sim,
		input.Command{Kind: input.KindKey, Key: input.KeyForward},
		input.Command{Kind: input.KindKey, Key: input.KeyLeft, Pressed: true},
		input.Command{Kind: input.KindFire},
		input.Command{Kind: input.KindJump},
	)
	sim.Step(testStep)
	snap := sim.Snapshot()
	if snap.Intent != (physics.Intent{}) {
		t.Fatalf("expected no held keys, got %+v", snap.Intent)
	}
	if snap.Ammo.Ammo != 30 {
		t.Fatalf("expected no shot while paused, got %+v", snap.Ammo)
	}
	//2.- The countdown is frozen while paused.
	if snap.Remaining != paused.Remaining || snap.Player.Position != paused.Player.Position {
		t.Fatalf("expected frozen state while paused")
	}

	submit(t, sim, input.Command{Kind: input.KindResume})
	sim.Step(testStep)
	control := latest(sim, events.KindControl)
	if control == nil || control.Payload != (events.Control{}) {
		t.Fatalf("expected resumed control event, got %+v", control)
	}
}

func TestCaptureFailureReportsReason(t *testing.T) {
	sim := newTestSim(WithBots(false))
	submit(t, sim, input.Command{Kind: input.KindCapture, Reason: "pointer lock denied"})
	sim.Step(testStep)
	control := latest(sim, events.KindControl)
	if control == nil || control.Payload != (events.Control{Reason: "pointer lock denied"}) {
		t.Fatalf("unexpected control event %+v", control)
	}
	if sim.Snapshot().Tick != 1 {
		t.Fatalf("expected tick loop to keep running")
	}
}

func TestMovementOnlyWhileCaptured(t *testing.T) {
	sim := newTestSim(WithBots(false))
	submit(t, sim, input.Command{Kind: input.KindKey, Key: input.KeyForward, Pressed: true})
	sim.Step(testStep)
	if pos := sim.Snapshot().Player.Position; pos != physics.SpawnPoint {
		t.Fatalf("expected no movement without capture, got %+v", pos)
	}
	submit(t, sim, captureCmd)
	for i := 0; i < 60; i++ {
		sim.Step(testStep)
	}
	pos := sim.Snapshot().Player.Position
	if math.Abs(pos.Z+10) > 1e-6 || pos.X != 0 || pos.Y != physics.GroundHeight {
		t.Fatalf("expected ten units forward along -Z, got %+v", pos)
	}
}

func TestPlayerKillsBotAfterFourHits(t *testing.T) {
	sim := newTestSim()
	submit(t, sim, captureCmd)

	//1.- Re-aim at Alpha before every shot; shots are spaced past the fire interval.
	for i := 0; i < 40; i++ {
		if i%7 == 0 {
			snap := sim.Snapshot()
			submit(t, sim, aimAt(snap, snap.Bots[0].Position), input.Command{Kind: input.KindFire})
		}
		sim.Step(testStep)
	}

	snap := sim.Snapshot()
	alpha := snap.Bots[0]
	if alpha.State != bots.StateDead || alpha.Health != 0 || alpha.Deaths != 1 {
		t.Fatalf("expected Alpha dead once, got %+v", alpha)
	}
	if snap.Player.Kills != 1 {
		t.Fatalf("expected one player kill, got %d", snap.Player.Kills)
	}
	elimination := latest(sim, events.KindElimination)
	require.NotNil(t, elimination)
	require.Equal(t, events.Elimination{Killer: match.PlayerName, Victim: "Alpha"}, elimination.Payload)

	board := sim.Scoreboard().Ranked()
	require.Equal(t, match.PlayerName, board[0].Name)
	require.Equal(t, 1, board[0].Kills)
}

func TestMatchEndsOnceAndPauses(t *testing.T) {
	sim := newTestSim(WithBots(false), WithMatchDuration(time.Second))
	sub, err := sim.Events().Subscribe(context.Background(), "hud", 256)
	require.NoError(t, err)
	defer sub.Release()

	for i := 0; i < 200; i++ {
		sim.Step(testStep)
	}
	snap := sim.Snapshot()
	require.True(t, snap.Ended)
	require.True(t, snap.Paused)
	require.Zero(t, snap.Remaining)

	//1.- Count the end events delivered so far.
	ends := 0
	var summary match.Summary
	for drained := false; !drained; {
		select {
		case envelope := <-sub.Events():
			if s, ok := envelope.MatchEnd(); ok {
				ends++
				summary = s
			}
		default:
			drained = true
		}
	}
	require.Equal(t, 1, ends)
	require.Equal(t, match.Summary{TimeElapsedSeconds: 1}, summary)

	//2.- Resume cannot revive an ended match; restart can.
	submit(t, sim, input.Command{Kind: input.KindResume})
	sim.Step(testStep)
	require.True(t, sim.Snapshot().Paused)
	submit(t, sim, input.Command{Kind: input.KindRestart})
	sim.Step(testStep)
	snap = sim.Snapshot()
	require.False(t, snap.Paused)
	require.False(t, snap.Ended)
	require.Equal(t, 1, snap.Remaining)
}

func TestRestartResetsEverything(t *testing.T) {
	sim := newTestSim()
	submit(t, sim, captureCmd)
	for i := 0; i < 30; i++ {
		if i%7 == 0 {
			snap := sim.Snapshot()
			submit(t, sim, aimAt(snap, snap.Bots[1].Position), input.Command{Kind: input.KindFire})
		}
		sim.Step(testStep)
	}
	require.Less(t, sim.Snapshot().Ammo.Ammo, 30)

	submit(t, sim, input.Command{Kind: input.KindRestart})
	sim.Step(testStep)
	snap := sim.Snapshot()
	require.Equal(t, 30, snap.Ammo.Ammo)
	require.Equal(t, 90, snap.Ammo.Reserve)
	for _, bullet := range snap.Bullets {
		require.False(t, bullet.FromPlayer(), "player tracer survived restart")
	}
	require.Equal(t, physics.MaxHealth, snap.Player.Health)
	require.Zero(t, snap.Player.Kills)
	require.False(t, snap.Captured)
	for _, b := range snap.Bots {
		require.Equal(t, physics.MaxHealth, b.Health, "bot %s", b.Name)
		require.Zero(t, b.Kills)
		require.Zero(t, b.Deaths)
	}
	require.Equal(t, int(match.DefaultDuration/time.Second), snap.Remaining)
	ammo := latest(sim, events.KindAmmo)
	require.NotNil(t, ammo)
	require.Equal(t, events.AmmoUpdate{Ammo: 30, Reserve: 90}, ammo.Payload)
}

func TestTickClampsDeltaAndKeepsClockMonotonic(t *testing.T) {
	sim := newTestSim(WithBots(false))
	submit(t, sim, captureCmd, input.Command{Kind: input.KindKey, Key: input.KeyForward, Pressed: true})
	//1.- A five second stall integrates only the capped quarter second.
	sim.Tick(time.Second, 5*time.Second)
	//2.- A clock running backwards neither rewinds time nor moves the player.
	sim.Tick(500*time.Millisecond, -time.Second)
	snap := sim.Snapshot()
	if snap.Now != time.Second || snap.Tick != 2 {
		t.Fatalf("unexpected clock state now=%v tick=%d", snap.Now, snap.Tick)
	}
	if math.Abs(snap.Player.Position.Z+2.5) > 1e-9 {
		t.Fatalf("expected 2.5 units of travel, got %+v", snap.Player.Position)
	}
}

func TestRerunReproducesRecordedMatch(t *testing.T) {
	matchID := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	recorder := &memoryRecorder{}
	live := newTestSim(WithSeed(42), WithMatchID(matchID), WithRecorder(recorder))

	//1.- Drive a scripted session touching movement, combat, reload and pause.
	const ticks = 600
	for tick := 1; tick <= ticks; tick++ {
		switch {
		case tick == 1 || tick == 421:
			submit(t, live, captureCmd)
		case tick == 200:
			submit(t, live, input.Command{Kind: input.KindKey, Key: input.KeyLeft, Pressed: true})
		case tick == 260:
			submit(t, live, input.Command{Kind: input.KindKey, Key: input.KeyLeft})
		case tick == 300:
			submit(t, live, input.Command{Kind: input.KindReload}, input.Command{Kind: input.KindJump})
		case tick == 400:
			submit(t, live, input.Command{Kind: input.KindPause})
		case tick == 420:
			submit(t, live, input.Command{Kind: input.KindResume})
		case tick%9 == 0:
			snap := live.Snapshot()
			submit(t, live, aimAt(snap, snap.Bots[tick%len(snap.Bots)].Position), input.Command{Kind: input.KindFire})
		}
		live.Step(testStep)
	}
	require.NotEmpty(t, recorder.commands)
	require.Equal(t, ticks, recorder.frames)

	//2.- Re-simulate from the command log alone and compare the final state.
	replayed := Rerun(testStep, ticks, recorder.commands,
		WithLogger(logging.NewTestLogger()), WithSeed(42), WithMatchID(matchID))
	want, err := json.Marshal(live.Snapshot())
	require.NoError(t, err)
	got, err := json.Marshal(replayed.Snapshot())
	require.NoError(t, err)
	require.JSONEq(t, string(want), string(got))
	require.JSONEq(t, string(recorder.last), string(got))
	require.Equal(t, live.Scoreboard(), replayed.Scoreboard())
}

func TestSubmitRejectsInvalidCommands(t *testing.T) {
	sim := newTestSim(WithBots(false))
	if err := sim.Submit(input.Command{Kind: "teleport"}); err == nil {
		t.Fatal("expected unknown command to be rejected")
	}
	if err := sim.Submit(input.Command{Kind: input.KindScoreboard}); err != nil {
		t.Fatalf("scoreboard query should be accepted: %v", err)
	}
}
