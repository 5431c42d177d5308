package simulation

import (
	"encoding/json"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"fpsarena/server/internal/bots"
	"fpsarena/server/internal/combat"
	"fpsarena/server/internal/events"
	"fpsarena/server/internal/input"
	"fpsarena/server/internal/logging"
	"fpsarena/server/internal/match"
	"fpsarena/server/internal/physics"
	"fpsarena/server/internal/state"
)

// MaxFrameDelta caps the seconds integrated by one tick after a stall.
const MaxFrameDelta = 250 * time.Millisecond

// CommandEventType tags recorded commands in the replay event log.
const CommandEventType = "command"

// Recorder persists the command log and sampled snapshots of a match.
type Recorder interface {
	AppendEvent(tick uint64, simulatedMs int64, eventType string, payload []byte) error
	AppendFrame(tick uint64, simulatedMs int64, payload []byte) error
}

// Snapshot is the immutable per-tick view handed to readers outside the tick goroutine.
type Snapshot struct {
	Tick          uint64           `json:"tick"`
	Now           time.Duration    `json:"now_ns"`
	Paused        bool             `json:"paused"`
	Captured      bool             `json:"captured"`
	Ended         bool             `json:"ended"`
	Remaining     int              `json:"remaining_seconds"`
	Player        physics.Player   `json:"player"`
	Aim           physics.Aim      `json:"aim"`
	Intent        physics.Intent   `json:"intent"`
	Ammo          combat.AmmoState `json:"ammo"`
	Reloading     bool             `json:"reloading"`
	Bots          []bots.Bot       `json:"bots"`
	Bullets       []state.Bullet   `json:"bullets"`
	BulletChanges state.BulletDiff `json:"bullet_changes"`
}

// Option customises a Sim at construction time.
type Option func(*settings)

type settings struct {
	logger   *logging.Logger
	seed     uint64
	seeded   bool
	bots     bool
	duration time.Duration
	recorder Recorder
	stream   *events.Stream
	matchID  uuid.UUID
}

// WithLogger routes simulation logs to the provided logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSeed fixes the random source so a match can be re-simulated.
func WithSeed(seed uint64) Option {
	return func(s *settings) {
		s.seed = seed
		s.seeded = true
	}
}

// WithBots toggles the bot roster.
func WithBots(enabled bool) Option {
	return func(s *settings) { s.bots = enabled }
}

// WithMatchDuration overrides the countdown length.
func WithMatchDuration(d time.Duration) Option {
	return func(s *settings) { s.duration = d }
}

// WithRecorder attaches a replay recorder.
func WithRecorder(recorder Recorder) Option {
	return func(s *settings) { s.recorder = recorder }
}

// WithStream publishes HUD events to an existing stream.
func WithStream(stream *events.Stream) Option {
	return func(s *settings) {
		if stream != nil {
			s.stream = stream
		}
	}
}

// WithMatchID namespaces bullet ids so replays regenerate the same ids.
func WithMatchID(id uuid.UUID) Option {
	return func(s *settings) {
		if id != uuid.Nil {
			s.matchID = id
		}
	}
}

// Sim owns the authoritative match state. Tick and Step must be called from a
// single goroutine; Submit, Snapshot and Scoreboard are safe from any goroutine.
type Sim struct {
	logger   *logging.Logger
	stream   *events.Stream
	recorder Recorder
	seed     uint64
	matchID  uuid.UUID
	bots     bool

	queueMu sync.Mutex
	queue   []input.Command

	clock     Clock
	now       time.Duration
	tick      uint64
	weapon    *combat.Weapon
	player    *physics.Player
	roster    *bots.Roster
	bullets   *state.BulletRegistry
	timer     *match.Timer
	intent    physics.Intent
	aim       physics.Aim
	captured  bool
	paused    bool
	lastStats events.PlayerStats
	lastClock int

	snapshot atomic.Pointer[Snapshot]
}

// New constructs a simulation at the start of a match.
func New(opts ...Option) *Sim {
	cfg := settings{bots: true, duration: match.DefaultDuration}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = logging.L()
	}
	if cfg.stream == nil {
		cfg.stream = events.NewStream(events.Config{})
	}
	if !cfg.seeded {
		cfg.seed = rand.Uint64()
	}
	if cfg.matchID == uuid.Nil {
		cfg.matchID = uuid.New()
	}

	//1.- Every random draw in the match comes from one seeded PCG stream.
	rng := rand.New(rand.NewPCG(cfg.seed, cfg.seed^0x9e3779b97f4a7c15))
	s := &Sim{
		logger:   cfg.logger,
		stream:   cfg.stream,
		recorder: cfg.recorder,
		seed:     cfg.seed,
		matchID:  cfg.matchID,
		bots:     cfg.bots,
		weapon:   combat.NewWeapon(combat.DefaultRifle()),
		player:   physics.NewPlayer(),
		roster:   bots.NewRoster(cfg.bots, rng),
		bullets:  state.NewBulletRegistry(state.SequentialIDs(cfg.matchID)),
		timer:    match.NewTimer(match.WithDuration(cfg.duration)),
	}
	s.lastClock = s.timer.Remaining()
	s.lastStats = s.stats()
	s.publishSnapshot(state.BulletDiff{})
	return s
}

// Seed returns the seed of the match random source.
func (s *Sim) Seed() uint64 { return s.seed }

// MatchID returns the namespace used for bullet ids.
func (s *Sim) MatchID() uuid.UUID { return s.matchID }

// BotsEnabled reports whether the roster was populated.
func (s *Sim) BotsEnabled() bool { return s.bots }

// MatchDuration is the configured countdown length.
func (s *Sim) MatchDuration() time.Duration { return s.timer.Duration() }

// Events exposes the HUD event stream.
func (s *Sim) Events() *events.Stream { return s.stream }

// Submit queues a command for the next tick. Scoreboard queries are answered
// from snapshots and never enter the queue.
func (s *Sim) Submit(cmd input.Command) error {
	if err := cmd.Normalize(); err != nil {
		return err
	}
	if cmd.Kind == input.KindScoreboard {
		return nil
	}
	s.queueMu.Lock()
	s.queue = append(s.queue, cmd)
	s.queueMu.Unlock()
	return nil
}

// Snapshot returns the state published by the latest tick.
func (s *Sim) Snapshot() *Snapshot { return s.snapshot.Load() }

// Scoreboard builds the ranking inputs from the latest snapshot.
func (s *Sim) Scoreboard() match.Scoreboard {
	snap := s.Snapshot()
	board := match.Scoreboard{Player: match.Line{Name: match.PlayerName, Kills: snap.Player.Kills, Deaths: snap.Player.Deaths}}
	board.Bots = make([]match.Line, 0, len(snap.Bots))
	for _, b := range snap.Bots {
		board.Bots = append(board.Bots, match.Line{Name: b.Name, Kills: b.Kills, Deaths: b.Deaths})
	}
	return board
}

// Step advances the match clock by a fixed step and runs one tick.
func (s *Sim) Step(step time.Duration) {
	now := s.clock.Advance(step)
	s.Tick(now, step)
}

// Tick advances the match to now, integrating dt of simulated time.
func (s *Sim) Tick(now, dt time.Duration) {
	//1.- Sanitise the frame delta and keep the match clock monotonic.
	dt = max(0, min(dt, MaxFrameDelta))
	if now > s.now {
		s.now = now
	}
	now = s.now
	s.tick++

	//2.- Apply the commands that arrived since the previous tick in order.
	for _, cmd := range s.drain() {
		s.record(CommandEventType, cmd)
		s.apply(cmd, now)
	}

	if !s.paused {
		s.advance(now, dt)
	}

	//3.- Publish the HUD deltas and the snapshot for readers.
	s.publishStats()
	diff := s.bullets.ConsumeDiff()
	snap := s.publishSnapshot(diff)
	s.recordFrame(snap)
}

func (s *Sim) advance(now, dt time.Duration) {
	seconds := dt.Seconds()

	//1.- Finish reloads and respawns whose deadlines have passed.
	if s.weapon.Advance(now) {
		s.publishAmmo()
	}
	s.player.AdvanceRespawn(now)

	//2.- Move the player and let the bots think against the new position.
	s.player.Integrate(s.intent, s.aim, s.captured, seconds)
	for _, shot := range s.roster.Step(now, seconds, s.player.Position) {
		s.bullets.Spawn(shot.Origin, shot.Direction, &shot.BotID, now)
		if !shot.Hit {
			continue
		}
		if s.player.TakeDamage(combat.BotShotDamage, now) {
			s.roster.CreditKill(shot.BotID)
			s.publishElimination(s.botName(shot.BotID), match.PlayerName)
		}
	}

	//3.- Expire tracers and run the countdown.
	s.bullets.Prune(now)
	if s.timer.Advance(dt) {
		s.endMatch()
	}
	if remaining := s.timer.Remaining(); remaining != s.lastClock {
		s.lastClock = remaining
		s.publish(events.KindMatchClock, events.MatchClock{RemainingSeconds: remaining})
	}
}

func (s *Sim) apply(cmd input.Command, now time.Duration) {
	//1.- Presses are swallowed while paused; releases still clear held keys.
	if s.paused && cmd.IsPress() {
		return
	}
	switch cmd.Kind {
	case input.KindKey:
		s.setKey(cmd.Key, cmd.Pressed)
	case input.KindJump:
		s.player.Jump()
	case input.KindAim:
		if s.captured {
			s.aim = physics.Aim{Yaw: cmd.Yaw, Pitch: cmd.Pitch}.Clamped()
		}
	case input.KindFire:
		s.fire(now)
	case input.KindReload:
		if s.weapon.Reload(now) {
			s.publishAmmo()
		}
	case input.KindCapture:
		s.capture(cmd)
	case input.KindPause:
		if s.paused {
			return
		}
		s.paused = true
		s.captured = false
		s.publishControl("")
	case input.KindResume:
		if !s.paused || s.timer.Ended() {
			return
		}
		s.paused = false
		s.publishControl("")
	case input.KindRestart:
		s.restart()
	}
}

func (s *Sim) setKey(key input.Key, pressed bool) {
	switch key {
	case input.KeyForward:
		s.intent.Forward = pressed
	case input.KeyBack:
		s.intent.Back = pressed
	case input.KeyLeft:
		s.intent.Left = pressed
	case input.KeyRight:
		s.intent.Right = pressed
	}
}

func (s *Sim) capture(cmd input.Command) {
	if cmd.Engaged {
		if s.paused || s.captured {
			return
		}
		s.captured = true
		s.publishControl("")
		return
	}
	//1.- A failed capture leaves the match running in the click-to-resume state.
	if cmd.Reason != "" {
		s.logger.Warn("aim capture failed", logging.String("reason", cmd.Reason), logging.Uint64("tick", s.tick))
	}
	if !s.captured && cmd.Reason == "" {
		return
	}
	s.captured = false
	s.publishControl(cmd.Reason)
}

func (s *Sim) fire(now time.Duration) {
	//1.- Only a captured, running view can shoot.
	if !s.captured || s.paused {
		return
	}
	if !s.weapon.Fire(now) {
		return
	}
	//2.- Spawn the tracer from the muzzle and resolve the hit instantly.
	direction := s.aim.Direction()
	muzzle := s.player.Muzzle()
	s.bullets.Spawn(muzzle, direction, nil, now)
	result := combat.ResolvePlayerShot(physics.NewRay(muzzle, direction), s.roster, now)
	if result.Killed {
		s.player.Kills++
		s.publishElimination(match.PlayerName, s.botName(result.Index))
	}
	s.publishAmmo()
}

func (s *Sim) restart() {
	//1.- Restore every participant and the countdown; the match clock keeps running.
	s.weapon.Reset()
	s.bullets.Reset()
	s.player.Reset()
	s.roster.Reset()
	s.timer.Reset()
	s.paused = false
	s.captured = false
	s.lastClock = s.timer.Remaining()
	s.logger.Info("match restarted", logging.Uint64("tick", s.tick))

	//2.- Re-announce the HUD baseline.
	s.publishAmmo()
	s.publish(events.KindMatchClock, events.MatchClock{RemainingSeconds: s.lastClock})
	s.publishControl("")
}

func (s *Sim) endMatch() {
	summary := match.Summary{
		Kills:              s.player.Kills,
		Deaths:             s.player.Deaths,
		TimeElapsedSeconds: int(s.timer.Duration() / time.Second),
	}
	s.paused = true
	s.captured = false
	s.logger.Info("match ended",
		logging.Int("kills", summary.Kills),
		logging.Int("deaths", summary.Deaths),
		logging.Float64("kd_ratio", summary.KDRatio()))
	s.publish(events.KindMatchEnd, summary)
	s.publishControl("")
}

func (s *Sim) drain() []input.Command {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	pending := s.queue
	s.queue = nil
	return pending
}

func (s *Sim) botName(id int) string {
	if b, ok := s.roster.Bot(id); ok {
		return b.Name
	}
	return ""
}

func (s *Sim) stats() events.PlayerStats {
	return events.PlayerStats{Health: s.player.Health, Kills: s.player.Kills, Deaths: s.player.Deaths}
}

func (s *Sim) publishStats() {
	current := s.stats()
	if current == s.lastStats {
		return
	}
	s.lastStats = current
	s.publish(events.KindPlayerStats, current)
}

func (s *Sim) publishAmmo() {
	ammo := s.weapon.State()
	s.publish(events.KindAmmo, events.AmmoUpdate{Ammo: ammo.Ammo, Reserve: ammo.Reserve, Reloading: s.weapon.Reloading()})
}

func (s *Sim) publishControl(reason string) {
	s.publish(events.KindControl, events.Control{Paused: s.paused, Captured: s.captured, Reason: reason})
}

func (s *Sim) publishElimination(killer, victim string) {
	s.publish(events.KindElimination, events.Elimination{Killer: killer, Victim: victim})
}

func (s *Sim) publish(kind events.Kind, payload any) {
	if _, err := s.stream.Publish(kind, s.tick, payload); err != nil {
		s.logger.Warn("publish event failed", logging.String("kind", string(kind)), logging.Error(err))
	}
}

func (s *Sim) publishSnapshot(diff state.BulletDiff) *Snapshot {
	snap := &Snapshot{
		Tick:          s.tick,
		Now:           s.now,
		Paused:        s.paused,
		Captured:      s.captured,
		Ended:         s.timer.Ended(),
		Remaining:     s.timer.Remaining(),
		Player:        *s.player,
		Aim:           s.aim,
		Intent:        s.intent,
		Ammo:          s.weapon.State(),
		Reloading:     s.weapon.Reloading(),
		Bots:          s.roster.Snapshot(),
		Bullets:       s.bullets.Snapshot(),
		BulletChanges: diff,
	}
	s.snapshot.Store(snap)
	return snap
}

func (s *Sim) record(eventType string, value any) {
	if s.recorder == nil {
		return
	}
	payload, err := json.Marshal(value)
	if err == nil {
		err = s.recorder.AppendEvent(s.tick, s.now.Milliseconds(), eventType, payload)
	}
	if err != nil {
		s.disableRecorder(err)
	}
}

func (s *Sim) recordFrame(snap *Snapshot) {
	if s.recorder == nil {
		return
	}
	payload, err := json.Marshal(snap)
	if err == nil {
		err = s.recorder.AppendFrame(snap.Tick, snap.Now.Milliseconds(), payload)
	}
	if err != nil {
		s.disableRecorder(err)
	}
}

func (s *Sim) disableRecorder(err error) {
	s.logger.Error("replay recording disabled", logging.Error(err), logging.Uint64("tick", s.tick))
	s.recorder = nil
}

// TickCommand is a command applied at the start of a specific tick.
type TickCommand struct {
	Tick    uint64
	Command input.Command
}

// Rerun drives a fresh simulation through ticks fixed steps, feeding each
// recorded command into the tick it was originally applied in. Commands must
// be ordered by tick.
func Rerun(step time.Duration, ticks uint64, commands []TickCommand, opts ...Option) *Sim {
	sim := New(opts...)
	next := 0
	for tick := uint64(1); tick <= ticks; tick++ {
		for next < len(commands) && commands[next].Tick <= tick {
			if err := sim.Submit(commands[next].Command); err != nil {
				sim.logger.Warn("skipping recorded command", logging.Uint64("tick", commands[next].Tick), logging.Error(err))
			}
			next++
		}
		sim.Step(step)
	}
	return sim
}
