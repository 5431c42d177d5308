package bots

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"pgregory.net/rapid"

	"fpsarena/server/internal/combat"
	"fpsarena/server/internal/physics"
)

// scripted replays a fixed sequence of rolls, then repeats the last one.
type scripted struct {
	rolls []float64
	i     int
}

func (s *scripted) Float64() float64 {
	if len(s.rolls) == 0 {
		return 0.5
	}
	if s.i >= len(s.rolls) {
		return s.rolls[len(s.rolls)-1]
	}
	v := s.rolls[s.i]
	s.i++
	return v
}

const ms = time.Millisecond

func far() physics.Vec3 { return physics.Vec3{X: 500, Y: physics.GroundHeight, Z: 500} }

func TestNewRosterSeedsSixBots(t *testing.T) {
	r := NewRoster(true, rand.New(rand.NewPCG(1, 2)))
	snap := r.Snapshot()
	if len(snap) != 6 {
		t.Fatalf("expected 6 bots, got %d", len(snap))
	}
	for i, b := range snap {
		if b.ID != i || b.Name != Names[i] || b.Position != SpawnPoints[i] {
			t.Fatalf("unexpected bot %d: %+v", i, b)
		}
		if b.Health != 100 || b.Ammo != 30 || b.State != StateIdle {
			t.Fatalf("unexpected initial stats for %s: %+v", b.Name, b)
		}
		if b.Rotation < 0 || b.Rotation >= 2*math.Pi {
			t.Fatalf("rotation out of range: %f", b.Rotation)
		}
	}
	if NewRoster(false, &scripted{}).Len() != 0 {
		t.Fatal("expected disabled roster to be empty")
	}
}

func TestBotDiesAfterFourHitsAndRespawns(t *testing.T) {
	r := NewRoster(true, &scripted{})
	now := 5 * time.Second

	//1.- Three hits leave 25 health, the fourth kills.
	for i := 0; i < 3; i++ {
		if r.Damage(2, combat.PlayerShotDamage, now) {
			t.Fatalf("bot died early on hit %d", i+1)
		}
	}
	if !r.Damage(2, combat.PlayerShotDamage, now) {
		t.Fatal("expected fourth hit to kill")
	}
	b, _ := r.Bot(2)
	if b.State != StateDead || b.Health != 0 || b.Deaths != 1 || b.RespawnAt != now+3000*ms {
		t.Fatalf("unexpected dead bot %+v", b)
	}
	if r.Damage(2, combat.PlayerShotDamage, now) {
		t.Fatal("expected dead bot to ignore damage")
	}
	if r.Candidates()[2].Alive {
		t.Fatal("expected dead bot to be excluded from hits")
	}

	//2.- The bot stays dead until the deadline, then returns at its spawn point.
	r.bots[2].Position = physics.Vec3{X: 1, Y: physics.GroundHeight, Z: 1}
	r.bots[2].Ammo = 3
	r.Step(now+2999*ms, 1.0/60, far())
	if b, _ := r.Bot(2); b.State != StateDead {
		t.Fatalf("bot respawned early: %+v", b)
	}
	r.Step(now+3000*ms, 1.0/60, far())
	b, _ = r.Bot(2)
	if b.State != StateIdle || b.Health != 100 || b.Ammo != 30 || b.Position != SpawnPoints[2] || b.Target != nil {
		t.Fatalf("unexpected respawned bot %+v", b)
	}
}

func TestChasingBotFiresAndRollsHit(t *testing.T) {
	r := NewRoster(true, &scripted{rolls: []float64{0.5}})
	r.bots = r.bots[:1]
	r.bots[0].Position = physics.Vec3{X: 0, Y: physics.GroundHeight, Z: 10}
	player := physics.Vec3{Y: physics.GroundHeight}

	//1.- Rolls: jitter x, jitter z, hit roll.
	r.rng = &scripted{rolls: []float64{0.5, 0.5, 0.1}}
	shots := r.Step(time.Second, 0.1, player)
	if len(shots) != 1 || !shots[0].Hit || shots[0].BotID != 0 {
		t.Fatalf("expected one hitting shot, got %+v", shots)
	}
	if shots[0].Origin != (physics.Vec3{Y: physics.GroundHeight, Z: 10}) {
		t.Fatalf("expected shot from pre-move position, got %+v", shots[0].Origin)
	}
	if math.Abs(shots[0].Direction.Z-(-1)) > 1e-9 {
		t.Fatalf("expected shot toward the player, got %+v", shots[0].Direction)
	}
	b, _ := r.Bot(0)
	if b.State != StateChasing || b.Ammo != 29 || b.LastShot != time.Second {
		t.Fatalf("unexpected chasing bot %+v", b)
	}
	if b.Position != (physics.Vec3{Y: physics.GroundHeight, Z: 10}) {
		t.Fatalf("expected bot inside standoff range to hold position, got %+v", b.Position)
	}

	//2.- The 300ms gap is exclusive.
	if shots := r.Step(time.Second+300*ms, 0.1, player); len(shots) != 0 {
		t.Fatalf("expected no shot at exactly 300ms, got %+v", shots)
	}
	r.rng = &scripted{rolls: []float64{0.5, 0.5, 0.3}}
	shots = r.Step(time.Second+301*ms, 0.1, player)
	if len(shots) != 1 || shots[0].Hit {
		t.Fatalf("expected a missed shot, got %+v", shots)
	}
}

func TestBotBeyondStandoffClosesDistance(t *testing.T) {
	r := NewRoster(true, &scripted{rolls: []float64{0.5, 0.5, 0.9}})
	r.bots = r.bots[:1]
	r.bots[0].Position = physics.Vec3{X: 25, Y: physics.GroundHeight}
	player := physics.Vec3{Y: physics.GroundHeight}

	shots := r.Step(time.Second, 0.2, player)
	b, _ := r.Bot(0)
	if math.Abs(b.Position.X-24) > 1e-9 {
		t.Fatalf("expected bot to advance one unit, got %+v", b.Position)
	}
	if len(shots) != 1 || shots[0].Hit {
		t.Fatalf("expected an out-of-hit-range shot, got %+v", shots)
	}
	if math.Abs(b.Rotation-(-math.Pi/2)) > 1e-9 {
		t.Fatalf("expected bot facing -X, got %f", b.Rotation)
	}
}

func TestEmptyBotRefillsAfterDelay(t *testing.T) {
	r := NewRoster(true, &scripted{rolls: []float64{0.5}})
	r.bots = r.bots[:1]
	r.bots[0].Ammo = 0
	r.bots[0].LastShot = time.Second
	r.bots[0].hasFired = true

	r.Step(3*time.Second, 0.016, far())
	if b, _ := r.Bot(0); b.Ammo != 0 {
		t.Fatalf("expected no refill at exactly 2000ms, got %d", b.Ammo)
	}
	r.Step(3*time.Second+ms, 0.016, far())
	if b, _ := r.Bot(0); b.Ammo != 30 {
		t.Fatalf("expected refill after 2000ms, got %d", b.Ammo)
	}
}

func TestIdleBotClearsTargetOnArrival(t *testing.T) {
	r := NewRoster(true, &scripted{rolls: []float64{0.5}})
	r.bots = r.bots[:1]
	target := physics.Vec3{X: 21, Y: physics.GroundHeight, Z: 20}
	r.bots[0].Target = &target

	r.Step(time.Second, 0.016, far())
	if b, _ := r.Bot(0); b.Target != nil || b.State != StateIdle {
		t.Fatalf("expected target cleared on arrival, got %+v", b)
	}
}

func TestResetRestoresStatsInPlace(t *testing.T) {
	r := NewRoster(true, &scripted{})
	r.CreditKill(1)
	r.Damage(1, 100, time.Second)
	r.bots[1].Ammo = 4
	r.Reset()
	b, _ := r.Bot(1)
	if b.Kills != 0 || b.Deaths != 0 || b.Health != 100 || b.State != StateIdle || b.Ammo != 30 || b.RespawnAt != 0 {
		t.Fatalf("unexpected reset bot %+v", b)
	}
}

func TestWanderTargetsStayInsideArena(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seed := rapid.Uint64().Draw(t, "seed")
		r := NewRoster(true, rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
		now := time.Duration(0)
		for i := 0; i < 200; i++ {
			now += 16 * ms
			r.Step(now, 0.016, far())
			for _, b := range r.Snapshot() {
				if b.Target == nil {
					continue
				}
				if math.Abs(b.Target.X) > WanderExtent/2 || math.Abs(b.Target.Z) > WanderExtent/2 || b.Target.Y != physics.GroundHeight {
					t.Fatalf("wander target out of bounds: %+v", *b.Target)
				}
			}
		}
	})
}

func TestBotCountersStayInRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seed := rapid.Uint64().Draw(t, "seed")
		r := NewRoster(true, rand.New(rand.NewPCG(seed, 7)))
		now := time.Duration(0)
		steps := rapid.IntRange(1, 300).Draw(t, "steps")
		player := physics.Vec3{Y: physics.GroundHeight}
		for i := 0; i < steps; i++ {
			now += time.Duration(rapid.IntRange(0, 50).Draw(t, "gap_ms")) * ms
			if rapid.IntRange(0, 9).Draw(t, "damage") == 0 {
				r.Damage(rapid.IntRange(0, 5).Draw(t, "victim"), combat.PlayerShotDamage, now)
			}
			r.Step(now, 0.016, player)
			for _, b := range r.Snapshot() {
				if b.Health < 0 || b.Health > 100 || b.Ammo < 0 || b.Ammo > 30 {
					t.Fatalf("counter out of range: %+v", b)
				}
				if (b.State == StateDead) != (b.Health == 0) {
					t.Fatalf("dead state and zero health disagree: %+v", b)
				}
			}
		}
	})
}

func TestChasingBotReturnsToIdleAtDetectRange(t *testing.T) {
	r := NewRoster(true, &scripted{rolls: []float64{0.9}})
	r.bots = r.bots[:1]
	r.bots[0].Position = physics.Vec3{Y: physics.GroundHeight}

	//1.- Inside the standoff the bot chases without moving.
	r.Step(time.Second, 0.1, physics.Vec3{X: 10, Y: physics.GroundHeight})
	if b, _ := r.Bot(0); b.State != StateChasing || b.Position != (physics.Vec3{Y: physics.GroundHeight}) {
		t.Fatalf("expected a stationary chasing bot, got %+v", b)
	}

	//2.- Just inside the range it keeps chasing; exactly 30 units away it gives up.
	r.Step(time.Second+100*ms, 0.1, physics.Vec3{X: 29.999, Y: physics.GroundHeight})
	b, _ := r.Bot(0)
	if b.State != StateChasing {
		t.Fatalf("expected chase to continue under 30 units, got %s", b.State)
	}
	r.bots[0].Position = physics.Vec3{Y: physics.GroundHeight}
	r.Step(time.Second+200*ms, 0.1, physics.Vec3{X: 30, Y: physics.GroundHeight})
	if b, _ := r.Bot(0); b.State != StateIdle {
		t.Fatalf("expected idle at exactly 30 units, got %s", b.State)
	}
}

func TestIdleBotWalksTowardTargetAtWanderSpeed(t *testing.T) {
	cases := []struct {
		name   string
		target physics.Vec3
		want   physics.Vec3
	}{
		{name: "axis", target: physics.Vec3{X: 10, Y: physics.GroundHeight}, want: physics.Vec3{X: 0.3}},
		{name: "diagonal", target: physics.Vec3{X: 6, Y: physics.GroundHeight, Z: 8}, want: physics.Vec3{X: 0.18, Z: 0.24}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			//1.- A high roll keeps the current wander target.
			r := NewRoster(true, &scripted{rolls: []float64{0.9}})
			r.bots = r.bots[:1]
			r.bots[0].Position = physics.Vec3{Y: physics.GroundHeight}
			target := tc.target
			r.bots[0].Target = &target

			r.Step(time.Second, 0.1, far())
			b, _ := r.Bot(0)
			if b.State != StateIdle || b.Target == nil || *b.Target != tc.target {
				t.Fatalf("expected idle bot keeping its target, got %+v", b)
			}
			moved := b.Position.Sub(physics.Vec3{Y: physics.GroundHeight})
			if math.Abs(moved.X-tc.want.X) > 1e-9 || math.Abs(moved.Z-tc.want.Z) > 1e-9 || moved.Y != 0 {
				t.Fatalf("expected displacement %+v, got %+v", tc.want, moved)
			}
			if math.Abs(moved.Len()-WanderSpeed*0.1) > 1e-9 {
				t.Fatalf("expected %.2f units per step, got %f", WanderSpeed*0.1, moved.Len())
			}
		})
	}
}
