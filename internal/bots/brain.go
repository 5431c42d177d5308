package bots

import (
	"time"

	"fpsarena/server/internal/combat"
	"fpsarena/server/internal/physics"
)

const (
	// DetectRange is the distance under which a bot chases the player.
	DetectRange = 30.0
	// FireRange gates shooting while chasing.
	FireRange = 40.0
	// StandoffRange is the distance a chasing bot stops closing at.
	StandoffRange = 15.0
	// ChaseSpeed and WanderSpeed are horizontal speeds in units per second.
	ChaseSpeed  = 5.0
	WanderSpeed = 3.0
	// ArriveRadius clears a wander target once the bot is this close.
	ArriveRadius = 2.0
	// WanderExtent is the side of the square wander targets are drawn from.
	WanderExtent = 60.0
	// RetargetChance is the per-tick probability of picking a new wander target.
	RetargetChance = 0.01
	// AimSpread is the full width of the x/z jitter added to bot shots.
	AimSpread = 0.1
	// MagazineSize is a bot's ammo after spawn or refill.
	MagazineSize = 30
	// FireInterval is the minimum gap between bot shots (exclusive).
	FireInterval = 300 * time.Millisecond
	// RefillDelay is how long an empty bot waits before refilling (exclusive).
	RefillDelay = 2000 * time.Millisecond
	// RespawnDelay is how long a killed bot stays dead.
	RespawnDelay = 3000 * time.Millisecond
)

// Random is the subset of *rand.Rand the brain draws from.
type Random interface {
	Float64() float64
}

// Shot is a bot bullet fired during a step. Hit is already resolved.
type Shot struct {
	BotID     int
	Origin    physics.Vec3
	Direction physics.Vec3
	Distance  float64
	Hit       bool
}

// think advances one live bot and returns a shot when it fired.
func think(b *Bot, rng Random, now time.Duration, dt float64, player physics.Vec3) *Shot {
	origin := b.Position
	distance := origin.DistanceTo(player)

	if distance < DetectRange {
		//1.- Chase: face the player, close the gap and possibly fire.
		b.State = StateChasing
		target := player
		b.Target = &target
		offset := player.Sub(origin)
		b.Rotation = physics.YawToward(offset)
		heading := offset.Horizontal().Normalize()
		if distance > StandoffRange {
			b.Position.X += heading.X * ChaseSpeed * dt
			b.Position.Z += heading.Z * ChaseSpeed * dt
		}
		if distance < FireRange && b.Ammo > 0 && (!b.hasFired || now-b.LastShot > FireInterval) {
			//2.- Jitter draws precede the hit roll so seeded matches replay exactly.
			aim := heading
			aim.X += (rng.Float64() - 0.5) * AimSpread
			aim.Z += (rng.Float64() - 0.5) * AimSpread
			hit := combat.ResolveBotShot(rng.Float64(), distance)
			b.LastShot = now
			b.hasFired = true
			b.Ammo--
			return &Shot{BotID: b.ID, Origin: origin, Direction: aim.Normalize(), Distance: distance, Hit: hit}
		}
	} else {
		//3.- Wander: keep or redraw a target, then walk to it.
		b.State = StateIdle
		if b.Target == nil || rng.Float64() < RetargetChance {
			b.Target = &physics.Vec3{
				X: (rng.Float64() - 0.5) * WanderExtent,
				Y: physics.GroundHeight,
				Z: (rng.Float64() - 0.5) * WanderExtent,
			}
		}
		if origin.DistanceTo(*b.Target) > ArriveRadius {
			heading := b.Target.Sub(origin).Horizontal().Normalize()
			b.Position.X += heading.X * WanderSpeed * dt
			b.Position.Z += heading.Z * WanderSpeed * dt
			b.Rotation = physics.YawToward(heading)
		} else {
			b.Target = nil
		}
	}

	//4.- An empty bot refills once it has been quiet long enough.
	if b.Ammo == 0 && now-b.LastShot > RefillDelay {
		b.Ammo = MagazineSize
	}
	return nil
}
