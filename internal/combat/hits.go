package combat

import (
	"time"

	"fpsarena/server/internal/physics"
)

const (
	// PlayerShotDamage is dealt to a bot struck by a player bullet.
	PlayerShotDamage = 25
	// BotShotDamage is dealt to the player on a successful bot hit roll.
	BotShotDamage = 15
	// HitRadius is the ray-to-center distance under which a bot is struck.
	HitRadius = 1.5
	// BotHitChance is the probability that a bot shot within range connects.
	BotHitChance = 0.2
	// BotHitRange is the exclusive distance limit for bot hits.
	BotHitRange = 20.0
)

// Target is a hittable entity as seen by hit resolution.
type Target struct {
	Index    int
	Position physics.Vec3
	Alive    bool
}

// Targets is implemented by whatever owns the hittable entities.
type Targets interface {
	Candidates() []Target
	Damage(index, amount int, now time.Duration) (killed bool)
}

// PlayerShotResult reports what a player bullet struck.
type PlayerShotResult struct {
	Hit    bool
	Index  int
	Killed bool
}

// FirstHit scans candidates in order and returns the first live one whose
// center lies within HitRadius of the ray.
func FirstHit(ray physics.Ray, candidates []Target) (int, bool) {
	for _, candidate := range candidates {
		if !candidate.Alive {
			continue
		}
		if ray.DistanceToPoint(candidate.Position) < HitRadius {
			return candidate.Index, true
		}
	}
	return -1, false
}

// ResolvePlayerShot applies damage to at most one target struck by the ray.
func ResolvePlayerShot(ray physics.Ray, targets Targets, now time.Duration) PlayerShotResult {
	if targets == nil {
		return PlayerShotResult{Index: -1}
	}
	//1.- Pick the first struck target in roster order.
	index, ok := FirstHit(ray, targets.Candidates())
	if !ok {
		return PlayerShotResult{Index: -1}
	}
	//2.- Only the first target takes damage even if others overlap the ray.
	killed := targets.Damage(index, PlayerShotDamage, now)
	return PlayerShotResult{Hit: true, Index: index, Killed: killed}
}

// ResolveBotShot decides a bot shot from a uniform roll in [0,1) and the
// bot to player distance at firing time.
func ResolveBotShot(roll, distance float64) bool {
	return roll < BotHitChance && distance < BotHitRange
}
