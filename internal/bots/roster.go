package bots

import (
	"math"
	"time"

	"fpsarena/server/internal/combat"
	"fpsarena/server/internal/physics"
)

// Roster owns the match's bots. It is driven by the tick goroutine only.
type Roster struct {
	bots []Bot
	rng  Random
}

// NewRoster seeds the six bots at their spawn points with random facing.
// A disabled roster is empty.
func NewRoster(enabled bool, rng Random) *Roster {
	r := &Roster{rng: rng}
	if !enabled {
		return r
	}
	r.bots = make([]Bot, len(Names))
	for i := range r.bots {
		r.bots[i] = Bot{
			ID:       i,
			Name:     Names[i],
			Position: SpawnPointFor(i),
			Rotation: rng.Float64() * 2 * math.Pi,
			Health:   physics.MaxHealth,
			State:    StateIdle,
			Ammo:     MagazineSize,
		}
	}
	return r
}

// Len returns the number of bots.
func (r *Roster) Len() int {
	if r == nil {
		return 0
	}
	return len(r.bots)
}

// Step advances every bot by one tick and returns the shots fired, in id order.
func (r *Roster) Step(now time.Duration, dt float64, player physics.Vec3) []Shot {
	if r == nil {
		return nil
	}
	var shots []Shot
	for i := range r.bots {
		b := &r.bots[i]
		//1.- Dead bots only wait for their respawn deadline this tick.
		if b.State == StateDead {
			if now >= b.RespawnAt {
				b.respawn()
			}
			continue
		}
		if shot := think(b, r.rng, now, dt, player); shot != nil {
			shots = append(shots, *shot)
		}
	}
	return shots
}

// Candidates lists bots for hit resolution in roster order.
func (r *Roster) Candidates() []combat.Target {
	if r == nil {
		return nil
	}
	out := make([]combat.Target, len(r.bots))
	for i := range r.bots {
		out[i] = combat.Target{Index: i, Position: r.bots[i].Position, Alive: r.bots[i].Alive()}
	}
	return out
}

// Damage applies amount to a live bot and reports whether it died.
func (r *Roster) Damage(index, amount int, now time.Duration) bool {
	if r == nil || index < 0 || index >= len(r.bots) {
		return false
	}
	b := &r.bots[index]
	if !b.Alive() {
		return false
	}
	b.Health -= amount
	if b.Health > 0 {
		return false
	}
	b.Health = 0
	b.State = StateDead
	b.Deaths++
	b.RespawnAt = now + RespawnDelay
	return true
}

// CreditKill increments a bot's kill count.
func (r *Roster) CreditKill(id int) {
	if r == nil || id < 0 || id >= len(r.bots) {
		return
	}
	r.bots[id].Kills++
}

// Reset restores every bot for a new match without moving it.
func (r *Roster) Reset() {
	if r == nil {
		return
	}
	for i := range r.bots {
		b := &r.bots[i]
		b.Health = physics.MaxHealth
		b.Kills = 0
		b.Deaths = 0
		b.State = StateIdle
		b.Ammo = MagazineSize
		b.RespawnAt = 0
	}
}

// Snapshot returns deep copies of the bots.
func (r *Roster) Snapshot() []Bot {
	if r == nil {
		return nil
	}
	out := make([]Bot, len(r.bots))
	for i := range r.bots {
		out[i] = r.bots[i].clone()
	}
	return out
}

// Bot returns a copy of one bot.
func (r *Roster) Bot(id int) (Bot, bool) {
	if r == nil || id < 0 || id >= len(r.bots) {
		return Bot{}, false
	}
	return r.bots[id].clone(), true
}
