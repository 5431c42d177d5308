package bots

import (
	"time"

	"fpsarena/server/internal/physics"
)

// State is the bot behaviour mode.
type State string

const (
	StateIdle    State = "idle"
	StateChasing State = "chasing"
	StateDead    State = "dead"
)

// Names are assigned to bots by id.
var Names = [...]string{"Alpha", "Bravo", "Charlie", "Delta", "Echo", "Foxtrot"}

// SpawnPoints are indexed by bot id modulo their count.
var SpawnPoints = [...]physics.Vec3{
	{X: 20, Y: physics.GroundHeight, Z: 20},
	{X: -20, Y: physics.GroundHeight, Z: 20},
	{X: 20, Y: physics.GroundHeight, Z: -20},
	{X: -20, Y: physics.GroundHeight, Z: -20},
	{X: 30, Y: physics.GroundHeight, Z: 0},
	{X: -30, Y: physics.GroundHeight, Z: 0},
}

// SpawnPointFor returns the respawn location for a bot id.
func SpawnPointFor(id int) physics.Vec3 {
	if id < 0 {
		id = -id
	}
	return SpawnPoints[id%len(SpawnPoints)]
}

// Bot is one AI opponent. Bots live in the roster slice and are mutated in place.
type Bot struct {
	ID        int           `json:"id"`
	Name      string        `json:"name"`
	Position  physics.Vec3  `json:"position"`
	Rotation  float64       `json:"rotation"`
	Health    int           `json:"health"`
	Kills     int           `json:"kills"`
	Deaths    int           `json:"deaths"`
	State     State         `json:"state"`
	Target    *physics.Vec3 `json:"target,omitempty"`
	LastShot  time.Duration `json:"last_shot_ns"`
	Ammo      int           `json:"ammo"`
	RespawnAt time.Duration `json:"respawn_at_ns"`
	hasFired  bool
}

// Alive reports whether the bot can act and be hit.
func (b *Bot) Alive() bool { return b.State != StateDead }

func (b *Bot) respawn() {
	b.Position = SpawnPointFor(b.ID)
	b.Health = physics.MaxHealth
	b.State = StateIdle
	b.Ammo = MagazineSize
	b.Target = nil
}

func (b *Bot) clone() Bot {
	out := *b
	if b.Target != nil {
		target := *b.Target
		out.Target = &target
	}
	return out
}
