package physics

import (
	"math"
	"time"
)

const (
	// MoveSpeed is the player's horizontal speed in units per second.
	MoveSpeed = 10.0
	// Gravity is the downward acceleration applied to the player every tick.
	Gravity = 25.0
	// GroundHeight is the eye height the player rests at.
	GroundHeight = 1.8
	// JumpVelocity is the upward speed imparted by a jump.
	JumpVelocity = 8.0
	// MuzzleDrop lowers the muzzle below the eye when spawning bullets.
	MuzzleDrop = 0.2
	// MaxHealth is the full health of players and bots.
	MaxHealth = 100
	// PlayerRespawnDelay is how long the player stays at zero health.
	PlayerRespawnDelay = 2000 * time.Millisecond
	// MaxPitch keeps the aim just short of straight up or down.
	MaxPitch = math.Pi/2 - 1e-3
)

// SpawnPoint is where the player starts and respawns.
var SpawnPoint = Vec3{X: 0, Y: GroundHeight, Z: 0}

// Intent holds the currently held movement keys.
type Intent struct {
	Forward bool `json:"forward"`
	Back    bool `json:"back"`
	Left    bool `json:"left"`
	Right   bool `json:"right"`
}

// Axes converts the held keys into (right-left, forward-back) normalized.
func (i Intent) Axes() (x, z float64) {
	x = b2f(i.Right) - b2f(i.Left)
	z = b2f(i.Forward) - b2f(i.Back)
	if x != 0 && z != 0 {
		x, z = x/math.Sqrt2, z/math.Sqrt2
	}
	return x, z
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Aim is the camera orientation in radians. Yaw rotates about +Y with zero
// looking down -Z; positive pitch looks up.
type Aim struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
}

// Clamped wraps yaw into [-pi, pi) and limits pitch.
func (a Aim) Clamped() Aim {
	yaw := math.Mod(a.Yaw+math.Pi, 2*math.Pi)
	if yaw < 0 {
		yaw += 2 * math.Pi
	}
	return Aim{
		Yaw:   yaw - math.Pi,
		Pitch: math.Max(-MaxPitch, math.Min(MaxPitch, a.Pitch)),
	}
}

// Direction is the unit look vector.
func (a Aim) Direction() Vec3 {
	cp := math.Cos(a.Pitch)
	return Vec3{X: -math.Sin(a.Yaw) * cp, Y: math.Sin(a.Pitch), Z: -math.Cos(a.Yaw) * cp}
}

// Forward is the look vector flattened onto the ground plane.
func (a Aim) Forward() Vec3 {
	return Vec3{X: -math.Sin(a.Yaw), Z: -math.Cos(a.Yaw)}
}

// Right is perpendicular to Forward on the ground plane.
func (a Aim) Right() Vec3 {
	return Vec3{X: math.Cos(a.Yaw), Z: -math.Sin(a.Yaw)}
}

// Player is the human participant. Only vertical velocity persists between
// ticks; horizontal movement is recomputed from intent each tick.
type Player struct {
	Position  Vec3          `json:"position"`
	VelocityY float64       `json:"velocity_y"`
	CanJump   bool          `json:"can_jump"`
	Health    int           `json:"health"`
	Kills     int           `json:"kills"`
	Deaths    int           `json:"deaths"`
	RespawnAt time.Duration `json:"respawn_at_ns"`
	Dead      bool          `json:"dead"`
}

// NewPlayer places a fresh player at the spawn point.
func NewPlayer() *Player {
	p := &Player{}
	p.Reset()
	return p
}

// Reset restores spawn position, full health and zeroed stats.
func (p *Player) Reset() {
	if p == nil {
		return
	}
	*p = Player{Position: SpawnPoint, Health: MaxHealth}
}

// Integrate advances the player by dt seconds. Gravity always accumulates;
// position only changes while the aim is captured.
func (p *Player) Integrate(intent Intent, aim Aim, captured bool, dt float64) {
	if p == nil || !(dt > 0) {
		return
	}
	//1.- Gravity feeds the vertical velocity even while the view is released.
	p.VelocityY -= Gravity * dt
	if !captured {
		return
	}
	//2.- Translate along the camera basis using the normalized key axes.
	x, z := intent.Axes()
	step := aim.Right().Normalize().Scale(x * MoveSpeed * dt).
		Add(aim.Forward().Normalize().Scale(z * MoveSpeed * dt))
	p.Position.X += step.X
	p.Position.Z += step.Z
	//3.- Apply vertical motion and land on the ground plane.
	p.Position.Y += p.VelocityY * dt
	if p.Position.Y < GroundHeight {
		p.Position.Y = GroundHeight
		p.VelocityY = 0
		p.CanJump = true
	}
}

// Jump launches the player when grounded. It reports whether the jump fired.
func (p *Player) Jump() bool {
	if p == nil || !p.CanJump {
		return false
	}
	p.VelocityY = JumpVelocity
	p.CanJump = false
	return true
}

// Muzzle is where player bullets spawn.
func (p *Player) Muzzle() Vec3 {
	return Vec3{X: p.Position.X, Y: p.Position.Y - MuzzleDrop, Z: p.Position.Z}
}

// TakeDamage subtracts amount clamped at zero and reports whether the hit
// left the player at zero health. Every such hit counts a death, including
// hits taken while waiting to respawn; the respawn deadline is set by the
// first one only.
func (p *Player) TakeDamage(amount int, now time.Duration) bool {
	if p == nil {
		return false
	}
	if p.Dead {
		p.Deaths++
		return true
	}
	p.Health = max(0, p.Health-amount)
	if p.Health > 0 {
		return false
	}
	p.Dead = true
	p.Deaths++
	p.RespawnAt = now + PlayerRespawnDelay
	return true
}

// AdvanceRespawn restores the player once the respawn deadline passes.
func (p *Player) AdvanceRespawn(now time.Duration) bool {
	if p == nil || !p.Dead || now < p.RespawnAt {
		return false
	}
	p.Dead = false
	p.Health = MaxHealth
	p.Position = SpawnPoint
	p.VelocityY = 0
	return true
}
