package state

import (
	"time"

	"github.com/google/uuid"

	"fpsarena/server/internal/physics"
)

// BulletLifetime is how long a bullet stays in the registry.
const BulletLifetime = 1000 * time.Millisecond

// Bullet is a short lived tracer. Hits are resolved when it is fired, so the
// registry only drives presentation.
type Bullet struct {
	ID        string        `json:"id"`
	Origin    physics.Vec3  `json:"origin"`
	Direction physics.Vec3  `json:"direction"`
	CreatedAt time.Duration `json:"created_at_ns"`
	// FiredBy is the bot id for bot bullets and nil for the player.
	FiredBy *int `json:"fired_by,omitempty"`
}

// FromPlayer reports whether the player fired the bullet.
func (b Bullet) FromPlayer() bool { return b.FiredBy == nil }

// BulletDiff lists bullets spawned and expired since the last ConsumeDiff.
type BulletDiff struct {
	Spawned []Bullet `json:"spawned,omitempty"`
	Expired []string `json:"expired,omitempty"`
}

// Empty reports whether nothing changed.
func (d BulletDiff) Empty() bool { return len(d.Spawned) == 0 && len(d.Expired) == 0 }

// BulletRegistry holds live bullets in spawn order. It is owned by the tick
// goroutine and performs no locking.
type BulletRegistry struct {
	bullets []Bullet
	spawned []Bullet
	expired []string
	newID   func() string
}

// NewBulletRegistry constructs an empty registry. A nil id source falls back
// to random UUIDs.
func NewBulletRegistry(newID func() string) *BulletRegistry {
	if newID == nil {
		newID = uuid.NewString
	}
	return &BulletRegistry{newID: newID}
}

// SequentialIDs derives stable bullet ids from a namespace so a replayed match
// produces the same ids.
func SequentialIDs(namespace uuid.UUID) func() string {
	var seq uint64
	return func() string {
		seq++
		var buf [8]byte
		for i := range buf {
			buf[i] = byte(seq >> (56 - 8*i))
		}
		return uuid.NewSHA1(namespace, buf[:]).String()
	}
}

// Spawn appends a bullet and returns it. The direction is normalized; firedBy
// is copied so later changes by the caller cannot re-attribute the bullet.
func (r *BulletRegistry) Spawn(origin, direction physics.Vec3, firedBy *int, now time.Duration) Bullet {
	var owner *int
	if firedBy != nil {
		id := *firedBy
		owner = &id
	}
	bullet := Bullet{
		ID:        r.newID(),
		Origin:    origin,
		Direction: direction.Normalize(),
		CreatedAt: now,
		FiredBy:   owner,
	}
	r.bullets = append(r.bullets, bullet)
	r.spawned = append(r.spawned, bullet)
	return bullet
}

// Prune drops every bullet whose age has reached BulletLifetime and returns
// the number removed.
func (r *BulletRegistry) Prune(now time.Duration) int {
	//1.- Compact in place so surviving bullets keep their spawn order.
	kept := r.bullets[:0]
	removed := 0
	for _, bullet := range r.bullets {
		if now-bullet.CreatedAt >= BulletLifetime {
			r.expired = append(r.expired, bullet.ID)
			removed++
			continue
		}
		kept = append(kept, bullet)
	}
	//2.- Clear the tail so dropped owner pointers can be collected.
	for i := len(kept); i < len(r.bullets); i++ {
		r.bullets[i] = Bullet{}
	}
	r.bullets = kept
	return removed
}

// Len returns the number of live bullets.
func (r *BulletRegistry) Len() int { return len(r.bullets) }

// Snapshot copies the live bullets.
func (r *BulletRegistry) Snapshot() []Bullet {
	out := make([]Bullet, len(r.bullets))
	copy(out, r.bullets)
	return out
}

// ConsumeDiff returns and clears the spawn/expiry trackers.
func (r *BulletRegistry) ConsumeDiff() BulletDiff {
	diff := BulletDiff{Spawned: r.spawned, Expired: r.expired}
	r.spawned = nil
	r.expired = nil
	return diff
}

// Reset removes every bullet and records them as expired.
func (r *BulletRegistry) Reset() {
	for _, bullet := range r.bullets {
		r.expired = append(r.expired, bullet.ID)
	}
	r.bullets = nil
	r.spawned = nil
}
