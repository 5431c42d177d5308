package combat

import "time"

// WeaponConfig tunes a magazine-fed automatic weapon.
type WeaponConfig struct {
	MaxAmmo        int
	Reserve        int
	FireInterval   time.Duration
	ReloadDuration time.Duration
}

// DefaultRifle is the player's only weapon.
func DefaultRifle() WeaponConfig {
	return WeaponConfig{
		MaxAmmo:        30,
		Reserve:        90,
		FireInterval:   100 * time.Millisecond,
		ReloadDuration: 1500 * time.Millisecond,
	}
}

// AmmoState is the externally visible part of the weapon.
type AmmoState struct {
	Ammo    int `json:"ammo"`
	Reserve int `json:"reserve"`
}

// Weapon implements fire/reload with a deadline based reload. All timestamps
// are offsets on the match clock.
type Weapon struct {
	cfg          WeaponConfig
	ammo         int
	reserve      int
	reloading    bool
	reloadDoneAt time.Duration
	lastShot     time.Duration
	fired        bool
}

// NewWeapon returns a full weapon. Zero-valued config fields fall back to the rifle.
func NewWeapon(cfg WeaponConfig) *Weapon {
	def := DefaultRifle()
	if cfg.MaxAmmo <= 0 {
		cfg.MaxAmmo = def.MaxAmmo
	}
	if cfg.Reserve < 0 {
		cfg.Reserve = def.Reserve
	}
	if cfg.FireInterval <= 0 {
		cfg.FireInterval = def.FireInterval
	}
	if cfg.ReloadDuration <= 0 {
		cfg.ReloadDuration = def.ReloadDuration
	}
	w := &Weapon{cfg: cfg}
	w.Reset()
	return w
}

// Reset restores a full magazine and reserve and forgets the last shot.
func (w *Weapon) Reset() {
	if w == nil {
		return
	}
	w.ammo = w.cfg.MaxAmmo
	w.reserve = w.cfg.Reserve
	w.reloading = false
	w.reloadDoneAt = 0
	w.lastShot = 0
	w.fired = false
}

// Fire consumes one round when the magazine is loaded, no reload is running
// and the fire interval has elapsed. It reports whether a round left the barrel.
func (w *Weapon) Fire(now time.Duration) bool {
	if w == nil {
		return false
	}
	//1.- Reject when empty or mid reload; firing never interrupts a reload.
	if w.ammo <= 0 || w.reloading {
		return false
	}
	//2.- Enforce the fire interval against the previous successful shot.
	if w.fired && now-w.lastShot < w.cfg.FireInterval {
		return false
	}
	w.ammo--
	w.lastShot = now
	w.fired = true
	return true
}

// Reload starts a reload when it would move at least one round.
func (w *Weapon) Reload(now time.Duration) bool {
	if w == nil || w.reloading || w.ammo >= w.cfg.MaxAmmo || w.reserve <= 0 {
		return false
	}
	w.reloading = true
	w.reloadDoneAt = now + w.cfg.ReloadDuration
	return true
}

// Advance completes a pending reload once its deadline has passed and
// reports whether the ammo counts changed.
func (w *Weapon) Advance(now time.Duration) bool {
	if w == nil || !w.reloading || now < w.reloadDoneAt {
		return false
	}
	//1.- Move only what the magazine can hold and the reserve can supply.
	moved := min(w.cfg.MaxAmmo-w.ammo, w.reserve)
	w.ammo += moved
	w.reserve -= moved
	w.reloading = false
	return true
}

// State returns the ammo counters.
func (w *Weapon) State() AmmoState {
	if w == nil {
		return AmmoState{}
	}
	return AmmoState{Ammo: w.ammo, Reserve: w.reserve}
}

// Reloading reports whether a reload is in progress.
func (w *Weapon) Reloading() bool { return w != nil && w.reloading }

// ReloadDoneAt is the pending reload deadline; zero when idle.
func (w *Weapon) ReloadDoneAt() time.Duration {
	if w == nil || !w.reloading {
		return 0
	}
	return w.reloadDoneAt
}

// LastShot is the time of the last successful shot.
func (w *Weapon) LastShot() time.Duration {
	if w == nil {
		return 0
	}
	return w.lastShot
}

// Config exposes the tuning the weapon was built with.
func (w *Weapon) Config() WeaponConfig {
	if w == nil {
		return DefaultRifle()
	}
	return w.cfg
}
