package events

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"fpsarena/server/internal/match"
)

// Kind enumerates the event payloads carried by the stream.
type Kind string

const (
	// KindAmmo reports magazine and reserve counts.
	KindAmmo Kind = "ammo"
	// KindPlayerStats reports player health, kills and deaths.
	KindPlayerStats Kind = "player_stats"
	// KindMatchEnd is emitted once when the countdown reaches zero.
	KindMatchEnd Kind = "match_end"
	// KindMatchClock carries the whole-second countdown.
	KindMatchClock Kind = "match_clock"
	// KindElimination announces a kill.
	KindElimination Kind = "elimination"
	// KindControl reports pause and aim-capture transitions.
	KindControl Kind = "control"
)

// Valid reports whether the kind is one the stream understands.
func (k Kind) Valid() bool {
	switch k {
	case KindAmmo, KindPlayerStats, KindMatchEnd, KindMatchClock, KindElimination, KindControl:
		return true
	}
	return false
}

// AmmoUpdate mirrors the weapon counters.
type AmmoUpdate struct {
	Ammo      int  `json:"ammo"`
	Reserve   int  `json:"reserve"`
	Reloading bool `json:"reloading"`
}

// PlayerStats is the HUD vitals line.
type PlayerStats struct {
	Health int `json:"health"`
	Kills  int `json:"kills"`
	Deaths int `json:"deaths"`
}

// MatchClock is the countdown shown on the HUD.
type MatchClock struct {
	RemainingSeconds int `json:"remainingSeconds"`
}

// Elimination names who killed whom.
type Elimination struct {
	Killer string `json:"killer"`
	Victim string `json:"victim"`
}

// Control reports the pause/aim-capture state machine. Reason is set when a
// capture request failed.
type Control struct {
	Paused   bool   `json:"paused"`
	Captured bool   `json:"captured"`
	Reason   string `json:"reason,omitempty"`
}

// Envelope carries one payload together with sequencing metadata. Payloads
// are plain values and are never mutated after publication.
type Envelope struct {
	Sequence uint64 `json:"seq"`
	Kind     Kind   `json:"kind"`
	Tick     uint64 `json:"tick"`
	Payload  any    `json:"payload"`
}

// Clone copies the envelope header; payloads are immutable values.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}

// MatchEnd extracts the summary from a match_end envelope.
func (e *Envelope) MatchEnd() (match.Summary, bool) {
	if e == nil || e.Kind != KindMatchEnd {
		return match.Summary{}, false
	}
	summary, ok := e.Payload.(match.Summary)
	return summary, ok
}

// ToProto converts the envelope into a protobuf Struct for gRPC delivery.
func (e *Envelope) ToProto() (*structpb.Struct, error) {
	if e == nil {
		return nil, fmt.Errorf("nil envelope")
	}
	//1.- Round-trip through JSON so the payload tags define the wire field names.
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", e.Kind, err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode %s envelope: %w", e.Kind, err)
	}
	return structpb.NewStruct(fields)
}
