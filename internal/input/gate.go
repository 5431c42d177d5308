package input

import (
	"sync"

	"fpsarena/server/internal/logging"
)

// DropReason enumerates why a command was rejected by the gate.
type DropReason string

const (
	DropReasonNone     DropReason = ""
	DropReasonSequence DropReason = "sequence"
	DropReasonInvalid  DropReason = "invalid"
)

// DropCounters aggregates per-reason drop counts.
type DropCounters struct {
	Sequence uint64 `json:"sequence"`
	Invalid  uint64 `json:"invalid"`
}

// Gate drops replayed or reordered commands per client and counts rejects.
// Commands without a sequence number bypass ordering checks.
type Gate struct {
	mu     sync.Mutex
	logger *logging.Logger
	last   map[string]uint64
	drops  map[string]DropCounters
	total  DropCounters
}

// NewGate constructs an empty gate.
func NewGate(logger *logging.Logger) *Gate {
	return &Gate{
		logger: logger,
		last:   make(map[string]uint64),
		drops:  make(map[string]DropCounters),
	}
}

// Admit reports whether the command should reach the simulation.
func (g *Gate) Admit(clientID string, cmd Command) bool {
	if g == nil || cmd.Seq == 0 {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	//1.- Sequences must strictly increase per client.
	if cmd.Seq <= g.last[clientID] {
		g.observeLocked(clientID, DropReasonSequence)
		g.logger.Debug("dropped out of order command",
			logging.String("client_id", clientID),
			logging.Uint64("seq", cmd.Seq),
			logging.String("type", string(cmd.Kind)))
		return false
	}
	g.last[clientID] = cmd.Seq
	return true
}

// Reject records a command that failed to decode.
func (g *Gate) Reject(clientID string, err error) {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.observeLocked(clientID, DropReasonInvalid)
	g.mu.Unlock()
	g.logger.Debug("rejected command", logging.String("client_id", clientID), logging.Error(err))
}

func (g *Gate) observeLocked(clientID string, reason DropReason) {
	current := g.drops[clientID]
	switch reason {
	case DropReasonSequence:
		current.Sequence++
		g.total.Sequence++
	case DropReasonInvalid:
		current.Invalid++
		g.total.Invalid++
	}
	g.drops[clientID] = current
}

// Forget clears sequencing and counters for a disconnected client.
func (g *Gate) Forget(clientID string) {
	if g == nil {
		return
	}
	g.mu.Lock()
	delete(g.last, clientID)
	delete(g.drops, clientID)
	g.mu.Unlock()
}

// Metrics returns per-client counters for connected clients.
func (g *Gate) Metrics() map[string]DropCounters {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.drops) == 0 {
		return nil
	}
	clone := make(map[string]DropCounters, len(g.drops))
	for id, counters := range g.drops {
		clone[id] = counters
	}
	return clone
}

// Totals returns lifetime counters across all clients.
func (g *Gate) Totals() DropCounters {
	if g == nil {
		return DropCounters{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.total
}
