package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Config controls the retention policy for the stream log and subscriber buffers.
type Config struct {
	Retain int
}

const defaultRetention = 512

// Stream delivers simulation events in sequence order with at-least-once
// semantics per named subscriber. It also remembers the latest envelope of
// every kind so late joiners can render current HUD state.
type Stream struct {
	mu          sync.Mutex
	nextSeq     uint64
	retention   int
	logOrder    []uint64
	logPayloads map[uint64]*Envelope
	latest      map[Kind]*Envelope
	subscribers map[string]*subscriberState
}

type subscriberState struct {
	id      string
	pending []uint64
	lastAck uint64
	ch      chan *Envelope
	done    chan struct{}
	active  bool
}

// Subscription exposes the event channel and acknowledgement helpers for a subscriber.
type Subscription struct {
	id     string
	stream *Stream
	events <-chan *Envelope
	done   chan struct{}

	closeOnce   sync.Once
	releaseOnce sync.Once
}

var (
	// ErrOutOfOrderAck signals that a subscriber acknowledged out of sequence.
	ErrOutOfOrderAck = errors.New("ack sequence must match the next pending event")
	// ErrNilStream is returned by operations on a nil stream.
	ErrNilStream = errors.New("nil stream")
)

// NewStream constructs a stream using the provided configuration.
func NewStream(cfg Config) *Stream {
	retention := cfg.Retain
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Stream{
		retention:   retention,
		logPayloads: make(map[uint64]*Envelope),
		latest:      make(map[Kind]*Envelope),
		subscribers: make(map[string]*subscriberState),
	}
}

// Subscribe attaches the named subscriber and replays every retained event it
// has not acknowledged yet.
func (s *Stream) Subscribe(ctx context.Context, subscriberID string, buffer int) (*Subscription, error) {
	if s == nil {
		return nil, ErrNilStream
	}
	if subscriberID == "" {
		return nil, errors.New("subscriber id must be provided")
	}
	if buffer <= 0 {
		buffer = 32
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	state := s.ensureSubscriberLocked(subscriberID)
	if state.active {
		s.mu.Unlock()
		return nil, fmt.Errorf("subscriber %q already attached", subscriberID)
	}
	//1.- Size the channel so the replay fits ahead of any live delivery.
	replay := s.prepareDeliveriesLocked(s.collectReplayLocked(state))
	ch := make(chan *Envelope, len(replay)+buffer)
	for _, env := range replay {
		ch <- env
	}
	done := make(chan struct{})
	state.ch = ch
	state.done = done
	state.active = true
	state.pending = state.pending[:0]
	for _, env := range replay {
		state.pending = append(state.pending, env.Sequence)
	}
	s.mu.Unlock()

	sub := &Subscription{id: subscriberID, stream: s, events: ch, done: done}
	//2.- Detach automatically when the caller's context ends.
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-done:
		}
	}()
	return sub, nil
}

// Events exposes the ordered delivery channel. It is never closed; select on
// Done to observe Close.
func (s *Subscription) Events() <-chan *Envelope {
	if s == nil {
		return nil
	}
	return s.events
}

// Done is closed once the subscription is closed.
func (s *Subscription) Done() <-chan struct{} {
	if s == nil {
		return nil
	}
	return s.done
}

// ID returns the subscriber name.
func (s *Subscription) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Ack informs the stream that the subscriber processed the given sequence.
func (s *Subscription) Ack(sequence uint64) error {
	if s == nil || s.stream == nil {
		return errors.New("subscription closed")
	}
	return s.stream.ack(s.id, sequence)
}

// Close detaches the subscription but keeps its acknowledgement state so a
// reconnect resumes where it left off.
func (s *Subscription) Close() {
	if s == nil || s.stream == nil {
		return
	}
	s.closeOnce.Do(func() {
		s.stream.deactivateSubscriber(s.id, s.done, false)
	})
}

// Release detaches the subscription and forgets the subscriber entirely,
// even when it was already closed by its context.
func (s *Subscription) Release() {
	if s == nil || s.stream == nil {
		return
	}
	s.releaseOnce.Do(func() {
		s.stream.deactivateSubscriber(s.id, s.done, true)
	})
}

// Publish assigns the next sequence number and fans the envelope out.
func (s *Stream) Publish(kind Kind, tick uint64, payload any) (uint64, error) {
	if s == nil {
		return 0, ErrNilStream
	}
	if !kind.Valid() {
		return 0, fmt.Errorf("unsupported event kind %q", kind)
	}
	if payload == nil {
		return 0, fmt.Errorf("%s event requires a payload", kind)
	}
	return s.publishEnvelope(&Envelope{Kind: kind, Tick: tick, Payload: payload})
}

// Latest returns the newest envelope of each kind, ordered by sequence.
func (s *Stream) Latest() []*Envelope {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	out := make([]*Envelope, 0, len(s.latest))
	for _, env := range s.latest {
		out = append(out, env.Clone())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// LastSequence reports the most recently assigned sequence number.
func (s *Stream) LastSequence() uint64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq
}

func (s *Stream) ensureSubscriberLocked(subscriberID string) *subscriberState {
	state, ok := s.subscribers[subscriberID]
	if !ok {
		state = &subscriberState{id: subscriberID}
		s.subscribers[subscriberID] = state
	}
	return state
}

func (s *Stream) collectReplayLocked(state *subscriberState) []uint64 {
	//1.- A reconnecting subscriber receives every retained sequence beyond its last ack.
	replay := make([]uint64, 0, len(s.logOrder))
	for _, seq := range s.logOrder {
		if seq > state.lastAck {
			replay = append(replay, seq)
		}
	}
	return replay
}

func (s *Stream) prepareDeliveriesLocked(sequences []uint64) []*Envelope {
	deliveries := make([]*Envelope, 0, len(sequences))
	for _, seq := range sequences {
		if payload, ok := s.logPayloads[seq]; ok {
			deliveries = append(deliveries, payload.Clone())
		}
	}
	return deliveries
}

func (s *Stream) publishEnvelope(envelope *Envelope) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	seq := s.nextSeq
	envelope.Sequence = seq
	s.logPayloads[seq] = envelope
	s.logOrder = append(s.logOrder, seq)
	s.latest[envelope.Kind] = envelope

	for _, state := range s.subscribers {
		if !state.active {
			//1.- Detached subscribers resume from lastAck; nothing to track.
			continue
		}
		//2.- Never block the tick goroutine; an overflowing subscriber misses the event.
		select {
		case state.ch <- envelope.Clone():
			state.pending = append(state.pending, seq)
		default:
		}
	}
	s.enforceRetentionLocked()
	return seq, nil
}

// enforceRetentionLocked caps the log at the retention window. Subscribers
// that fell further behind lose the oldest events.
func (s *Stream) enforceRetentionLocked() {
	excess := len(s.logOrder) - s.retention
	if excess <= 0 {
		return
	}
	oldest := s.logOrder[excess]
	for _, seq := range s.logOrder[:excess] {
		delete(s.logPayloads, seq)
	}
	s.logOrder = append([]uint64(nil), s.logOrder[excess:]...)
	//1.- Pending entries the log no longer holds can never be redelivered.
	for _, state := range s.subscribers {
		idx := sort.Search(len(state.pending), func(i int) bool { return state.pending[i] >= oldest })
		if idx > 0 {
			state.pending = append(state.pending[:0], state.pending[idx:]...)
		}
	}
}

func (s *Stream) ack(subscriberID string, sequence uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.subscribers[subscriberID]
	if !ok {
		return fmt.Errorf("unknown subscriber %q", subscriberID)
	}
	if len(state.pending) > 0 && sequence == state.pending[0] {
		state.pending = state.pending[1:]
		state.lastAck = sequence
		return nil
	}
	if sequence <= state.lastAck {
		return nil
	}
	//1.- Deliveries retention already dropped from pending are acked in place.
	if s.prunedLocked(sequence) && (len(state.pending) == 0 || sequence < state.pending[0]) {
		state.lastAck = sequence
		return nil
	}
	return ErrOutOfOrderAck
}

func (s *Stream) prunedLocked(sequence uint64) bool {
	if len(s.logOrder) == 0 {
		return sequence <= s.nextSeq
	}
	return sequence < s.logOrder[0]
}

func (s *Stream) deactivateSubscriber(subscriberID string, done chan struct{}, forget bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.subscribers[subscriberID]
	//1.- A newer attach under the same name owns the entry now.
	if !ok || state.done != done {
		return
	}
	if state.active {
		state.active = false
		close(state.done)
	}
	if forget {
		delete(s.subscribers, subscriberID)
	}
}
