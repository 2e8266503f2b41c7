package fanout

import (
	"context"
	"sync"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"

	"globaltable/internal/codec"
)

const codespace = "fanout"

var (
	ErrSlowConsumer        = errorsmod.Register(codespace, 1, "subscriber fell behind on critical events")
	ErrClosed              = errorsmod.Register(codespace, 2, "subscription closed")
	ErrDuplicateSubscriber = errorsmod.Register(codespace, 3, "subscriber id in use")
)

// Hub fans committed table events out to gateway subscriptions. It
// implements table.Publisher.
type Hub struct {
	queueSize   int
	criticalCap int
	logger      log.Logger

	mu       sync.Mutex
	subs     map[string]*Subscription
	progress codec.Progress
	health   map[codec.GameType]string
	seq      uint64
}

func NewHub(queueSize, criticalCap int, logger log.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = 256
	}
	if criticalCap <= 0 {
		criticalCap = 1024
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Hub{
		queueSize:   queueSize,
		criticalCap: criticalCap,
		logger:      logger.With("module", "fanout"),
		subs:        make(map[string]*Subscription),
		health:      make(map[codec.GameType]string),
	}
}

// SetProgress sets the consensus header stamped on every later envelope.
func (h *Hub) SetProgress(p codec.Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.progress = p
}

// Subscribe registers a gateway connection. A non-nil filter limits player
// events to that player; round-level events always pass.
func (h *Hub) Subscribe(id string, filter *codec.Player) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[id]; ok {
		return nil, errorsmod.Wrap(ErrDuplicateSubscriber, id)
	}
	s := &Subscription{
		id:     id,
		hub:    h,
		notify: make(chan struct{}, 1),
	}
	if filter != nil {
		f := *filter
		s.filter = &f
	}
	h.subs[id] = s

	// late joiners learn about paused tables at once
	for g, reason := range h.health {
		s.push(item{seq: h.nextSeq(), heartbeat: true, paused: true, game: g, reason: reason, progress: h.progress}, true, h.queueSize, h.criticalCap)
	}
	h.logger.Debug("subscriber added", "id", id, "filtered", filter != nil)
	return s, nil
}

func (h *Hub) nextSeq() uint64 {
	h.seq++
	return h.seq
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish queues ev for every subscriber it concerns. Optional events may be
// shed under backpressure; critical ones are either delivered or the
// subscriber is disconnected.
func (h *Hub) Publish(g codec.GameType, ev codec.Event, critical bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	it := item{seq: h.nextSeq(), game: g, ev: ev, progress: h.progress}
	for id, s := range h.subs {
		if !s.wants(ev) {
			continue
		}
		if !s.push(it, critical, h.queueSize, h.criticalCap) {
			delete(h.subs, id)
			h.logger.Warn("subscriber disconnected", "id", id, "err", ErrSlowConsumer)
		}
	}
}

// SetHealth records whether g is paused and emits a critical heartbeat so
// gateways stop (or resume) accepting bets for it.
func (h *Hub) SetHealth(g codec.GameType, paused bool, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if paused {
		h.health[g] = reason
	} else {
		delete(h.health, g)
	}
	it := item{seq: h.nextSeq(), heartbeat: true, paused: paused, game: g, reason: reason, progress: h.progress}
	for id, s := range h.subs {
		if !s.push(it, true, h.queueSize, h.criticalCap) {
			delete(h.subs, id)
			h.logger.Warn("subscriber disconnected", "id", id, "err", ErrSlowConsumer)
		}
	}
}

// Paused reports whether gateways should hold bets for g.
func (h *Hub) Paused(g codec.GameType) (bool, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	reason, ok := h.health[g]
	return ok, reason
}

type item struct {
	seq       uint64
	game      codec.GameType
	ev        codec.Event
	heartbeat bool
	paused    bool
	reason    string
	progress  codec.Progress
}

// Subscription is one gateway's view of the hub. Next is meant for a single
// reader.
type Subscription struct {
	id     string
	filter *codec.Player
	hub    *Hub
	notify chan struct{}

	mu       sync.Mutex
	critical []item
	optional []item
	dropped  uint64
	err      error
}

func (s *Subscription) ID() string { return s.id }

// Dropped counts optional events shed for this subscriber.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscription) wants(ev codec.Event) bool {
	if s.filter == nil {
		return true
	}
	switch v := ev.(type) {
	case codec.BetAccepted:
		return v.Player == *s.filter
	case codec.BetRejected:
		return v.Player == *s.filter
	case codec.PlayerSettled:
		return v.Player == *s.filter
	default:
		return true
	}
}

// push reports false once the subscriber has been cut off.
func (s *Subscription) push(it item, critical bool, queueSize, criticalCap int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false
	}
	if critical {
		if len(s.critical) >= criticalCap {
			s.err = errorsmod.Wrapf(ErrSlowConsumer, "%d critical events pending", len(s.critical))
			s.critical, s.optional = nil, nil
			s.wake()
			return false
		}
		s.critical = append(s.critical, it)
	} else {
		if len(s.optional) >= queueSize {
			s.optional = s.optional[1:]
			s.dropped++
		}
		s.optional = append(s.optional, it)
	}
	s.wake()
	return true
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// take removes the oldest run of queued items that fits one envelope: a
// single heartbeat, or consecutive events up to the next heartbeat.
func (s *Subscription) take() []item {
	var out []item
	for len(out) < codec.MaxEnvelopeEvents {
		var next *[]item
		switch {
		case len(s.critical) > 0 && (len(s.optional) == 0 || s.critical[0].seq < s.optional[0].seq):
			next = &s.critical
		case len(s.optional) > 0:
			next = &s.optional
		default:
			return out
		}
		it := (*next)[0]
		if it.heartbeat && len(out) > 0 {
			return out
		}
		*next = (*next)[1:]
		out = append(out, it)
		if it.heartbeat {
			return out
		}
	}
	return out
}

// Next blocks until an envelope is ready, the subscription is cut off, or ctx
// is done.
func (s *Subscription) Next(ctx context.Context) (codec.Envelope, error) {
	for {
		s.mu.Lock()
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return codec.Envelope{}, err
		}
		items := s.take()
		s.mu.Unlock()
		if len(items) > 0 {
			return s.envelope(items), nil
		}
		select {
		case <-ctx.Done():
			return codec.Envelope{}, ctx.Err()
		case <-s.notify:
		}
	}
}

func (s *Subscription) envelope(items []item) codec.Envelope {
	last := items[len(items)-1]
	if last.heartbeat {
		reason := last.reason
		if len(reason) > codec.MaxMessageLen {
			reason = reason[:codec.MaxMessageLen]
		}
		return codec.Envelope{Kind: codec.EnvelopeHeartbeat, Progress: last.progress, Game: last.game, Paused: last.paused, Reason: reason}
	}
	env := codec.Envelope{Kind: codec.EnvelopeEvents, Progress: last.progress}
	if s.filter != nil {
		env.Kind = codec.EnvelopeFilteredEvents
		env.Filter = *s.filter
	}
	env.Events = make([]codec.Event, len(items))
	for i, it := range items {
		env.Events[i] = it.ev
	}
	return env
}

// Close detaches the subscription; a blocked Next returns ErrClosed.
func (s *Subscription) Close() {
	s.hub.remove(s.id)
	s.mu.Lock()
	if s.err == nil {
		s.err = ErrClosed
	}
	s.critical, s.optional = nil, nil
	s.mu.Unlock()
	s.wake()
}
