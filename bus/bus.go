// Package bus implements the synchronous event bus at the center of the
// studio: typed publish/subscribe fan-out, the derived state snapshot, the
// bounded history ring, and the seeded random source that generation pulls
// from. Satellites (macro, audit, section, mirror) attach to it as ordinary
// subscribers.
package bus

import (
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	cosmos "github.com/nebulalabs/cosmos"
)

// Handler receives events synchronously during emit. Handlers run on the
// emitter's goroutine; a panicking handler is recovered and logged without
// disturbing the others.
type Handler func(cosmos.Event)

// Config configures a Bus.
type Config struct {
	// HistorySize is the capacity of the history ring (default: 1000).
	HistorySize int

	// Origin identifies this process on mirrored events. Defaults to a
	// random UUID.
	Origin string

	// Seed initializes the deterministic random source before any
	// system.seed event arrives. Defaults to the origin.
	Seed string

	// Logger receives subscriber panic reports. Defaults to slog.Default().
	Logger *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// HistoryEntry is one slot of the history ring: the event plus the local
// wall time it was recorded, which differs from Event.Time for mirrored
// events.
type HistoryEntry struct {
	Event      cosmos.Event
	ReceivedAt time.Time
}

// HistoryQuery filters History reads. The zero query returns everything.
type HistoryQuery struct {
	// Kind keeps only events of this kind.
	Kind cosmos.Kind

	// Topic keeps only events whose kind belongs to this family. Ignored
	// when Kind is set.
	Topic string

	// AfterSeq keeps only events with Seq greater than this value.
	AfterSeq uint64

	// Limit caps the result at the most recent N entries (0 means all).
	Limit int
}

// Bus is the synchronous event bus. Emit runs the full pipeline on the
// caller's goroutine: derive state, record history, fan out to subscribers
// in registration order. The zero value is not usable; construct with New.
type Bus struct {
	origin string
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	seq     uint64
	state   cosmos.State
	ring    []HistoryEntry
	head    int
	length  int
	nextSub uint64
	byKind  map[cosmos.Kind][]*subscriber
	all     []*subscriber
	rng     *rand.Rand
}

type subscriber struct {
	id uint64
	fn Handler
}

// New creates a bus with the given configuration.
func New(cfg Config) *Bus {
	size := cfg.HistorySize
	if size <= 0 {
		size = 1000
	}
	origin := cfg.Origin
	if origin == "" {
		origin = uuid.NewString()
	}
	seed := cfg.Seed
	if seed == "" {
		seed = origin
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Bus{
		origin: origin,
		logger: logger,
		now:    now,
		state:  cosmos.NewState(),
		ring:   make([]HistoryEntry, size),
		byKind: make(map[cosmos.Kind][]*subscriber),
		rng:    seededRand(seed),
	}
}

// Origin returns the identity local emits carry.
func (b *Bus) Origin() string {
	return b.origin
}

// Subscribe registers a handler for one event kind. The returned function
// removes the subscription; calling it more than once is harmless.
func (b *Bus) Subscribe(kind cosmos.Kind, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSub++
	sub := &subscriber{id: b.nextSub, fn: fn}
	b.byKind[kind] = append(b.byKind[kind], sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.byKind[kind] = removeSub(b.byKind[kind], sub.id)
	}
}

// SubscribeAll registers a handler for every event kind. The returned
// function removes the subscription.
func (b *Bus) SubscribeAll(fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSub++
	sub := &subscriber{id: b.nextSub, fn: fn}
	b.all = append(b.all, sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = removeSub(b.all, sub.id)
	}
}

func removeSub(subs []*subscriber, id uint64) []*subscriber {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// Emit publishes a locally produced event: it stamps sequence, origin and
// time, updates the derived state, records history, then invokes matching
// subscribers synchronously in registration order. It returns the stamped
// event.
func (b *Bus) Emit(p cosmos.Payload) cosmos.Event {
	ev := cosmos.Event{
		Kind:    p.Kind(),
		Time:    b.now(),
		Origin:  b.origin,
		Payload: p,
	}
	return b.deliver(ev)
}

// Inject publishes an event that originated elsewhere, typically received
// over a mirror. The remote origin and emit time are preserved; the local
// bus assigns its own sequence number. Subscribers cannot tell injected
// events from local ones.
func (b *Bus) Inject(ev cosmos.Event) cosmos.Event {
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}
	return b.deliver(ev)
}

func (b *Bus) deliver(ev cosmos.Event) cosmos.Event {
	b.mu.Lock()
	b.seq++
	ev.Seq = b.seq

	applyEvent(&b.state, ev)
	if p, ok := ev.Payload.(cosmos.SystemSeed); ok {
		b.rng = seededRand(p.Seed)
	}

	b.ring[b.head] = HistoryEntry{Event: ev, ReceivedAt: b.now()}
	b.head = (b.head + 1) % len(b.ring)
	if b.length < len(b.ring) {
		b.length++
	}

	targets := b.matching(ev.Kind)
	b.mu.Unlock()

	// Fan out after releasing the lock so handlers can read State or emit
	// follow-up events without deadlocking.
	for _, sub := range targets {
		b.dispatch(sub, ev)
	}
	return ev
}

// matching merges keyed and catch-all subscribers back into global
// registration order. Both slices are already ordered by id. Caller holds mu.
func (b *Bus) matching(kind cosmos.Kind) []*subscriber {
	keyed := b.byKind[kind]
	if len(keyed) == 0 && len(b.all) == 0 {
		return nil
	}
	out := make([]*subscriber, 0, len(keyed)+len(b.all))
	i, j := 0, 0
	for i < len(keyed) && j < len(b.all) {
		if keyed[i].id < b.all[j].id {
			out = append(out, keyed[i])
			i++
		} else {
			out = append(out, b.all[j])
			j++
		}
	}
	out = append(out, keyed[i:]...)
	out = append(out, b.all[j:]...)
	return out
}

func (b *Bus) dispatch(sub *subscriber, ev cosmos.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				"kind", ev.Kind,
				"seq", ev.Seq,
				"panic", r)
		}
	}()
	sub.fn(ev)
}

// State returns a deep copy of the derived snapshot. Mutating the copy has
// no effect on the bus.
func (b *Bus) State() cosmos.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Clone()
}

// LastSeq returns the sequence number of the most recent event (0 when none
// has been emitted yet).
func (b *Bus) LastSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// History returns recorded entries in chronological order, filtered by the
// query.
func (b *Bus) History(q HistoryQuery) []HistoryEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]HistoryEntry, 0, b.length)
	start := b.head - b.length
	if start < 0 {
		start += len(b.ring)
	}
	for i := 0; i < b.length; i++ {
		entry := b.ring[(start+i)%len(b.ring)]
		if q.Kind != "" && entry.Event.Kind != q.Kind {
			continue
		}
		if q.Kind == "" && q.Topic != "" && entry.Event.Kind.Topic() != q.Topic {
			continue
		}
		if entry.Event.Seq <= q.AfterSeq {
			continue
		}
		out = append(out, entry)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out
}

// Random returns the next value in [0,1) from the deterministic source.
// The source is replaced whenever a system.seed event arrives, so two buses
// fed the same seed and the same draw sequence agree.
func (b *Bus) Random() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rng.Float64()
}

func seededRand(seed string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(seed))
	s := h.Sum64()
	return rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
}
