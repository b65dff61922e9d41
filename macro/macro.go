// Package macro implements the four-channel macro subsystem: the coarse
// expressive controls (Tone, Movement, Space, Grit) that UI surfaces, saved
// curves, randomization and sections all write through. The System owns the
// values; the Bridge connects it to the event bus.
package macro

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	cosmos "github.com/nebulalabs/cosmos"
)

// Macro change sources, carried as provenance on macro.changed events.
const (
	SourceUI        = "ui"
	SourceCurve     = "curve"
	SourceRandomize = "randomize"
	SourceSection   = "section"
	SourceRule      = "rule"
)

// ErrCurveNotFound is returned when recalling or deleting an unknown curve.
var ErrCurveNotFound = errors.New("macro: curve not found")

// DefaultMaxCurves is how many saved curves are retained before the oldest
// is dropped.
const DefaultMaxCurves = 8

// Curve is a saved snapshot of all four channel values.
type Curve struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Values    map[string]float64 `json:"values"`
	CreatedAt time.Time          `json:"created_at"`
}

// Listener observes committed macro changes. It is called once per channel
// that actually changed, after the value is stored.
type Listener func(channel string, value float64, source string)

// Config configures a System.
type Config struct {
	// MaxCurves caps the saved curve list (default: DefaultMaxCurves).
	MaxCurves int

	// Random supplies values in [0,1) for Randomize. Defaults to the
	// global math/rand source; wire the bus's seeded source for
	// reproducible sessions.
	Random func() float64

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time

	// NewID overrides curve id generation, for tests. Defaults to UUIDs.
	NewID func() string
}

// System holds the four macro channels. All methods are safe for concurrent
// use; listeners run outside the lock in registration order.
type System struct {
	maxCurves int
	random    func() float64
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	mu        sync.Mutex
	values    map[string]float64
	locks     map[string]bool
	curves    []Curve
	listeners []*listenerEntry
	nextSub   uint64
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// change is one committed value movement, collected under the lock and
// announced after it.
type change struct {
	channel string
	value   float64
	source  string
}

// NewSystem creates a System with all channels centered at 0.5 and unlocked.
func NewSystem(cfg Config) *System {
	maxCurves := cfg.MaxCurves
	if maxCurves <= 0 {
		maxCurves = DefaultMaxCurves
	}
	random := cfg.Random
	if random == nil {
		random = rand.Float64
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	values := make(map[string]float64, len(cosmos.MacroChannels))
	for _, id := range cosmos.MacroChannels {
		values[id] = 0.5
	}

	return &System{
		maxCurves: maxCurves,
		random:    random,
		logger:    logger,
		now:       now,
		newID:     newID,
		values:    values,
		locks:     make(map[string]bool, len(cosmos.MacroChannels)),
	}
}

// Set moves one channel. The name may be a canonical id or an alias. Locked
// channels and unchanged values are silent no-ops. It reports whether the
// value actually moved.
func (s *System) Set(channel string, value float64, source string) bool {
	s.mu.Lock()
	changed := s.setLocked(channel, value, source)
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	if changed == nil {
		return false
	}
	announce(listeners, []change{*changed})
	return true
}

// SetMany moves several channels in one step. All values are applied under
// one lock, then listeners hear each committed change in the canonical
// channel order.
func (s *System) SetMany(values map[string]float64, source string) {
	s.mu.Lock()
	var changes []change
	for _, id := range cosmos.MacroChannels {
		v, ok := values[id]
		if !ok {
			if alias := cosmos.MacroAlias(id); alias != "" {
				v, ok = values[alias]
			}
		}
		if !ok {
			continue
		}
		if c := s.setLocked(id, v, source); c != nil {
			changes = append(changes, *c)
		}
	}
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	announce(listeners, changes)
}

// setLocked applies one change and returns it, or nil when nothing moved.
// Caller holds mu.
func (s *System) setLocked(channel string, value float64, source string) *change {
	id := cosmos.CanonicalMacro(channel)
	if _, ok := s.values[id]; !ok {
		s.logger.Warn("ignoring unknown macro channel", "channel", channel)
		return nil
	}
	if s.locks[id] {
		return nil
	}
	value = clamp01(value)
	if s.values[id] == value {
		return nil
	}
	s.values[id] = value
	return &change{channel: id, value: value, source: source}
}

// Value returns one channel's value. The name may be an alias.
func (s *System) Value(channel string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[cosmos.CanonicalMacro(channel)]
	return v, ok
}

// Values returns a copy of all channel values keyed by canonical id.
func (s *System) Values() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Lock sets or clears a channel's lock. Locked channels ignore every write,
// including randomize and curve recall.
func (s *System) Lock(channel string, locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := cosmos.CanonicalMacro(channel)
	if _, ok := s.values[id]; !ok {
		return
	}
	if locked {
		s.locks[id] = true
	} else {
		delete(s.locks, id)
	}
}

// Locked reports whether a channel is locked.
func (s *System) Locked(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks[cosmos.CanonicalMacro(channel)]
}

// ToggleLock flips a channel's lock and reports the new state. Unknown
// channels stay unlocked.
func (s *System) ToggleLock(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := cosmos.CanonicalMacro(channel)
	if _, ok := s.values[id]; !ok {
		return false
	}
	if s.locks[id] {
		delete(s.locks, id)
		return false
	}
	s.locks[id] = true
	return true
}

// Randomize redraws every unlocked channel. Safe mode keeps values in
// [0.2,0.8], the band where most patches stay musical; chaos mode uses the
// full range.
func (s *System) Randomize(chaos bool) {
	s.mu.Lock()
	var changes []change
	for _, id := range cosmos.MacroChannels {
		v := s.random()
		if !chaos {
			v = 0.2 + v*0.6
		}
		if c := s.setLocked(id, v, SourceRandomize); c != nil {
			changes = append(changes, *c)
		}
	}
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	announce(listeners, changes)
}

// Reset drives every unlocked channel to zero in one batched step.
func (s *System) Reset(source string) {
	values := make(map[string]float64, len(cosmos.MacroChannels))
	for _, id := range cosmos.MacroChannels {
		values[id] = 0
	}
	s.SetMany(values, source)
}

// SaveCurve snapshots the current values under a name. When the list is
// full the oldest curve falls off.
func (s *System) SaveCurve(name string) Curve {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := make(map[string]float64, len(s.values))
	for k, v := range s.values {
		values[k] = v
	}
	curve := Curve{
		ID:        s.newID(),
		Name:      name,
		Values:    values,
		CreatedAt: s.now(),
	}
	s.curves = append(s.curves, curve)
	if len(s.curves) > s.maxCurves {
		s.curves = s.curves[len(s.curves)-s.maxCurves:]
	}
	return curve
}

// Curves returns the saved curves, oldest first.
func (s *System) Curves() []Curve {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Curve, len(s.curves))
	copy(out, s.curves)
	return out
}

// RecallCurve applies a saved curve's values. Locked channels keep their
// current value.
func (s *System) RecallCurve(id string) error {
	s.mu.Lock()
	var found *Curve
	for i := range s.curves {
		if s.curves[i].ID == id {
			found = &s.curves[i]
			break
		}
	}
	if found == nil {
		s.mu.Unlock()
		return ErrCurveNotFound
	}

	var changes []change
	for _, ch := range cosmos.MacroChannels {
		v, ok := found.Values[ch]
		if !ok {
			continue
		}
		if c := s.setLocked(ch, v, SourceCurve); c != nil {
			changes = append(changes, *c)
		}
	}
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	announce(listeners, changes)
	return nil
}

// DeleteCurve removes a saved curve.
func (s *System) DeleteCurve(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.curves {
		if s.curves[i].ID == id {
			s.curves = append(s.curves[:i], s.curves[i+1:]...)
			return nil
		}
	}
	return ErrCurveNotFound
}

// OnChange registers a listener. The returned function removes it.
func (s *System) OnChange(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSub++
	entry := &listenerEntry{id: s.nextSub, fn: fn}
	s.listeners = append(s.listeners, entry)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == entry.id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// snapshotListeners copies the listener list. Caller holds mu.
func (s *System) snapshotListeners() []*listenerEntry {
	out := make([]*listenerEntry, len(s.listeners))
	copy(out, s.listeners)
	return out
}

func announce(listeners []*listenerEntry, changes []change) {
	for _, c := range changes {
		for _, l := range listeners {
			l.fn(c.channel, c.value, c.source)
		}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
