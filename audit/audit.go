// Package audit records what the studio did and why: a bounded log of every
// bus event, plus one provenance record per generated edition assembling the
// seed, trait picks, fired rules and render activity that produced it. An
// optional SQLite archive persists both beyond the in-memory bounds.
package audit

import (
	"log/slog"
	"sync"
	"time"

	cosmos "github.com/nebulalabs/cosmos"
	"github.com/nebulalabs/cosmos/bus"
)

// DefaultMaxEntries is the event log capacity.
const DefaultMaxEntries = 10000

// Entry is one logged event with the wall time it was recorded.
type Entry struct {
	Event    cosmos.Event
	LoggedAt time.Time
}

// Config configures a Logger.
type Config struct {
	// MaxEntries caps the event log (default: DefaultMaxEntries).
	MaxEntries int

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Logger subscribes to the whole event stream and maintains the audit log
// and per-edition generation records. When an edition completes, the
// finalized record is published back to the bus as an audit.record event so
// UI panels and archives hear about it like any other fact.
type Logger struct {
	bus    *bus.Bus
	logger *slog.Logger
	now    func() time.Time
	unsub  func()

	mu       sync.Mutex
	enabled  bool
	ring     []Entry
	head     int
	length   int
	inflight map[int]*cosmos.GenerationRecord
	records  []cosmos.GenerationRecord
}

// Attach creates a Logger and subscribes it to the bus. Close detaches it.
func Attach(b *bus.Bus, cfg Config) *Logger {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	l := &Logger{
		bus:      b,
		logger:   logger,
		now:      now,
		enabled:  true,
		ring:     make([]Entry, maxEntries),
		inflight: make(map[int]*cosmos.GenerationRecord),
	}
	l.unsub = b.SubscribeAll(l.handle)
	return l
}

// Close detaches the logger from the bus. The accumulated log and records
// stay readable.
func (l *Logger) Close() {
	l.unsub()
}

// SetEnabled turns event capture on or off. While disabled, events pass the
// logger by completely; nothing is recorded or correlated.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// Enabled reports whether capture is on.
func (l *Logger) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Clear wipes the event log, in-flight correlation and finalized records.
func (l *Logger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.head = 0
	l.length = 0
	l.inflight = make(map[int]*cosmos.GenerationRecord)
	l.records = nil
}

// Len returns the number of logged entries.
func (l *Logger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.length
}

// Entries returns logged entries in chronological order. A positive limit
// keeps only the most recent N.
func (l *Logger) Entries(limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.length
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	start := l.head - n
	if start < 0 {
		start += len(l.ring)
	}
	for i := 0; i < n; i++ {
		out = append(out, l.ring[(start+i)%len(l.ring)])
	}
	return out
}

// Records returns finalized generation records, oldest first.
func (l *Logger) Records() []cosmos.GenerationRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]cosmos.GenerationRecord, len(l.records))
	for i, r := range l.records {
		out[i] = cloneRecord(r)
	}
	return out
}

// Record returns one edition's record, finalized or still in flight.
func (l *Logger) Record(edition int) (cosmos.GenerationRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.records) - 1; i >= 0; i-- {
		if l.records[i].Edition == edition {
			return cloneRecord(l.records[i]), true
		}
	}
	if r, ok := l.inflight[edition]; ok {
		return cloneRecord(*r), true
	}
	return cosmos.GenerationRecord{}, false
}

func (l *Logger) handle(ev cosmos.Event) {
	l.mu.Lock()
	if !l.enabled {
		l.mu.Unlock()
		return
	}

	l.ring[l.head] = Entry{Event: ev, LoggedAt: l.now()}
	l.head = (l.head + 1) % len(l.ring)
	if l.length < len(l.ring) {
		l.length++
	}

	var done *cosmos.GenerationRecord

	switch p := ev.Payload.(type) {
	case cosmos.GenerationRequested:
		rec := &cosmos.GenerationRecord{
			Edition:   p.Edition,
			Seed:      p.Seed,
			Traits:    cloneTraits(p.Traits),
			Renders:   make(map[string]int),
			StartedAt: ev.Time,
		}
		l.inflight[p.Edition] = rec

	case cosmos.RuleFired:
		if rec := l.current(); rec != nil {
			rec.Rules = append(rec.Rules, p.Rule)
		}

	case cosmos.RuleRejected:
		if rec := l.current(); rec != nil {
			rec.Rejections++
		}

	case cosmos.RenderStarted:
		if rec := l.current(); rec != nil {
			rec.Renders[p.Renderer]++
		}

	case cosmos.RenderCompleted:
		if rec := l.current(); rec != nil && p.ContentHash != "" {
			rec.Hashes = append(rec.Hashes, p.ContentHash)
		}

	case cosmos.GenerationCompleted:
		rec, ok := l.inflight[p.Edition]
		if !ok {
			// Completion without a matching request: keep what we know
			// rather than losing the edition entirely.
			rec = &cosmos.GenerationRecord{
				Edition: p.Edition,
				Renders: make(map[string]int),
			}
		}
		delete(l.inflight, p.Edition)
		rec.DurationMS = p.DurationMS
		rec.Hashes = append(rec.Hashes, p.Hashes...)
		rec.CompletedAt = ev.Time
		l.records = append(l.records, *rec)
		done = rec
	}
	l.mu.Unlock()

	if done != nil {
		l.bus.Emit(cosmos.AuditRecorded{Edition: done.Edition, Record: cloneRecord(*done)})
	}
}

// current picks the in-flight record that rule and render events belong to:
// the one with the highest edition number. Rule and render events carry no
// edition of their own, so with overlapping generations the attribution
// goes to the newest edition, right or not. Editions are expected to run
// one at a time.
func (l *Logger) current() *cosmos.GenerationRecord {
	var rec *cosmos.GenerationRecord
	best := 0
	for edition, r := range l.inflight {
		if rec == nil || edition > best {
			rec = r
			best = edition
		}
	}
	return rec
}

func cloneTraits(in map[string]cosmos.TraitPick) map[string]cosmos.TraitPick {
	if in == nil {
		return nil
	}
	out := make(map[string]cosmos.TraitPick, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneRecord(r cosmos.GenerationRecord) cosmos.GenerationRecord {
	r.Traits = cloneTraits(r.Traits)
	r.Rules = append([]string(nil), r.Rules...)
	r.Hashes = append([]string(nil), r.Hashes...)
	renders := make(map[string]int, len(r.Renders))
	for k, v := range r.Renders {
		renders[k] = v
	}
	r.Renders = renders
	return r
}
