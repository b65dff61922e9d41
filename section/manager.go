package section

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	cosmos "github.com/nebulalabs/cosmos"
)

var (
	// ErrSectionNotFound reports an unknown section id.
	ErrSectionNotFound = errors.New("section: not found")

	// ErrTransitioning reports that a transition is already in flight.
	// Transitions never queue; callers wait and retry.
	ErrTransitioning = errors.New("section: transition in progress")

	// ErrNoSections reports navigation over an empty registry.
	ErrNoSections = errors.New("section: no sections")
)

// Mode selects how a transition moves between sections.
type Mode string

const (
	// ModeCut switches instantly, restarting playback if it was running.
	ModeCut Mode = "cut"
	// ModeFade steps the master gain down, switches, then steps it back up.
	ModeFade Mode = "fade"
	// ModeCrossfade behaves like fade today; it exists so blended
	// dual-engine transitions can slot in without an API change.
	ModeCrossfade Mode = "crossfade"
)

// autoAdvanceBeats is the crossfade length used when a section's bar
// counter expires.
const autoAdvanceBeats = 4

// Transition configures one section change. The zero value is a cut.
type Transition struct {
	Mode Mode `json:"mode,omitempty"`
	// Beats is the fade length in beats; fade and crossfade default to 4.
	Beats float64 `json:"beats,omitempty"`
}

// AudioEngine is the slice of the playback engine the manager drives during
// transitions and reads during capture.
type AudioEngine interface {
	Playing() bool
	BPM() float64
	SetBPM(bpm float64)
	Start()
	Stop()
	SetMasterGain(gain float64)
	Tracks() []TrackConfig
	ApplyTracks(tracks []TrackConfig)
}

// Macros is the macro state a section captures and restores.
type Macros interface {
	Values() map[string]float64
	SetMany(values map[string]float64, source string)
}

// Config configures a Manager.
type Config struct {
	// Engine and Macros are required.
	Engine AudioEngine
	Macros Macros

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time

	// NewID overrides section id generation, for tests.
	NewID func() string

	// Sleep overrides the per-step fade wait, for tests.
	Sleep func(d time.Duration)

	// Rand overrides palette color selection, for tests.
	Rand func() float64

	// Observer, when set, receives every transition outcome.
	Observer Observer
}

type listenerEntry struct {
	id int
	fn func()
}

// Manager owns the ordered section registry, the current-section pointer and
// the single in-flight transition guard. All methods are safe for concurrent
// use; reads stay available while a fade is in progress.
type Manager struct {
	engine   AudioEngine
	macros   Macros
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	sleep    func(d time.Duration)
	randf    func() float64
	observer Observer

	mu            sync.Mutex
	sections      []Section
	current       string
	transitioning bool
	advanceTimer  *time.Timer
	listeners     []*listenerEntry
	nextListener  int
}

// NewManager creates a Manager around the given engine and macro state.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Engine == nil {
		return nil, errors.New("section: engine is required")
	}
	if cfg.Macros == nil {
		return nil, errors.New("section: macros are required")
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
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	randf := cfg.Rand
	if randf == nil {
		randf = rand.Float64
	}
	return &Manager{
		engine:   cfg.Engine,
		macros:   cfg.Macros,
		logger:   logger,
		now:      now,
		newID:    newID,
		sleep:    sleep,
		randf:    randf,
		observer: cfg.Observer,
	}, nil
}

// Close cancels any pending auto-advance timer. In-flight transitions run to
// completion; they are not cancelable.
func (m *Manager) Close() {
	m.mu.Lock()
	m.cancelAdvanceLocked()
	m.mu.Unlock()
}

// Add constructs a section from cfg, filling defaults for unset fields, and
// appends it to the registry.
func (m *Manager) Add(cfg Section) Section {
	m.mu.Lock()
	s := cfg.clone()
	if s.ID == "" {
		s.ID = m.newID()
	}
	if s.Name == "" {
		s.Name = fmt.Sprintf("Section %d", len(m.sections)+1)
	}
	if s.Color == "" {
		s.Color = defaultPalette[int(m.randf()*float64(len(defaultPalette)))%len(defaultPalette)]
	}
	if s.BPM <= 0 {
		s.BPM = cosmos.DefaultBPM
	}
	if s.Macros == nil {
		s.Macros = make(map[string]float64)
	}
	t := m.now()
	s.CreatedAt = t
	s.UpdatedAt = t
	m.sections = append(m.sections, s)
	out := s.clone()
	m.mu.Unlock()

	m.notify()
	return out
}

// Remove deletes a section. Removing the current section leaves no section
// current and cancels any pending auto-advance.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrSectionNotFound, id)
	}
	m.sections = append(m.sections[:idx], m.sections[idx+1:]...)
	if m.current == id {
		m.current = ""
		m.cancelAdvanceLocked()
	}
	m.mu.Unlock()

	m.notify()
	return nil
}

// Update merge-applies patch to a section and refreshes its UpdatedAt.
func (m *Manager) Update(id string, patch Patch) (Section, error) {
	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		return Section{}, fmt.Errorf("%w: %q", ErrSectionNotFound, id)
	}
	m.sections[idx].apply(patch)
	m.sections[idx].UpdatedAt = m.now()
	out := m.sections[idx].clone()
	m.mu.Unlock()

	m.notify()
	return out, nil
}

// Clone duplicates a section under a fresh id and timestamps.
func (m *Manager) Clone(id string) (Section, error) {
	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		return Section{}, fmt.Errorf("%w: %q", ErrSectionNotFound, id)
	}
	s := m.sections[idx].clone()
	m.mu.Unlock()

	s.ID = ""
	s.Name = s.Name + " (copy)"
	return m.Add(s), nil
}

// Capture reads the live BPM, macro values and track lineup and adds them as
// a new section named name.
func (m *Manager) Capture(name string) Section {
	return m.Add(Section{
		Name:   name,
		BPM:    m.engine.BPM(),
		Macros: m.macros.Values(),
		Tracks: m.engine.Tracks(),
	})
}

// Sections returns the registry in insertion order.
func (m *Manager) Sections() []Section {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Section, len(m.sections))
	for i, s := range m.sections {
		out[i] = s.clone()
	}
	return out
}

// Section returns one section by id.
func (m *Manager) Section(id string) (Section, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx := m.indexLocked(id); idx >= 0 {
		return m.sections[idx].clone(), true
	}
	return Section{}, false
}

// Current returns the current section, if any.
func (m *Manager) Current() (Section, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == "" {
		return Section{}, false
	}
	if idx := m.indexLocked(m.current); idx >= 0 {
		return m.sections[idx].clone(), true
	}
	return Section{}, false
}

// Transitioning reports whether a transition is in flight.
func (m *Manager) Transitioning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitioning
}

// Trigger moves the studio to the target section. It fails fast with
// ErrTransitioning while another transition is in flight; transitions do not
// queue. A pending auto-advance timer is always canceled first. Fades block
// the caller for the stepped wait sequence.
func (m *Manager) Trigger(id string, t Transition) error {
	start := m.now()
	mode := t.Mode
	if mode == "" {
		mode = ModeCut
	}
	switch mode {
	case ModeCut, ModeFade, ModeCrossfade:
	default:
		m.observe(TransitionObservation{SectionID: id, Mode: t.Mode, Beats: t.Beats, Reason: "unknown_mode"})
		return fmt.Errorf("section: unknown transition mode %q", t.Mode)
	}
	beats := t.Beats
	if beats <= 0 {
		beats = 4
	}

	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		m.logger.Warn("section trigger for unknown id", "section_id", id)
		m.observe(TransitionObservation{SectionID: id, Mode: mode, Beats: beats, Reason: "not_found"})
		return fmt.Errorf("%w: %q", ErrSectionNotFound, id)
	}
	if m.transitioning {
		m.mu.Unlock()
		m.logger.Warn("section transition already in progress", "section_id", id)
		m.observe(TransitionObservation{SectionID: id, Mode: mode, Beats: beats, Reason: "transitioning"})
		return ErrTransitioning
	}
	m.transitioning = true
	m.cancelAdvanceLocked()
	target := m.sections[idx].clone()
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.transitioning = false
		m.mu.Unlock()
	}()

	m.logger.Info("section transition",
		"section", target.Name,
		"mode", string(mode),
		"beats", beats,
	)

	if mode == ModeCut {
		m.applyCut(target)
	} else {
		m.applyFade(target, beats)
	}

	m.mu.Lock()
	m.current = target.ID
	m.mu.Unlock()

	m.scheduleAdvance(target)
	m.observe(TransitionObservation{
		SectionID: target.ID,
		Mode:      mode,
		Beats:     beats,
		Duration:  m.now().Sub(start),
		Success:   true,
	})
	m.notify()
	return nil
}

// Next triggers the section after the current one, wrapping at the end. With
// no current section it starts at the first.
func (m *Manager) Next(t Transition) error {
	m.mu.Lock()
	if len(m.sections) == 0 {
		m.mu.Unlock()
		return ErrNoSections
	}
	idx := -1
	if m.current != "" {
		idx = m.indexLocked(m.current)
	}
	id := m.sections[(idx+1)%len(m.sections)].ID
	m.mu.Unlock()
	return m.Trigger(id, t)
}

// Previous triggers the section before the current one, wrapping at the
// start. With no current section it starts at the last.
func (m *Manager) Previous(t Transition) error {
	m.mu.Lock()
	if len(m.sections) == 0 {
		m.mu.Unlock()
		return ErrNoSections
	}
	var id string
	if m.current == "" {
		id = m.sections[len(m.sections)-1].ID
	} else {
		idx := m.indexLocked(m.current)
		id = m.sections[(idx-1+len(m.sections))%len(m.sections)].ID
	}
	m.mu.Unlock()
	return m.Trigger(id, t)
}

// OnChange registers a listener fired after every mutating operation: add,
// remove, update, clone, trigger and import. The returned function
// unsubscribes and is idempotent.
func (m *Manager) OnChange(fn func()) func() {
	m.mu.Lock()
	m.nextListener++
	entry := &listenerEntry{id: m.nextListener, fn: fn}
	m.listeners = append(m.listeners, entry)
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, e := range m.listeners {
			if e.id == entry.id {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) applyCut(target Section) {
	wasPlaying := m.engine.Playing()
	m.engine.Stop()
	m.applyState(target)
	if wasPlaying {
		m.engine.Start()
	}
}

// applyFade runs the stepped wait skeleton: beats*4 steps down at the live
// tempo, the switch, then beats*4 steps back up at the target tempo. The
// master gain is the only per-step knob driven today.
func (m *Manager) applyFade(target Section, beats float64) {
	steps := int(beats * 4)
	if steps < 1 {
		steps = 1
	}

	out := stepDuration(m.engine.BPM())
	for i := 1; i <= steps; i++ {
		m.sleep(out)
		m.engine.SetMasterGain(1 - float64(i)/float64(steps))
	}

	m.applyState(target)

	in := stepDuration(target.BPM)
	for i := 1; i <= steps; i++ {
		m.sleep(in)
		m.engine.SetMasterGain(float64(i) / float64(steps))
	}
}

func (m *Manager) applyState(target Section) {
	if target.BPM > 0 {
		m.engine.SetBPM(target.BPM)
	}
	if len(target.Macros) > 0 {
		m.macros.SetMany(target.Macros, "section")
	}
	m.engine.ApplyTracks(target.Tracks)
}

func (m *Manager) scheduleAdvance(target Section) {
	if target.AutoAdvanceBars <= 0 {
		return
	}
	bpm := m.engine.BPM()
	if bpm <= 0 {
		m.logger.Warn("auto-advance skipped: engine reports no tempo",
			"section", target.Name)
		return
	}
	delay := time.Duration(float64(target.AutoAdvanceBars) * 4 * (60 / bpm) * float64(time.Second))

	m.mu.Lock()
	m.cancelAdvanceLocked()
	m.advanceTimer = time.AfterFunc(delay, func() {
		if err := m.Next(Transition{Mode: ModeCrossfade, Beats: autoAdvanceBeats}); err != nil {
			m.logger.Warn("auto-advance failed", "error", err)
		}
	})
	m.mu.Unlock()
}

func (m *Manager) cancelAdvanceLocked() {
	if m.advanceTimer != nil {
		m.advanceTimer.Stop()
		m.advanceTimer = nil
	}
}

func (m *Manager) observe(obs TransitionObservation) {
	if m.observer != nil {
		m.observer.ObserveTransition(obs)
	}
}

func (m *Manager) indexLocked(id string) int {
	for i, s := range m.sections {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) notify() {
	m.mu.Lock()
	listeners := make([]*listenerEntry, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, e := range listeners {
		e.fn()
	}
}

// stepDuration is one fade step: a quarter of a beat at bpm.
func stepDuration(bpm float64) time.Duration {
	if bpm <= 0 {
		bpm = cosmos.DefaultBPM
	}
	return time.Duration(float64(time.Second) * 60 / bpm / 4)
}
