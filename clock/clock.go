// Package clock is the local transport authority: a metronome goroutine that
// publishes transport.started/stopped/tempo/tick events on the bus and
// implements the playback-engine surface the section manager drives. In a
// full deployment the pattern engine owns the transport and this clock stays
// idle; standalone it keeps the studio beating.
package clock

import (
	"log/slog"
	"sync"
	"time"

	cosmos "github.com/nebulalabs/cosmos"
	"github.com/nebulalabs/cosmos/bus"
	"github.com/nebulalabs/cosmos/section"
)

const (
	ticksPerBeat = 4
	beatsPerBar  = 4
)

// Config configures a Clock.
type Config struct {
	// Bus receives the transport events. Required.
	Bus *bus.Bus

	// BPM is the starting tempo (default cosmos.DefaultBPM).
	BPM float64

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Clock is a stoppable metronome. All methods are safe for concurrent use.
type Clock struct {
	bus    *bus.Bus
	logger *slog.Logger

	mu      sync.Mutex
	playing bool
	bpm     float64
	gain    float64
	tracks  []section.TrackConfig
	bar     int
	beat    int
	tick    int
	stop    chan struct{}
	done    chan struct{}
}

// New creates a stopped clock.
func New(cfg Config) *Clock {
	bpm := cfg.BPM
	if bpm <= 0 {
		bpm = cosmos.DefaultBPM
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Clock{
		bus:    cfg.Bus,
		logger: logger,
		bpm:    bpm,
		gain:   1,
		bar:    1,
	}
}

// Start begins ticking from the top of bar one and announces
// transport.started. Starting a running clock is a no-op.
func (c *Clock) Start() {
	c.mu.Lock()
	if c.playing {
		c.mu.Unlock()
		return
	}
	c.playing = true
	c.bar, c.beat, c.tick = 1, 0, 0
	bpm := c.bpm
	stop := make(chan struct{})
	done := make(chan struct{})
	c.stop = stop
	c.done = done
	c.mu.Unlock()

	c.bus.Emit(cosmos.TransportStarted{BPM: bpm})
	go c.run(stop, done)
}

// Stop halts the metronome and announces transport.stopped. Stopping a
// stopped clock is a no-op.
func (c *Clock) Stop() {
	c.mu.Lock()
	if !c.playing {
		c.mu.Unlock()
		return
	}
	c.playing = false
	stop := c.stop
	done := c.done
	c.stop = nil
	c.done = nil
	c.mu.Unlock()

	close(stop)
	<-done
	c.bus.Emit(cosmos.TransportStopped{})
}

// Close stops the clock.
func (c *Clock) Close() {
	c.Stop()
}

// Playing reports whether the clock is ticking.
func (c *Clock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// BPM returns the current tempo.
func (c *Clock) BPM() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bpm
}

// SetBPM changes the tempo and announces transport.tempo. The running tick
// loop picks the new interval up on its next beat subdivision.
// Non-positive values are ignored.
func (c *Clock) SetBPM(bpm float64) {
	if bpm <= 0 {
		return
	}
	c.mu.Lock()
	changed := c.bpm != bpm
	c.bpm = bpm
	c.mu.Unlock()

	if changed {
		c.bus.Emit(cosmos.TransportTempo{BPM: bpm})
	}
}

// SetMasterGain stores the output gain the fade skeleton drives. There is no
// local audio path; the value is exposed for mixers that poll it.
func (c *Clock) SetMasterGain(gain float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gain = gain
}

// MasterGain returns the stored output gain.
func (c *Clock) MasterGain() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gain
}

// Tracks returns the live track lineup.
func (c *Clock) Tracks() []section.TrackConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]section.TrackConfig(nil), c.tracks...)
}

// ApplyTracks replaces the live track lineup.
func (c *Clock) ApplyTracks(tracks []section.TrackConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = append([]section.TrackConfig(nil), tracks...)
}

func (c *Clock) run(stop, done chan struct{}) {
	defer close(done)
	for {
		c.mu.Lock()
		bpm := c.bpm
		c.mu.Unlock()

		interval := time.Duration(float64(time.Second) * 60 / bpm / ticksPerBeat)
		select {
		case <-stop:
			return
		case <-time.After(interval):
		}

		c.bus.Emit(c.advance())
	}
}

// advance moves the position one sixteenth forward and returns the tick
// payload for the new position.
func (c *Clock) advance() cosmos.TransportTick {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tick++
	if c.tick >= ticksPerBeat {
		c.tick = 0
		c.beat++
	}
	if c.beat >= beatsPerBar {
		c.beat = 0
		c.bar++
	}
	phase := (float64(c.beat) + float64(c.tick)/ticksPerBeat) / beatsPerBar

	return cosmos.TransportTick{
		Bar:   c.bar,
		Beat:  c.beat,
		Tick:  c.tick,
		Phase: phase,
	}
}

var _ section.AudioEngine = (*Clock)(nil)
