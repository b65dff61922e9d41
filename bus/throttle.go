package bus

import (
	"sync"
	"time"

	cosmos "github.com/nebulalabs/cosmos"
)

// DefaultCoalesceKinds are the high-frequency kinds a Coalescer thins by
// default: the ones emitted per tick or per frame.
var DefaultCoalesceKinds = []cosmos.Kind{
	cosmos.KindTransportTick,
	cosmos.KindSystemFrame,
	cosmos.KindAudioAnalysis,
	cosmos.KindLayerMetrics,
	cosmos.KindSketchMetrics,
}

// CoalesceConfig controls the behavior of a Coalescer.
type CoalesceConfig struct {
	// Interval is how often coalesced events are flushed. Default: 100ms.
	Interval time.Duration

	// Kinds are the event kinds to coalesce. Default: DefaultCoalesceKinds.
	Kinds []cosmos.Kind
}

// Coalescer wraps a Handler and thins high-frequency events for slow
// consumers such as SSE clients. Coalesced kinds keep only the latest event
// per stream (kind plus layer id) within each interval; everything else
// passes through immediately. A background ticker flushes the pending set.
type Coalescer struct {
	fn       Handler
	interval time.Duration
	coalesce map[cosmos.Kind]bool

	mu      sync.Mutex
	pending map[string]cosmos.Event
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewCoalescer creates a Coalescer delivering to fn.
func NewCoalescer(fn Handler, cfg CoalesceConfig) *Coalescer {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	kinds := cfg.Kinds
	if len(kinds) == 0 {
		kinds = DefaultCoalesceKinds
	}
	coalesce := make(map[cosmos.Kind]bool, len(kinds))
	for _, k := range kinds {
		coalesce[k] = true
	}

	c := &Coalescer{
		fn:       fn,
		interval: interval,
		coalesce: coalesce,
		pending:  make(map[string]cosmos.Event),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	go c.run()

	return c
}

// Handle accepts an event. Coalesced kinds replace any pending event with
// the same stream key; other kinds are delivered immediately.
func (c *Coalescer) Handle(ev cosmos.Event) {
	if !c.coalesce[ev.Kind] {
		c.fn(ev)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.pending[streamKey(ev)] = ev
}

// streamKey separates per-layer metric streams so one busy layer cannot
// swallow another layer's latest reading.
func streamKey(ev cosmos.Event) string {
	switch p := ev.Payload.(type) {
	case cosmos.LayerMetrics:
		return string(ev.Kind) + "/" + p.LayerID
	case cosmos.SketchMetrics:
		return string(ev.Kind) + "/" + p.LayerID
	}
	return string(ev.Kind)
}

// Close flushes pending events and stops the background ticker. It is safe
// to call more than once.
func (c *Coalescer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stopCh)
	<-c.doneCh
}

func (c *Coalescer) run() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-c.stopCh:
			// Deliver whatever is still pending before exiting.
			c.flush()
			return
		}
	}
}

func (c *Coalescer) flush() {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}

	// Swap the map so delivery happens outside the lock.
	toFlush := c.pending
	c.pending = make(map[string]cosmos.Event)
	c.mu.Unlock()

	for _, ev := range toFlush {
		c.fn(ev)
	}
}
