// Package sse provides a Server-Sent Events handler for streaming bus events
// to HTTP clients. It replays recorded history first, then subscribes to live
// events, deduplicating by sequence number across the seam.
package sse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nebulalabs/cosmos"
	"github.com/nebulalabs/cosmos/bus"
)

// HeartbeatInterval is the interval between SSE heartbeat comments.
const HeartbeatInterval = 15 * time.Second

// defaultBufferSize is the per-client event buffer. A client that cannot
// drain this many events between reads starts losing the oldest ones.
const defaultBufferSize = 256

// Config configures a Handler.
type Config struct {
	// Bus is required.
	Bus *bus.Bus

	// CoalesceInterval thins tick and frame kinds per client; high-frequency
	// kinds keep only the latest event per interval. Zero disables thinning.
	CoalesceInterval time.Duration

	// BufferSize is the per-client channel buffer (default: 256).
	BufferSize int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Handler serves the SSE stream of bus events.
//
// The stream takes three optional query parameters: "after" (a last-seen
// sequence number; recorded history past it is replayed before live events),
// "kind" (exact kind filter) and "topic" (kind family filter, ignored when
// kind is set).
//
// SSE format:
//
//	id: {seq}
//	event: {kind}
//	data: {wire json}
//
// A heartbeat comment ": ping\n\n" is sent every 15 seconds. The stream runs
// until the client disconnects or the handler is closed.
type Handler struct {
	bus      *bus.Bus
	logger   *slog.Logger
	interval time.Duration
	bufSize  int

	closeOnce sync.Once
	closed    chan struct{}
}

// NewHandler creates a Handler streaming from the given bus.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Bus == nil {
		return nil, errors.New("sse: bus is required")
	}
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		bus:      cfg.Bus,
		logger:   logger,
		interval: cfg.CoalesceInterval,
		bufSize:  bufSize,
		closed:   make(chan struct{}),
	}, nil
}

// Close ends every open stream. Connected clients get their final flush and
// an EOF; new requests are rejected.
func (h *Handler) Close() {
	h.closeOnce.Do(func() { close(h.closed) })
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.closed:
		http.Error(w, "stream closed", http.StatusServiceUnavailable)
		return
	default:
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var afterSeq uint64
	if afterStr := r.URL.Query().Get("after"); afterStr != "" {
		parsed, err := strconv.ParseUint(afterStr, 10, 64)
		if err != nil {
			http.Error(w, "invalid after parameter", http.StatusBadRequest)
			return
		}
		afterSeq = parsed
	}
	kind := cosmos.Kind(r.URL.Query().Get("kind"))
	topic := r.URL.Query().Get("topic")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()

	// The bus fans out synchronously on the emitter's goroutine, so the
	// client bridge must never block: events land in a buffered channel and
	// overflow is dropped.
	ch := make(chan cosmos.Event, h.bufSize)
	var dropped atomic.Int64
	push := func(ev cosmos.Event) {
		select {
		case ch <- ev:
		default:
			dropped.Add(1)
		}
	}

	deliver := bus.Handler(push)
	if h.interval > 0 {
		co := bus.NewCoalescer(push, bus.CoalesceConfig{Interval: h.interval})
		defer co.Close()
		deliver = co.Handle
	}

	// Subscribe before replaying history, so nothing emitted in between is
	// missed; the seq dedup below drops the overlap.
	var unsubscribe func()
	switch {
	case kind != "":
		unsubscribe = h.bus.Subscribe(kind, deliver)
	case topic != "":
		inner := deliver
		unsubscribe = h.bus.SubscribeAll(func(ev cosmos.Event) {
			if ev.Kind.Topic() == topic {
				inner(ev)
			}
		})
	default:
		unsubscribe = h.bus.SubscribeAll(deliver)
	}
	defer unsubscribe()

	replayedThrough, err := h.replayHistory(w, flusher, kind, topic, afterSeq)
	if err != nil {
		return
	}

	h.streamLive(ctx, w, flusher, ch, replayedThrough)

	if n := dropped.Load(); n > 0 {
		h.logger.Warn("sse client fell behind", "dropped", n)
	}
}

// replayHistory writes recorded events past the cursor to the stream and
// returns the highest sequence number it sent.
func (h *Handler) replayHistory(
	w http.ResponseWriter,
	flusher http.Flusher,
	kind cosmos.Kind,
	topic string,
	afterSeq uint64,
) (uint64, error) {
	replayedThrough := afterSeq
	entries := h.bus.History(bus.HistoryQuery{Kind: kind, Topic: topic, AfterSeq: afterSeq})
	for _, entry := range entries {
		if err := writeSSEEvent(w, entry.Event); err != nil {
			return replayedThrough, err
		}
		flusher.Flush()

		if entry.Event.Seq > replayedThrough {
			replayedThrough = entry.Event.Seq
		}
	}
	return replayedThrough, nil
}

// streamLive streams live events with a heartbeat. Events at or below
// replayedThrough were already sent during replay and are skipped; the bound
// is fixed, not a moving watermark, because coalesced kinds can arrive
// behind pass-through kinds.
func (h *Handler) streamLive(
	ctx context.Context,
	w http.ResponseWriter,
	flusher http.Flusher,
	ch <-chan cosmos.Event,
	replayedThrough uint64,
) {
	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-h.closed:
			// Flush anything already buffered so a clean shutdown does not
			// truncate the stream mid-burst.
			drainRemaining(w, flusher, ch, replayedThrough)
			return

		case ev := <-ch:
			if ev.Seq <= replayedThrough {
				continue
			}

			if err := writeSSEEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// drainRemaining writes buffered events without blocking for new ones.
func drainRemaining(w http.ResponseWriter, flusher http.Flusher, ch <-chan cosmos.Event, replayedThrough uint64) {
	for {
		select {
		case ev := <-ch:
			if ev.Seq <= replayedThrough {
				continue
			}
			if err := writeSSEEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		default:
			return
		}
	}
}

// writeSSEEvent writes a single event in SSE format. The data line is the
// canonical wire encoding.
func writeSSEEvent(w http.ResponseWriter, ev cosmos.Event) error {
	data, err := cosmos.MarshalEvent(ev)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Kind, data)
	return err
}
