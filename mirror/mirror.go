package mirror

import (
	"errors"
	"log/slog"

	cosmos "github.com/nebulalabs/cosmos"
	"github.com/nebulalabs/cosmos/bus"
)

// Config configures a Mirror.
type Config struct {
	// Logger receives transport and decode failures. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Mirror keeps one bus synchronized with its peers over a Transport.
type Mirror struct {
	bus       *bus.Bus
	transport Transport
	logger    *slog.Logger
	unsub     func()
}

// Attach binds the bus to the transport and starts mirroring in both
// directions. Close detaches and closes the transport.
func Attach(b *bus.Bus, t Transport, cfg Config) *Mirror {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Mirror{
		bus:       b,
		transport: t,
		logger:    logger,
	}
	t.Receive(m.onFrame)
	m.unsub = b.SubscribeAll(m.onEvent)
	return m
}

// onEvent forwards locally originated events to the peer. Events whose
// origin is not this bus arrived over a mirror and are never re-sent; one
// hop is the loop-prevention invariant.
func (m *Mirror) onEvent(ev cosmos.Event) {
	if ev.Origin != m.bus.Origin() {
		return
	}

	data, err := cosmos.MarshalEvent(ev)
	if err != nil {
		m.logger.Error("mirror encode failed", "kind", ev.Kind, "error", err)
		return
	}
	if err := m.transport.Send(data); err != nil {
		m.logger.Warn("mirror send failed", "kind", ev.Kind, "error", err)
	}
}

// onFrame injects events received from the peer. Unknown kinds come from a
// newer peer build and are skipped; the rest of the stream stays usable.
func (m *Mirror) onFrame(data []byte) {
	ev, err := cosmos.UnmarshalEvent(data)
	if err != nil {
		if errors.Is(err, cosmos.ErrUnknownKind) {
			m.logger.Debug("mirror skipping unknown kind", "error", err)
			return
		}
		m.logger.Warn("mirror dropping bad frame", "error", err)
		return
	}

	// A transport without echo suppression can deliver our own frames back.
	if ev.Origin == m.bus.Origin() {
		return
	}

	m.bus.Inject(ev)
}

// Close detaches from the bus and closes the transport.
func (m *Mirror) Close() error {
	m.unsub()
	return m.transport.Close()
}
