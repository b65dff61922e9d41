package macro

import (
	"sync"

	cosmos "github.com/nebulalabs/cosmos"
	"github.com/nebulalabs/cosmos/bus"
)

// Bridge connects a System to the event bus in both directions: committed
// macro changes become macro.changed events, and macro.changed events from
// elsewhere (sections, rules, remote processes) are applied to the System.
//
// Two guards keep the loop open-circuit. Inbound events with source "ui"
// are dropped: UI surfaces write through the System directly, so a
// ui-sourced event on the bus is an echo of a change the System already
// holds. And while the bridge is applying an inbound event, the resulting
// listener callback is suppressed rather than re-emitted. Any echo that
// slips past both guards dies on the System's value-equality check.
type Bridge struct {
	sys *System
	bus *bus.Bus

	unsubBus func()
	unsubSys func()

	mu       sync.Mutex
	applying bool
}

// Bind attaches the System to the bus. Close detaches it.
func Bind(sys *System, b *bus.Bus) *Bridge {
	br := &Bridge{
		sys: sys,
		bus: b,
	}
	br.unsubSys = sys.OnChange(br.onChange)
	br.unsubBus = b.Subscribe(cosmos.KindMacroChanged, br.onEvent)
	return br
}

// onChange forwards committed System changes to the bus.
func (br *Bridge) onChange(channel string, value float64, source string) {
	br.mu.Lock()
	applying := br.applying
	br.mu.Unlock()
	if applying {
		return
	}

	br.bus.Emit(cosmos.MacroChanged{
		Channel: channel,
		Value:   value,
		Source:  source,
	})
}

// onEvent applies bus-borne macro changes to the System.
func (br *Bridge) onEvent(ev cosmos.Event) {
	p, ok := ev.Payload.(cosmos.MacroChanged)
	if !ok {
		return
	}
	if p.Source == SourceUI {
		return
	}

	br.mu.Lock()
	br.applying = true
	br.mu.Unlock()

	br.sys.Set(p.Channel, p.Value, p.Source)

	br.mu.Lock()
	br.applying = false
	br.mu.Unlock()
}

// Close detaches the bridge from both sides.
func (br *Bridge) Close() {
	br.unsubBus()
	br.unsubSys()
}
