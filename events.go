// Package cosmos defines the event vocabulary and shared state model for the
// Cosmos studio: a generative art and music environment whose subsystems
// (pattern engine, renderers, UI surfaces, rule engine) coordinate exclusively
// through typed events on a synchronous bus.
//
// The package holds the parts every subsystem shares: the Kind registry, the
// typed payload set, the Event envelope, the JSON wire codec used by mirrors
// and feeds, and the derived State snapshot. The bus itself lives in the bus
// subpackage; satellites (macro, audit, section, mirror) build on both.
package cosmos

import (
	"strings"
	"time"
)

// Kind identifies the type of an event. Each kind carries exactly one payload
// shape; subscribers key on kinds, and families group by dotted prefix.
type Kind string

const (
	// KindTransportStarted is emitted when playback begins.
	KindTransportStarted Kind = "transport.started"

	// KindTransportStopped is emitted when playback halts.
	KindTransportStopped Kind = "transport.stopped"

	// KindTransportTempo is emitted when the tempo changes, whether or not
	// the transport is running.
	KindTransportTempo Kind = "transport.tempo"

	// KindTransportTick is emitted on every sub-beat tick while playing.
	KindTransportTick Kind = "transport.tick"

	// KindAudioAnalysis carries band-filtered analysis of the current audio
	// output, produced by the pattern engine's analyser.
	KindAudioAnalysis Kind = "audio.analysis"

	// KindMacroChanged is emitted when a macro channel takes a new value.
	// Source records who moved it (ui, curve, randomize, section, rule).
	KindMacroChanged Kind = "macro.changed"

	// KindLayerMetrics carries per-frame statistics from a shader layer.
	KindLayerMetrics Kind = "layer.metrics"

	// KindSketchMetrics carries per-frame statistics from a sketch layer.
	KindSketchMetrics Kind = "sketch.metrics"

	// KindAffectChanged is emitted when the interaction-affect estimator
	// publishes a new reading.
	KindAffectChanged Kind = "affect.changed"

	// KindProjectLoaded is emitted after a project has been restored.
	KindProjectLoaded Kind = "project.loaded"

	// KindProjectSaved is emitted after a project has been persisted.
	KindProjectSaved Kind = "project.saved"

	// KindAssetAdded is emitted when a media asset joins the project pool.
	KindAssetAdded Kind = "asset.added"

	// KindAssetRemoved is emitted when a media asset leaves the project pool.
	KindAssetRemoved Kind = "asset.removed"

	// KindRuleFired is emitted when a generation rule applies successfully.
	KindRuleFired Kind = "rule.fired"

	// KindRuleRejected is emitted when a generation rule is evaluated and
	// declined, with the reason.
	KindRuleRejected Kind = "rule.rejected"

	// KindGenerationRequested is emitted when a new edition starts
	// generating.
	KindGenerationRequested Kind = "generation.requested"

	// KindGenerationCompleted is emitted when an edition finishes.
	KindGenerationCompleted Kind = "generation.completed"

	// KindRenderStarted is emitted when a renderer begins producing output
	// for a layer.
	KindRenderStarted Kind = "render.started"

	// KindRenderCompleted is emitted when a renderer finishes a layer.
	KindRenderCompleted Kind = "render.completed"

	// KindSystemSeed is emitted when the global seed is set or replaced.
	KindSystemSeed Kind = "system.seed"

	// KindSystemFrame is emitted once per animation frame with the delta
	// since the previous frame.
	KindSystemFrame Kind = "system.frame"

	// KindAuditRecorded is a synthetic event emitted by the audit logger
	// when an edition's provenance record is finalized.
	KindAuditRecorded Kind = "audit.record"
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	return string(k)
}

// Topic returns the family prefix of the kind, the segment before the first
// dot ("transport.tick" -> "transport"). Kinds without a dot are their own
// topic.
func (k Kind) Topic() string {
	s := string(k)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

// Event is the envelope every bus delivery uses. Subscribers receive events
// by value; the payload is the only shared reference and is treated as
// immutable after emit.
type Event struct {
	// Kind identifies the event type and fixes the payload shape.
	Kind Kind

	// Time is when the event was emitted.
	Time time.Time

	// Seq is a monotonic per-bus sequence number (1-indexed). Events that
	// arrived over a mirror keep the sequence assigned by the local bus,
	// not the remote one.
	Seq uint64

	// Origin identifies the process that first emitted the event. Local
	// emits carry the bus's own origin; mirrored events keep the remote
	// origin, which is how forwarding loops are broken.
	Origin string

	// Payload contains the kind-specific data.
	Payload Payload
}

// NewEvent creates an event for the payload with the current timestamp.
// Seq and Origin are assigned by the bus at emit time.
func NewEvent(p Payload) Event {
	return Event{
		Kind:    p.Kind(),
		Time:    time.Now(),
		Payload: p,
	}
}

// WithOrigin returns a copy of the event tagged with the given origin.
func (e Event) WithOrigin(origin string) Event {
	e.Origin = origin
	return e
}
