package cosmos

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownKind is returned when decoding an event whose kind this build
// does not know. Mirrors treat it as a forward-compatibility signal and skip
// the event rather than failing the stream.
var ErrUnknownKind = errors.New("cosmos: unknown event kind")

// wireEvent is the JSON envelope used on mirrors and feeds.
type wireEvent struct {
	Kind    Kind            `json:"kind"`
	Time    time.Time       `json:"time"`
	Seq     uint64          `json:"seq"`
	Origin  string          `json:"origin,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MarshalEvent encodes an event to its JSON wire form.
func MarshalEvent(ev Event) ([]byte, error) {
	w := wireEvent{
		Kind:   ev.Kind,
		Time:   ev.Time,
		Seq:    ev.Seq,
		Origin: ev.Origin,
	}
	if ev.Payload != nil {
		raw, err := json.Marshal(ev.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", ev.Kind, err)
		}
		w.Payload = raw
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// UnmarshalEvent decodes an event from its JSON wire form. Events with a
// kind this build does not know return ErrUnknownKind.
func UnmarshalEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	p, err := decodePayload(w.Kind, w.Payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Kind:    w.Kind,
		Time:    w.Time,
		Seq:     w.Seq,
		Origin:  w.Origin,
		Payload: p,
	}, nil
}

// decodePayload resolves the payload struct for a kind and fills it from raw
// JSON. The switch is exhaustive over the kind set; adding a kind without a
// case here fails decoding, which is the point.
func decodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	fill := func(v any) error {
		if len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, v); err != nil {
			return fmt.Errorf("unmarshal %s payload: %w", kind, err)
		}
		return nil
	}

	switch kind {
	case KindTransportStarted:
		var p TransportStarted
		err := fill(&p)
		return p, err
	case KindTransportStopped:
		var p TransportStopped
		err := fill(&p)
		return p, err
	case KindTransportTempo:
		var p TransportTempo
		err := fill(&p)
		return p, err
	case KindTransportTick:
		var p TransportTick
		err := fill(&p)
		return p, err
	case KindAudioAnalysis:
		var p AudioAnalysis
		err := fill(&p)
		return p, err
	case KindMacroChanged:
		var p MacroChanged
		err := fill(&p)
		return p, err
	case KindLayerMetrics:
		var p LayerMetrics
		err := fill(&p)
		return p, err
	case KindSketchMetrics:
		var p SketchMetrics
		err := fill(&p)
		return p, err
	case KindAffectChanged:
		var p AffectChanged
		err := fill(&p)
		return p, err
	case KindProjectLoaded:
		var p ProjectLoaded
		err := fill(&p)
		return p, err
	case KindProjectSaved:
		var p ProjectSaved
		err := fill(&p)
		return p, err
	case KindAssetAdded:
		var p AssetAdded
		err := fill(&p)
		return p, err
	case KindAssetRemoved:
		var p AssetRemoved
		err := fill(&p)
		return p, err
	case KindRuleFired:
		var p RuleFired
		err := fill(&p)
		return p, err
	case KindRuleRejected:
		var p RuleRejected
		err := fill(&p)
		return p, err
	case KindGenerationRequested:
		var p GenerationRequested
		err := fill(&p)
		return p, err
	case KindGenerationCompleted:
		var p GenerationCompleted
		err := fill(&p)
		return p, err
	case KindRenderStarted:
		var p RenderStarted
		err := fill(&p)
		return p, err
	case KindRenderCompleted:
		var p RenderCompleted
		err := fill(&p)
		return p, err
	case KindSystemSeed:
		var p SystemSeed
		err := fill(&p)
		return p, err
	case KindSystemFrame:
		var p SystemFrame
		err := fill(&p)
		return p, err
	case KindAuditRecorded:
		var p AuditRecorded
		err := fill(&p)
		return p, err
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
