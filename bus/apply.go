package bus

import (
	cosmos "github.com/nebulalabs/cosmos"
)

// applyEvent folds one event into the derived snapshot. The switch is
// exhaustive over the payload set: a new kind that should shape state has to
// be added here, and a kind listed in the no-op arm is a recorded decision,
// not an oversight. Caller holds the bus lock.
func applyEvent(s *cosmos.State, ev cosmos.Event) {
	switch p := ev.Payload.(type) {
	case cosmos.TransportStarted:
		s.Transport.Playing = true
		if p.BPM > 0 {
			s.Transport.BPM = p.BPM
			s.Transport.CPS = cosmos.CyclesPerSecond(p.BPM)
		}
		s.Transport.Bar = 0
		s.Transport.Beat = 0
		s.Transport.Tick = 0
		s.Transport.Phase = 0

	case cosmos.TransportStopped:
		s.Transport.Playing = false

	case cosmos.TransportTempo:
		if p.BPM > 0 {
			s.Transport.BPM = p.BPM
			s.Transport.CPS = cosmos.CyclesPerSecond(p.BPM)
		}

	case cosmos.TransportTick:
		s.Transport.Bar = p.Bar
		s.Transport.Beat = p.Beat
		s.Transport.Tick = p.Tick
		s.Transport.Phase = p.Phase

	case cosmos.AudioAnalysis:
		s.Audio = cosmos.AudioState{
			RMS:  clamp01(p.RMS),
			Peak: clamp01(p.Peak),
			Low:  clamp01(p.Low),
			Mid:  clamp01(p.Mid),
			High: clamp01(p.High),
		}

	case cosmos.MacroChanged:
		id := cosmos.CanonicalMacro(p.Channel)
		v := clamp01(p.Value)
		s.Macros[id] = v
		if alias := cosmos.MacroAlias(id); alias != "" {
			s.Macros[alias] = v
		}

	case cosmos.LayerMetrics:
		// Upsert: an unseen layer id materializes on first metrics.
		s.Layers[p.LayerID] = cosmos.LayerState{
			Brightness: p.Brightness,
			Hue:        p.Hue,
			Edge:       p.Edge,
		}

	case cosmos.SketchMetrics:
		s.Sketches[p.LayerID] = cosmos.SketchState{
			CursorX:   p.CursorX,
			CursorY:   p.CursorY,
			Speed:     p.Speed,
			Particles: p.Particles,
		}

	case cosmos.AffectChanged:
		s.Affect.Hesitation = clamp01(p.Hesitation)
		s.Affect.Overactivity = clamp01(p.Overactivity)
		s.Affect.Entropy = clamp01(p.Entropy)
		if p.Tone != "" {
			s.Affect.Tone = p.Tone
		}

	case cosmos.ProjectLoaded:
		s.Project = p.Name

	case cosmos.ProjectSaved:
		s.Project = p.Name

	case cosmos.AssetAdded:
		s.Assets[p.AssetID] = p.Type

	case cosmos.AssetRemoved:
		delete(s.Assets, p.AssetID)

	case cosmos.SystemSeed:
		s.Seed = p.Seed

	case cosmos.SystemFrame:
		s.Frame.Count++
		s.Frame.DeltaMS = p.DeltaMS
		if p.DeltaMS > 0 {
			s.Frame.FPS = 1000 / p.DeltaMS
		} else {
			s.Frame.FPS = 0
		}

	case cosmos.RuleFired, cosmos.RuleRejected,
		cosmos.GenerationRequested, cosmos.GenerationCompleted,
		cosmos.RenderStarted, cosmos.RenderCompleted,
		cosmos.AuditRecorded:
		// No derived state. These kinds exist for subscribers, the audit
		// trail, and observability.
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
