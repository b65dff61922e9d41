package cosmos

// DefaultBPM is the tempo assumed before any transport event has arrived.
const DefaultBPM = 120

// CyclesPerSecond converts a tempo to pattern cycles per second. One cycle
// spans four beats.
func CyclesPerSecond(bpm float64) float64 {
	return bpm / 60 / 4
}

// MacroChannels lists the canonical macro channel ids in order.
var MacroChannels = []string{"A", "B", "C", "D"}

// macroAliases maps canonical channel ids to display aliases and back.
// Both directions live in one map so resolution is a single lookup.
var macroAliases = map[string]string{
	"A": "Tone", "Tone": "A",
	"B": "Movement", "Movement": "B",
	"C": "Space", "Space": "C",
	"D": "Grit", "Grit": "D",
}

// CanonicalMacro resolves a channel id or alias to the canonical id.
// Canonical ids resolve to themselves; unknown names pass through unchanged.
func CanonicalMacro(name string) string {
	switch name {
	case "A", "B", "C", "D":
		return name
	}
	if id, ok := macroAliases[name]; ok {
		return id
	}
	return name
}

// MacroAlias returns the display alias for a canonical channel id, or the
// empty string when it has none.
func MacroAlias(id string) string {
	switch id {
	case "A", "B", "C", "D":
		return macroAliases[id]
	}
	return ""
}

// TransportState is the playback position and tempo portion of the snapshot.
type TransportState struct {
	Playing bool    `json:"playing"`
	BPM     float64 `json:"bpm"`
	CPS     float64 `json:"cps"`
	Bar     int     `json:"bar"`
	Beat    int     `json:"beat"`
	Tick    int     `json:"tick"`
	Phase   float64 `json:"phase"`
}

// AudioState holds the latest analyser reading.
type AudioState struct {
	RMS  float64 `json:"rms"`
	Peak float64 `json:"peak"`
	Low  float64 `json:"low"`
	Mid  float64 `json:"mid"`
	High float64 `json:"high"`
}

// LayerState holds the latest shader layer metrics.
type LayerState struct {
	Brightness float64 `json:"brightness"`
	Hue        float64 `json:"hue"`
	Edge       float64 `json:"edge"`
}

// SketchState holds the latest sketch layer metrics.
type SketchState struct {
	CursorX   float64 `json:"cursor_x"`
	CursorY   float64 `json:"cursor_y"`
	Speed     float64 `json:"speed"`
	Particles int     `json:"particles"`
}

// AffectState holds the latest interaction-affect estimate.
type AffectState struct {
	Hesitation   float64 `json:"hesitation"`
	Overactivity float64 `json:"overactivity"`
	Entropy      float64 `json:"entropy"`
	Tone         Tone    `json:"tone"`
}

// FrameState accumulates animation frame statistics.
type FrameState struct {
	Count   uint64  `json:"count"`
	FPS     float64 `json:"fps"`
	DeltaMS float64 `json:"delta_ms"`
}

// State is the derived snapshot the bus maintains from the event stream.
// It is a plain value; the bus hands out deep copies so readers can never
// observe or cause a partial update.
type State struct {
	Transport TransportState         `json:"transport"`
	Audio     AudioState             `json:"audio"`
	Macros    map[string]float64     `json:"macros"`
	Layers    map[string]LayerState  `json:"layers"`
	Sketches  map[string]SketchState `json:"sketches"`
	Affect    AffectState            `json:"affect"`
	Project   string                 `json:"project,omitempty"`
	Assets    map[string]string      `json:"assets,omitempty"`
	Seed      string                 `json:"seed,omitempty"`
	Frame     FrameState             `json:"frame"`
}

// NewState returns the zero-hour snapshot: transport stopped at the default
// tempo, all macro channels centered, serene affect, no layers.
func NewState() State {
	macros := make(map[string]float64, 2*len(MacroChannels))
	for _, id := range MacroChannels {
		macros[id] = 0.5
		macros[MacroAlias(id)] = 0.5
	}
	return State{
		Transport: TransportState{
			BPM: DefaultBPM,
			CPS: CyclesPerSecond(DefaultBPM),
		},
		Macros:   macros,
		Layers:   make(map[string]LayerState),
		Sketches: make(map[string]SketchState),
		Affect:   AffectState{Tone: ToneSerene},
		Assets:   make(map[string]string),
	}
}

// Clone returns a deep copy of the snapshot.
func (s State) Clone() State {
	out := s
	out.Macros = make(map[string]float64, len(s.Macros))
	for k, v := range s.Macros {
		out.Macros[k] = v
	}
	out.Layers = make(map[string]LayerState, len(s.Layers))
	for k, v := range s.Layers {
		out.Layers[k] = v
	}
	out.Sketches = make(map[string]SketchState, len(s.Sketches))
	for k, v := range s.Sketches {
		out.Sketches[k] = v
	}
	out.Assets = make(map[string]string, len(s.Assets))
	for k, v := range s.Assets {
		out.Assets[k] = v
	}
	return out
}
