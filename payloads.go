package cosmos

import "time"

// Payload is the closed set of event payloads. Every kind maps to exactly one
// payload type, which lets state derivation type-switch exhaustively instead
// of fishing values out of loose maps. The unexported marker keeps the set
// closed to this package.
type Payload interface {
	// Kind returns the event kind this payload belongs to.
	Kind() Kind

	payload()
}

// Tone is the coarse mood classification attached to affect readings.
type Tone string

const (
	ToneSerene   Tone = "serene"
	ToneBuilding Tone = "building"
	ToneFrantic  Tone = "frantic"
	ToneDark     Tone = "dark"
)

// TransportStarted reports that playback began at the given tempo.
type TransportStarted struct {
	BPM float64 `json:"bpm"`
}

// TransportStopped reports that playback halted.
type TransportStopped struct{}

// TransportTempo reports a tempo change.
type TransportTempo struct {
	BPM float64 `json:"bpm"`
}

// TransportTick reports one sub-beat tick of the running transport.
// Phase is the position within the current cycle in [0,1).
type TransportTick struct {
	Bar   int     `json:"bar"`
	Beat  int     `json:"beat"`
	Tick  int     `json:"tick"`
	Phase float64 `json:"phase"`
}

// AudioAnalysis carries band levels from the engine analyser, all in [0,1].
type AudioAnalysis struct {
	RMS  float64 `json:"rms"`
	Peak float64 `json:"peak"`
	Low  float64 `json:"low"`
	Mid  float64 `json:"mid"`
	High float64 `json:"high"`
}

// MacroChanged reports a macro channel movement. Channel is the canonical
// id ("A".."D"); Source identifies the actor that moved it.
type MacroChanged struct {
	Channel string  `json:"channel"`
	Value   float64 `json:"value"`
	Source  string  `json:"source,omitempty"`
}

// LayerMetrics carries per-frame shader layer statistics.
type LayerMetrics struct {
	LayerID    string  `json:"layer_id"`
	Brightness float64 `json:"brightness"`
	Hue        float64 `json:"hue"`
	Edge       float64 `json:"edge"`
}

// SketchMetrics carries per-frame sketch layer statistics.
type SketchMetrics struct {
	LayerID   string  `json:"layer_id"`
	CursorX   float64 `json:"cursor_x"`
	CursorY   float64 `json:"cursor_y"`
	Speed     float64 `json:"speed"`
	Particles int     `json:"particles"`
}

// AffectChanged carries the interaction-affect estimate. The three scalar
// readings are in [0,1].
type AffectChanged struct {
	Hesitation   float64 `json:"hesitation"`
	Overactivity float64 `json:"overactivity"`
	Entropy      float64 `json:"entropy"`
	Tone         Tone    `json:"tone"`
}

// ProjectLoaded reports that a named project was restored.
type ProjectLoaded struct {
	Name string `json:"name"`
}

// ProjectSaved reports that a named project was persisted.
type ProjectSaved struct {
	Name string `json:"name"`
}

// AssetAdded reports a new media asset in the project pool.
type AssetAdded struct {
	AssetID string `json:"asset_id"`
	Type    string `json:"type"`
}

// AssetRemoved reports an asset leaving the project pool.
type AssetRemoved struct {
	AssetID string `json:"asset_id"`
}

// RuleFired reports a generation rule that applied.
type RuleFired struct {
	Rule string `json:"rule"`
}

// RuleRejected reports a generation rule that was evaluated and declined.
type RuleRejected struct {
	Rule   string `json:"rule"`
	Reason string `json:"reason,omitempty"`
}

// TraitPick records one trait decision made during generation: the chosen
// value and why it was chosen.
type TraitPick struct {
	Value  string `json:"value"`
	Reason string `json:"reason,omitempty"`
}

// GenerationRequested reports that an edition began generating.
type GenerationRequested struct {
	Edition int                  `json:"edition"`
	Seed    string               `json:"seed"`
	Traits  map[string]TraitPick `json:"traits,omitempty"`
}

// GenerationCompleted reports that an edition finished, with the wall time
// it took and the content hashes of its outputs.
type GenerationCompleted struct {
	Edition    int      `json:"edition"`
	DurationMS float64  `json:"duration_ms"`
	Hashes     []string `json:"hashes,omitempty"`
}

// RenderStarted reports a renderer starting work on a layer.
type RenderStarted struct {
	Renderer string `json:"renderer"`
	LayerID  string `json:"layer_id,omitempty"`
}

// RenderCompleted reports a renderer finishing a layer.
type RenderCompleted struct {
	Renderer    string  `json:"renderer"`
	LayerID     string  `json:"layer_id,omitempty"`
	DurationMS  float64 `json:"duration_ms"`
	ContentHash string  `json:"content_hash,omitempty"`
}

// SystemSeed sets or replaces the global deterministic seed.
type SystemSeed struct {
	Seed string `json:"seed"`
}

// SystemFrame reports one animation frame with the time since the previous
// one in milliseconds.
type SystemFrame struct {
	DeltaMS float64 `json:"delta_ms"`
}

// GenerationRecord is the finalized provenance of one edition: everything
// the audit logger attributed to it between request and completion.
type GenerationRecord struct {
	Edition     int                  `json:"edition"`
	Seed        string               `json:"seed"`
	Traits      map[string]TraitPick `json:"traits,omitempty"`
	Rules       []string             `json:"rules,omitempty"`
	Rejections  int                  `json:"rejections"`
	Renders     map[string]int       `json:"renders,omitempty"`
	DurationMS  float64              `json:"duration_ms"`
	Hashes      []string             `json:"hashes,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt time.Time            `json:"completed_at,omitzero"`
}

// AuditRecorded is the synthetic event the audit logger emits when an
// edition's provenance record is finalized.
type AuditRecorded struct {
	Edition int              `json:"edition"`
	Record  GenerationRecord `json:"record"`
}

// Kind implementations.

func (TransportStarted) Kind() Kind    { return KindTransportStarted }
func (TransportStopped) Kind() Kind    { return KindTransportStopped }
func (TransportTempo) Kind() Kind      { return KindTransportTempo }
func (TransportTick) Kind() Kind       { return KindTransportTick }
func (AudioAnalysis) Kind() Kind       { return KindAudioAnalysis }
func (MacroChanged) Kind() Kind        { return KindMacroChanged }
func (LayerMetrics) Kind() Kind        { return KindLayerMetrics }
func (SketchMetrics) Kind() Kind       { return KindSketchMetrics }
func (AffectChanged) Kind() Kind       { return KindAffectChanged }
func (ProjectLoaded) Kind() Kind       { return KindProjectLoaded }
func (ProjectSaved) Kind() Kind        { return KindProjectSaved }
func (AssetAdded) Kind() Kind          { return KindAssetAdded }
func (AssetRemoved) Kind() Kind        { return KindAssetRemoved }
func (RuleFired) Kind() Kind           { return KindRuleFired }
func (RuleRejected) Kind() Kind        { return KindRuleRejected }
func (GenerationRequested) Kind() Kind { return KindGenerationRequested }
func (GenerationCompleted) Kind() Kind { return KindGenerationCompleted }
func (RenderStarted) Kind() Kind       { return KindRenderStarted }
func (RenderCompleted) Kind() Kind     { return KindRenderCompleted }
func (SystemSeed) Kind() Kind          { return KindSystemSeed }
func (SystemFrame) Kind() Kind         { return KindSystemFrame }
func (AuditRecorded) Kind() Kind       { return KindAuditRecorded }

// Closed-set markers.

func (TransportStarted) payload()    {}
func (TransportStopped) payload()    {}
func (TransportTempo) payload()      {}
func (TransportTick) payload()       {}
func (AudioAnalysis) payload()       {}
func (MacroChanged) payload()        {}
func (LayerMetrics) payload()        {}
func (SketchMetrics) payload()       {}
func (AffectChanged) payload()       {}
func (ProjectLoaded) payload()       {}
func (ProjectSaved) payload()        {}
func (AssetAdded) payload()          {}
func (AssetRemoved) payload()        {}
func (RuleFired) payload()           {}
func (RuleRejected) payload()        {}
func (GenerationRequested) payload() {}
func (GenerationCompleted) payload() {}
func (RenderStarted) payload()       {}
func (RenderCompleted) payload()     {}
func (SystemSeed) payload()          {}
func (SystemFrame) payload()         {}
func (AuditRecorded) payload()       {}
