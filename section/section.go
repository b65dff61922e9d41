// Package section manages named performance scenes: each section captures a
// tempo, a macro pose, the audio-track lineup and optionally a visual-layer
// stack, and the manager moves the live studio between them with cut, fade or
// crossfade transitions. Sections can auto-advance on a bar count or fire on a
// wall-clock cron schedule for unattended installations.
package section

import "time"

// defaultPalette supplies colors for sections created without one.
var defaultPalette = []string{
	"#ff6b6b", "#ffd93d", "#6bcb77", "#4d96ff",
	"#b388eb", "#ff9f1c", "#2ec4b6", "#e71d36",
}

// TrackConfig describes one audio track inside a section.
type TrackConfig struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Pattern string  `json:"pattern"`
	Gain    float64 `json:"gain"`
	Mute    bool    `json:"mute"`
}

// LayerConfig describes one visual layer inside a section.
type LayerConfig struct {
	ID      string  `json:"id"`
	Kind    string  `json:"kind"`
	Source  string  `json:"source"`
	Opacity float64 `json:"opacity"`
	Blend   string  `json:"blend"`
}

// Section is a self-contained performance snapshot: everything needed to put
// the studio into a known musical and visual state.
type Section struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Color string  `json:"color"`
	BPM   float64 `json:"bpm"`

	// Macros holds the four channel values keyed by canonical id.
	Macros map[string]float64 `json:"macros"`

	Tracks []TrackConfig `json:"tracks"`
	Layers []LayerConfig `json:"layers,omitempty"`

	// AutoAdvanceBars, when positive, moves to the next section after this
	// many bars of the section's own tempo.
	AutoAdvanceBars int `json:"auto_advance_bars,omitempty"`

	Tags []string `json:"tags,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Patch is a merge-update for a section. Nil fields are left untouched;
// non-nil slices and maps replace their counterpart wholesale.
type Patch struct {
	Name            *string
	Color           *string
	BPM             *float64
	Macros          map[string]float64
	Tracks          []TrackConfig
	Layers          []LayerConfig
	AutoAdvanceBars *int
	Tags            []string
}

func (s Section) clone() Section {
	out := s
	if s.Macros != nil {
		out.Macros = make(map[string]float64, len(s.Macros))
		for k, v := range s.Macros {
			out.Macros[k] = v
		}
	}
	if s.Tracks != nil {
		out.Tracks = append([]TrackConfig(nil), s.Tracks...)
	}
	if s.Layers != nil {
		out.Layers = append([]LayerConfig(nil), s.Layers...)
	}
	if s.Tags != nil {
		out.Tags = append([]string(nil), s.Tags...)
	}
	return out
}

func (s *Section) apply(p Patch) {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Color != nil {
		s.Color = *p.Color
	}
	if p.BPM != nil {
		s.BPM = *p.BPM
	}
	if p.Macros != nil {
		s.Macros = make(map[string]float64, len(p.Macros))
		for k, v := range p.Macros {
			s.Macros[k] = v
		}
	}
	if p.Tracks != nil {
		s.Tracks = append([]TrackConfig(nil), p.Tracks...)
	}
	if p.Layers != nil {
		s.Layers = append([]LayerConfig(nil), p.Layers...)
	}
	if p.AutoAdvanceBars != nil {
		s.AutoAdvanceBars = *p.AutoAdvanceBars
	}
	if p.Tags != nil {
		s.Tags = append([]string(nil), p.Tags...)
	}
}
