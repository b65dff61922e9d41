package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/nebulalabs/cosmos/section"
)

// transitionRequest names the transition a trigger should use. The zero
// value means an immediate cut.
type transitionRequest struct {
	Mode  string  `json:"mode,omitempty"`
	Beats float64 `json:"beats,omitempty"`
}

func (t transitionRequest) transition() section.Transition {
	return section.Transition{Mode: section.Mode(t.Mode), Beats: t.Beats}
}

// sectionPatchRequest is a merge-update body. Absent fields are left
// untouched; present slices and maps replace their counterpart wholesale.
type sectionPatchRequest struct {
	Name            *string               `json:"name,omitempty"`
	Color           *string               `json:"color,omitempty"`
	BPM             *float64              `json:"bpm,omitempty"`
	Macros          map[string]float64    `json:"macros,omitempty"`
	Tracks          []section.TrackConfig `json:"tracks,omitempty"`
	Layers          []section.LayerConfig `json:"layers,omitempty"`
	AutoAdvanceBars *int                  `json:"auto_advance_bars,omitempty"`
	Tags            []string              `json:"tags,omitempty"`
}

func (r sectionPatchRequest) patch() section.Patch {
	return section.Patch{
		Name:            r.Name,
		Color:           r.Color,
		BPM:             r.BPM,
		Macros:          r.Macros,
		Tracks:          r.Tracks,
		Layers:          r.Layers,
		AutoAdvanceBars: r.AutoAdvanceBars,
		Tags:            r.Tags,
	}
}

type captureRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleListSections(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sections.Sections())
}

func (s *Server) handleGetSection(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sec, ok := s.sections.Section(id)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("section %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, sec)
}

// handleCurrentSection returns the section the studio is in, when any.
func (s *Server) handleCurrentSection(w http.ResponseWriter, _ *http.Request) {
	sec, ok := s.sections.Current()
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no current section")
		return
	}
	writeJSON(w, http.StatusOK, sec)
}

// handleCreateSection adds a section from the posted definition. Unset
// fields get defaults (generated id, palette color, default tempo).
func (s *Server) handleCreateSection(w http.ResponseWriter, r *http.Request) {
	var cfg section.Section
	if err := decodeJSONBody(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, s.sections.Add(cfg))
}

// handleCaptureSection snapshots the live tempo, macros and track lineup as
// a new section.
func (s *Server) handleCaptureSection(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if r.ContentLength > 0 {
		if err := decodeJSONBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusCreated, s.sections.Capture(req.Name))
}

func (s *Server) handleUpdateSection(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req sectionPatchRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}

	sec, err := s.sections.Update(id, req.patch())
	if err != nil {
		writeSectionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sec)
}

func (s *Server) handleDeleteSection(w http.ResponseWriter, r *http.Request) {
	if err := s.sections.Remove(r.PathValue("id")); err != nil {
		writeSectionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCloneSection(w http.ResponseWriter, r *http.Request) {
	sec, err := s.sections.Clone(r.PathValue("id"))
	if err != nil {
		writeSectionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sec)
}

// handleTriggerSection moves the studio to the target section. Fades block
// until they settle, so the response reports the completed transition.
func (s *Server) handleTriggerSection(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req transitionRequest
	if r.ContentLength > 0 {
		if err := decodeJSONBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
			return
		}
	}

	if err := s.sections.Trigger(id, req.transition()); err != nil {
		writeSectionError(w, err)
		return
	}
	sec, _ := s.sections.Section(id)
	writeJSON(w, http.StatusOK, sec)
}

func (s *Server) handleNextSection(w http.ResponseWriter, r *http.Request) {
	s.handleStep(w, r, s.sections.Next)
}

func (s *Server) handlePreviousSection(w http.ResponseWriter, r *http.Request) {
	s.handleStep(w, r, s.sections.Previous)
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request, step func(section.Transition) error) {
	var req transitionRequest
	if r.ContentLength > 0 {
		if err := decodeJSONBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
			return
		}
	}

	if err := step(req.transition()); err != nil {
		writeSectionError(w, err)
		return
	}
	sec, _ := s.sections.Current()
	writeJSON(w, http.StatusOK, sec)
}

// handleExportSections returns the full registry as the versioned document
// Import accepts.
func (s *Server) handleExportSections(w http.ResponseWriter, _ *http.Request) {
	data, err := s.sections.Export()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "EXPORT_ERROR", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleImportSections replaces the registry with the posted document. A
// rejected document leaves the registry untouched.
func (s *Server) handleImportSections(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		if isMaxBytesError(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "READ_ERROR", err.Error())
		return
	}

	if err := s.sections.Import(body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.sections.Sections())
}

// writeSectionError maps section manager errors onto the API envelope.
func writeSectionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, section.ErrSectionNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, section.ErrTransitioning):
		writeError(w, http.StatusConflict, "TRANSITIONING", err.Error())
	case errors.Is(err, section.ErrNoSections):
		writeError(w, http.StatusConflict, "NO_SECTIONS", err.Error())
	default:
		writeError(w, http.StatusBadRequest, "INVALID_TRANSITION", err.Error())
	}
}
