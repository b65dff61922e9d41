package server

import (
	"errors"
	"fmt"
	"net/http"

	cosmos "github.com/nebulalabs/cosmos"
	"github.com/nebulalabs/cosmos/macro"
)

// macroStateResponse is the full macro surface: every channel value keyed by
// canonical id, plus which channels are locked.
type macroStateResponse struct {
	Values map[string]float64 `json:"values"`
	Locks  map[string]bool    `json:"locks"`
}

type macroSetRequest struct {
	Value  *float64 `json:"value"`
	Source string   `json:"source,omitempty"`
}

type macroChangeResponse struct {
	Channel string  `json:"channel"`
	Value   float64 `json:"value"`
	Changed bool    `json:"changed"`
}

type macroLockRequest struct {
	Locked *bool `json:"locked"`
}

type macroRandomizeRequest struct {
	Chaos bool `json:"chaos,omitempty"`
}

type macroResetRequest struct {
	Source string `json:"source,omitempty"`
}

type curveSaveRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleMacroState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.macroState())
}

func (s *Server) macroState() macroStateResponse {
	locks := make(map[string]bool, len(cosmos.MacroChannels))
	for _, id := range cosmos.MacroChannels {
		locks[id] = s.macros.Locked(id)
	}
	return macroStateResponse{Values: s.macros.Values(), Locks: locks}
}

// handleSetMacro moves one channel. The path segment may be a canonical id
// or an alias; the source defaults to "ui".
func (s *Server) handleSetMacro(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	if _, ok := s.macros.Value(channel); !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("macro channel %q not found", channel))
		return
	}

	var req macroSetRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "INVALID_VALUE", "value is required")
		return
	}
	source := req.Source
	if source == "" {
		source = macro.SourceUI
	}

	changed := s.macros.Set(channel, *req.Value, source)
	id := cosmos.CanonicalMacro(channel)
	value, _ := s.macros.Value(id)
	writeJSON(w, http.StatusOK, macroChangeResponse{Channel: id, Value: value, Changed: changed})
}

// handleLockMacro sets or clears one channel's lock.
func (s *Server) handleLockMacro(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	if _, ok := s.macros.Value(channel); !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("macro channel %q not found", channel))
		return
	}

	var req macroLockRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}
	if req.Locked == nil {
		writeError(w, http.StatusBadRequest, "INVALID_VALUE", "locked is required")
		return
	}

	s.macros.Lock(channel, *req.Locked)
	id := cosmos.CanonicalMacro(channel)
	writeJSON(w, http.StatusOK, map[string]any{"channel": id, "locked": s.macros.Locked(id)})
}

// handleMacroRandomize redraws every unlocked channel and returns the
// resulting values. The body is optional; {"chaos":true} uses the full range.
func (s *Server) handleMacroRandomize(w http.ResponseWriter, r *http.Request) {
	var req macroRandomizeRequest
	if r.ContentLength > 0 {
		if err := decodeJSONBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
			return
		}
	}

	s.macros.Randomize(req.Chaos)
	writeJSON(w, http.StatusOK, s.macroState())
}

// handleMacroReset drives every unlocked channel to zero. The body is
// optional; {"source":"..."} overrides the default "ui" provenance.
func (s *Server) handleMacroReset(w http.ResponseWriter, r *http.Request) {
	var req macroResetRequest
	if r.ContentLength > 0 {
		if err := decodeJSONBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
			return
		}
	}
	source := req.Source
	if source == "" {
		source = macro.SourceUI
	}

	s.macros.Reset(source)
	writeJSON(w, http.StatusOK, s.macroState())
}

func (s *Server) handleListCurves(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.macros.Curves())
}

func (s *Server) handleSaveCurve(w http.ResponseWriter, r *http.Request) {
	var req curveSaveRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, s.macros.SaveCurve(req.Name))
}

// handleRecallCurve applies a saved curve to the channels. Locked channels
// keep their current value; the response is the resulting macro state.
func (s *Server) handleRecallCurve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.macros.RecallCurve(id); err != nil {
		if errors.Is(err, macro.ErrCurveNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("curve %q not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "MACRO_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.macroState())
}

func (s *Server) handleDeleteCurve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.macros.DeleteCurve(id); err != nil {
		if errors.Is(err, macro.ErrCurveNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("curve %q not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "MACRO_ERROR", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
