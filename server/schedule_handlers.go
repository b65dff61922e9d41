package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/nebulalabs/cosmos/section"
)

type scheduleRequest struct {
	SectionID  string             `json:"section_id"`
	Cron       string             `json:"cron"`
	Transition *transitionRequest `json:"transition,omitempty"`
	Enabled    *bool              `json:"enabled,omitempty"`
}

func (s *Server) handleListSchedules(w http.ResponseWriter, _ *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "section schedules are not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.scheduler.Schedules())
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "section schedules are not configured")
		return
	}

	var req scheduleRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}

	var t section.Transition
	if req.Transition != nil {
		t = req.Transition.transition()
	}

	sched, err := s.scheduler.Add(req.SectionID, req.Cron, t)
	if err != nil {
		if errors.Is(err, section.ErrSectionNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_SCHEDULE", err.Error())
		return
	}

	if req.Enabled != nil && !*req.Enabled {
		if err := s.scheduler.SetEnabled(sched.ID, false); err == nil {
			sched.Enabled = false
		}
	}
	writeJSON(w, http.StatusCreated, sched)
}

// handleUpdateSchedule pauses or resumes a schedule.
func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "section schedules are not configured")
		return
	}
	id := r.PathValue("id")

	var req scheduleRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "INVALID_SCHEDULE", "enabled is required")
		return
	}

	if err := s.scheduler.SetEnabled(id, *req.Enabled); err != nil {
		if errors.Is(err, section.ErrScheduleNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("schedule %q not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "SCHEDULE_ERROR", err.Error())
		return
	}

	for _, sched := range s.scheduler.Schedules() {
		if sched.ID == id {
			writeJSON(w, http.StatusOK, sched)
			return
		}
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("schedule %q not found", id))
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "section schedules are not configured")
		return
	}
	id := r.PathValue("id")

	if err := s.scheduler.Remove(id); err != nil {
		if errors.Is(err, section.ErrScheduleNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("schedule %q not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "SCHEDULE_ERROR", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
