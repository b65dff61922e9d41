package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	cosmos "github.com/nebulalabs/cosmos"
)

// auditEntryResponse is one logged event in wire form plus the wall time the
// logger recorded it.
type auditEntryResponse struct {
	Event    json.RawMessage `json:"event"`
	LoggedAt time.Time       `json:"logged_at"`
}

type auditEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleAuditEntries(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "audit log is not configured")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", fmt.Sprintf("limit: %v", err))
			return
		}
		limit = n
	}

	entries := s.audit.Entries(limit)
	out := make([]auditEntryResponse, 0, len(entries))
	for _, entry := range entries {
		data, err := cosmos.MarshalEvent(entry.Event)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "ENCODE_ERROR", err.Error())
			return
		}
		out = append(out, auditEntryResponse{Event: data, LoggedAt: entry.LoggedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleAuditEntriesCSV streams the event log as CSV. Failures after the
// header has gone out can only be logged.
func (s *Server) handleAuditEntriesCSV(w http.ResponseWriter, _ *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "audit log is not configured")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-events.csv"`)
	w.WriteHeader(http.StatusOK)
	if err := s.audit.WriteCSV(w); err != nil {
		s.logger.Warn("audit csv export failed", "error", err)
	}
}

func (s *Server) handleAuditRecords(w http.ResponseWriter, _ *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "audit log is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.audit.Records())
}

func (s *Server) handleAuditRecordsCSV(w http.ResponseWriter, _ *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "audit log is not configured")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-records.csv"`)
	w.WriteHeader(http.StatusOK)
	if err := s.audit.WriteRecordsCSV(w); err != nil {
		s.logger.Warn("audit records csv export failed", "error", err)
	}
}

// handleAuditRecord returns one edition's provenance record, finalized or
// still in flight.
func (s *Server) handleAuditRecord(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "audit log is not configured")
		return
	}

	edition, err := strconv.Atoi(r.PathValue("edition"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "edition must be an integer")
		return
	}

	rec, ok := s.audit.Record(edition)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("no record for edition %d", edition))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleAuditEnabled turns event capture on or off.
func (s *Server) handleAuditEnabled(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "audit log is not configured")
		return
	}

	var req auditEnabledRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "INVALID_VALUE", "enabled is required")
		return
	}

	s.audit.SetEnabled(*req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.audit.Enabled()})
}

func (s *Server) handleAuditClear(w http.ResponseWriter, _ *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "audit log is not configured")
		return
	}
	s.audit.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// handleArchiveEvents reads events back from the durable archive, optionally
// filtered by kind and capped by limit.
func (s *Server) handleArchiveEvents(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "audit archive is not configured")
		return
	}

	kind := cosmos.Kind(r.URL.Query().Get("kind"))
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", fmt.Sprintf("limit: %v", err))
			return
		}
		limit = n
	}

	events, err := s.archive.Events(r.Context(), kind, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	out := make([]json.RawMessage, 0, len(events))
	for _, ev := range events {
		data, err := cosmos.MarshalEvent(ev)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "ENCODE_ERROR", err.Error())
			return
		}
		out = append(out, data)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleArchiveRecords(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "audit archive is not configured")
		return
	}

	records, err := s.archive.Records(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}
