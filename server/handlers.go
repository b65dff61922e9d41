package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	cosmos "github.com/nebulalabs/cosmos"
	"github.com/nebulalabs/cosmos/bus"
)

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleState returns the derived state snapshot.
func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bus.State())
}

// historyEntryResponse is one history row: the event in wire form plus the
// local wall time it was recorded.
type historyEntryResponse struct {
	Event      json.RawMessage `json:"event"`
	ReceivedAt time.Time       `json:"received_at"`
}

// handleHistory returns recorded events, filtered by the kind, topic, after
// and limit query parameters.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := bus.HistoryQuery{
		Kind:  cosmos.Kind(r.URL.Query().Get("kind")),
		Topic: r.URL.Query().Get("topic"),
	}
	if raw := r.URL.Query().Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", fmt.Sprintf("after: %v", err))
			return
		}
		q.AfterSeq = after
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", fmt.Sprintf("limit: %v", err))
			return
		}
		q.Limit = limit
	}

	entries := s.bus.History(q)
	out := make([]historyEntryResponse, 0, len(entries))
	for _, entry := range entries {
		data, err := cosmos.MarshalEvent(entry.Event)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "ENCODE_ERROR", err.Error())
			return
		}
		out = append(out, historyEntryResponse{Event: data, ReceivedAt: entry.ReceivedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

// injectResponse reports the identity an injected event was assigned.
type injectResponse struct {
	Seq    uint64      `json:"seq"`
	Kind   cosmos.Kind `json:"kind"`
	Origin string      `json:"origin"`
}

// handleInjectEvent publishes an event posted in wire form. This is how
// external collaborators without a mirror (renderers posting metrics, UI
// panels) put facts on the bus.
func (s *Server) handleInjectEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		if isMaxBytesError(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "READ_ERROR", err.Error())
		return
	}

	ev, err := cosmos.UnmarshalEvent(body)
	if err != nil {
		if errors.Is(err, cosmos.ErrUnknownKind) {
			writeError(w, http.StatusBadRequest, "UNKNOWN_KIND", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}

	// Events posted without an origin count as locally produced and
	// propagate over the mirror like any local emit. A foreign origin is
	// preserved and stays one hop, exactly as if it had arrived over a
	// mirror.
	if ev.Origin == "" {
		ev = ev.WithOrigin(s.bus.Origin())
	}

	injected := s.bus.Inject(ev)
	writeJSON(w, http.StatusAccepted, injectResponse{
		Seq:    injected.Seq,
		Kind:   injected.Kind,
		Origin: injected.Origin,
	})
}
