// Package server exposes the studio core over HTTP: state and history
// reads, event injection, macro and section control, installation schedules,
// audit queries and exports, and the live SSE feed mount. Responses are JSON
// except the CSV exports; errors use an {error:{code,message}} envelope.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nebulalabs/cosmos/audit"
	"github.com/nebulalabs/cosmos/bus"
	"github.com/nebulalabs/cosmos/macro"
	"github.com/nebulalabs/cosmos/section"
)

// ServerConfig configures a Server instance. Bus, Macros and Sections are
// required; Scheduler, Audit, Archive and Stream are optional, and routes
// backed by an absent subsystem answer 501.
type ServerConfig struct {
	Bus        *bus.Bus
	Macros     *macro.System
	Sections   *section.Manager
	Scheduler  *section.Scheduler
	Audit      *audit.Logger
	Archive    *audit.Archive
	Stream     http.Handler
	CORSOrigin string
	MaxBody    int64
	Logger     *slog.Logger
}

// Server is the Cosmos HTTP API server.
type Server struct {
	bus        *bus.Bus
	macros     *macro.System
	sections   *section.Manager
	scheduler  *section.Scheduler
	audit      *audit.Logger
	archive    *audit.Archive
	stream     http.Handler
	corsOrigin string
	maxBody    int64
	logger     *slog.Logger
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1 MB default
	}
	return &Server{
		bus:        cfg.Bus,
		macros:     cfg.Macros,
		sections:   cfg.Sections,
		scheduler:  cfg.Scheduler,
		audit:      cfg.Audit,
		archive:    cfg.Archive,
		stream:     cfg.Stream,
		corsOrigin: corsOrigin,
		maxBody:    maxBody,
		logger:     logger,
	}
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.maxBodyMiddleware(handler)

	return handler
}

// RegisterRoutes mounts the API routes onto an existing mux. Use this when
// composing with other handlers.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("POST /api/events", s.handleInjectEvent)
	if s.stream != nil {
		mux.Handle("GET /api/events/stream", s.stream)
	}

	// Macro routes
	mux.HandleFunc("GET /api/macros", s.handleMacroState)
	mux.HandleFunc("POST /api/macros/randomize", s.handleMacroRandomize)
	mux.HandleFunc("POST /api/macros/reset", s.handleMacroReset)
	mux.HandleFunc("GET /api/macros/curves", s.handleListCurves)
	mux.HandleFunc("POST /api/macros/curves", s.handleSaveCurve)
	mux.HandleFunc("POST /api/macros/curves/{id}/recall", s.handleRecallCurve)
	mux.HandleFunc("DELETE /api/macros/curves/{id}", s.handleDeleteCurve)
	mux.HandleFunc("PUT /api/macros/{channel}", s.handleSetMacro)
	mux.HandleFunc("PUT /api/macros/{channel}/lock", s.handleLockMacro)

	// Section routes
	mux.HandleFunc("GET /api/sections", s.handleListSections)
	mux.HandleFunc("POST /api/sections", s.handleCreateSection)
	mux.HandleFunc("POST /api/sections/capture", s.handleCaptureSection)
	mux.HandleFunc("GET /api/sections/current", s.handleCurrentSection)
	mux.HandleFunc("GET /api/sections/export", s.handleExportSections)
	mux.HandleFunc("POST /api/sections/import", s.handleImportSections)
	mux.HandleFunc("POST /api/sections/next", s.handleNextSection)
	mux.HandleFunc("POST /api/sections/previous", s.handlePreviousSection)
	mux.HandleFunc("GET /api/sections/{id}", s.handleGetSection)
	mux.HandleFunc("PUT /api/sections/{id}", s.handleUpdateSection)
	mux.HandleFunc("DELETE /api/sections/{id}", s.handleDeleteSection)
	mux.HandleFunc("POST /api/sections/{id}/clone", s.handleCloneSection)
	mux.HandleFunc("POST /api/sections/{id}/trigger", s.handleTriggerSection)

	// Schedule routes
	mux.HandleFunc("GET /api/schedules", s.handleListSchedules)
	mux.HandleFunc("POST /api/schedules", s.handleCreateSchedule)
	mux.HandleFunc("PUT /api/schedules/{id}", s.handleUpdateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.handleDeleteSchedule)

	// Audit routes
	mux.HandleFunc("GET /api/audit/entries", s.handleAuditEntries)
	mux.HandleFunc("DELETE /api/audit/entries", s.handleAuditClear)
	mux.HandleFunc("GET /api/audit/entries.csv", s.handleAuditEntriesCSV)
	mux.HandleFunc("GET /api/audit/records", s.handleAuditRecords)
	mux.HandleFunc("GET /api/audit/records.csv", s.handleAuditRecordsCSV)
	mux.HandleFunc("GET /api/audit/records/{edition}", s.handleAuditRecord)
	mux.HandleFunc("PUT /api/audit/enabled", s.handleAuditEnabled)
	mux.HandleFunc("GET /api/audit/archive/events", s.handleArchiveEvents)
	mux.HandleFunc("GET /api/audit/archive/records", s.handleArchiveRecords)
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// apiError is the standard error envelope.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, details ...string) {
	body := apiError{
		Error: apiErrorBody{
			Code:    code,
			Message: message,
		},
	}
	if len(details) > 0 {
		body.Error.Details = details
	}
	writeJSON(w, status, body)
}

func decodeJSONBody(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// isMaxBytesError checks if the error is from http.MaxBytesReader.
func isMaxBytesError(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}
