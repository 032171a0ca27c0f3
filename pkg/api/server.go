// Package api implements Stairway's administrative HTTP interface: flight
// submission, inspection, counts, and the force-ready/force-fatal
// operator overrides, alongside the /health, /ready, and /metrics
// endpoints from health.go.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/stairway/pkg/admission"
	"github.com/cuemby/stairway/pkg/journal"
	"github.com/cuemby/stairway/pkg/log"
	"github.com/cuemby/stairway/pkg/stairwayerr"
	"github.com/cuemby/stairway/pkg/types"
)

// Server is the administrative HTTP API: flight CRUD-ish operations over
// the journal, bound to one engine instance.
type Server struct {
	Admission *admission.Admission
	Journal   journal.Journal
	Health    *HealthServer
	mux       *http.ServeMux
}

// NewServer wires the administrative routes and the health/ready/metrics
// routes from health onto one mux.
func NewServer(adm *admission.Admission, j journal.Journal, health *HealthServer) *Server {
	s := &Server{Admission: adm, Journal: j, Health: health, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /flights", s.handleList)
	s.mux.HandleFunc("POST /flights", s.handleSubmit)
	s.mux.HandleFunc("GET /flights/count", s.handleCount)
	s.mux.HandleFunc("GET /flights/{id}", s.handleGet)
	s.mux.HandleFunc("POST /flights/{id}/force-ready", s.handleForceReady)
	s.mux.HandleFunc("POST /flights/{id}/force-fatal", s.handleForceFatal)
	s.mux.Handle("/health", health.GetHandler())
	s.mux.Handle("/ready", health.GetHandler())
	s.mux.Handle("/metrics", health.GetHandler())

	return s
}

// ServeHTTP satisfies http.Handler so a Server can be passed directly to
// http.ListenAndServe or embedded in another mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type submitRequest struct {
	FlightID  string            `json:"flight_id"`
	ClassName string            `json:"class_name"`
	Inputs    types.InputParams `json:"inputs"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.FlightID == "" || req.ClassName == "" {
		writeError(w, http.StatusBadRequest, errors.New("flight_id and class_name are required"))
		return
	}
	if err := s.Admission.Submit(r.Context(), req.FlightID, req.ClassName, req.Inputs); err != nil {
		writeJournalError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"flight_id": req.FlightID, "status": "submitted"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := journal.EnumerateFilter{
		Status:    types.Status(q.Get("status")),
		ClassName: q.Get("class_name"),
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	page, err := s.Journal.Enumerate(r.Context(), filter, q.Get("page_token"), limit)
	if err != nil {
		writeJournalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	row, err := s.Journal.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJournalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	counts, err := s.Journal.CountByStatus(r.Context())
	if err != nil {
		writeJournalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// handleForceReady overrides a flight's status to READY regardless of its
// current state, an operator action for unsticking a flight the ordinary
// state machine cannot resolve on its own (spec.md's administrative CLI
// "forces state changes via the same durable schema"). It does not
// re-enqueue the flight; the next recovery pass (Engine.Start) enqueues it,
// consistent with how an ordinary READY flight with no owner is handled.
func (s *Server) handleForceReady(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Journal.ForceStatus(r.Context(), id, types.StatusReady); err != nil {
		writeJournalError(w, err)
		return
	}
	log.WithFlightID(id).Warn().Msg("api: operator forced flight to READY")
	writeJSON(w, http.StatusOK, map[string]string{"flight_id": id, "status": string(types.StatusReady)})
}

// handleForceFatal overrides a flight's status to FATAL, an irreversible
// operator action ending a flight the application has decided will never
// complete.
func (s *Server) handleForceFatal(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Journal.ForceStatus(r.Context(), id, types.StatusFatal); err != nil {
		writeJournalError(w, err)
		return
	}
	log.WithFlightID(id).Warn().Msg("api: operator forced flight to FATAL")
	writeJSON(w, http.StatusOK, map[string]string{"flight_id": id, "status": string(types.StatusFatal)})
}

func writeJournalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, stairwayerr.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, stairwayerr.ErrDuplicateID):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, stairwayerr.ErrUnknownClass), errors.Is(err, stairwayerr.ErrInvalidFilter), errors.Is(err, stairwayerr.ErrInvalidPageToken):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, stairwayerr.ErrShutdown):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// ListenAndServe starts the administrative API on addr with the same
// timeout defaults the teacher's health server used.
func (s *Server) ListenAndServe(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}
