package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/stairway/pkg/metrics"
)

// LeaderChecker is the subset of cluster.Elector the readiness check
// needs. A nil value means single-instance mode, which is always ready.
type LeaderChecker interface {
	IsLeader() bool
	LeaderAddr() string
}

// JournalPinger is the subset of journal.Journal the readiness check uses
// to confirm the relational store is actually reachable.
type JournalPinger interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// HealthServer provides the /health and /ready endpoints, mountable into
// the same mux as the rest of the administrative API.
type HealthServer struct {
	journal JournalPinger
	cluster LeaderChecker
	mux     *http.ServeMux
}

// NewHealthServer builds a HealthServer. journal and cluster may both be
// nil, in which case /health still reports alive and /ready reports not
// ready (nothing to check against yet).
func NewHealthServer(journal JournalPinger, cluster LeaderChecker) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{journal: journal, cluster: cluster, mux: mux}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// HealthResponse is the /health endpoint's JSON body.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse is the /ready endpoint's JSON body.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler is a liveness check: 200 as long as the process can serve
// HTTP at all.
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Timestamp: time.Now()})
}

// readyHandler checks that the journal is reachable and, in clustered
// deployments, reports this instance's Raft leadership state. An instance
// is ready to accept flight submissions regardless of leadership — only
// the retention janitor is leader-gated — so a non-leader still reports
// ready as long as the store answers.
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.journal != nil {
		if _, err := hs.journal.CountByStatus(r.Context()); err != nil {
			checks["journal"] = fmt.Sprintf("error: %v", err)
			ready = false
			message = "journal not accessible"
		} else {
			checks["journal"] = "ok"
		}
	} else {
		checks["journal"] = "not initialized"
		ready = false
		message = "engine not initialized"
	}

	if hs.cluster != nil {
		if hs.cluster.IsLeader() {
			checks["cluster"] = "leader"
		} else if addr := hs.cluster.LeaderAddr(); addr != "" {
			checks["cluster"] = fmt.Sprintf("follower (leader: %s)", addr)
		} else {
			checks["cluster"] = "no leader elected"
		}
	} else {
		checks["cluster"] = "single-instance"
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// GetHandler returns the HTTP handler for embedding in the admin mux.
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
