package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/procscope/procscope/internal/hostfacts"
	"github.com/procscope/procscope/internal/procmodel"
)

// handleListProcesses serves GET /api/processes: the current sequence,
// read straight off the store's immutable snapshot.
func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	rows := s.store.Snapshot()
	wire := toWireAll(rows)
	writeJSON(w, http.StatusOK, wire)
}

// handleGetProcess serves GET /api/processes/:pid, 404 if absent.
func (s *Server) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.Atoi(mux.Vars(r)["pid"])
	if err != nil {
		http.Error(w, "invalid pid", http.StatusBadRequest)
		return
	}
	proc, ok := s.store.Get(pid)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, proc.ToWire())
}

// statsResponse is GET /api/stats's payload: the store's cached
// aggregate stats plus host facts, per §6.
type statsResponse struct {
	Total      int             `json:"total"`
	Critical   int             `json:"critical"`
	High       int             `json:"high"`
	Medium     int             `json:"medium"`
	LastUpdate string          `json:"lastUpdate"`
	Host       hostfacts.Facts `json:"host"`
}

// handleStats serves GET /api/stats. Note the store's underlying digest
// rounds cpu to one decimal when deciding whether anything changed (see
// procstore.computeDigest) — this endpoint always reflects the latest
// *committed* stats, which can lag a sub-0.1%-cpu fluctuation by design.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.store.Stats()
	resp := statsResponse{
		Total:      stats.Total,
		Critical:   stats.Critical,
		High:       stats.High,
		Medium:     stats.Medium,
		LastUpdate: stats.LastUpdate.Format("2006-01-02T15:04:05Z07:00"),
		Host:       hostfacts.Collect(),
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleKillProcess serves POST /api/processes/:pid/kill, gated by
// RequireBearerToken in the router. Out of the core's scope per §1, but
// specified enough in §6/SPEC_FULL to implement as a thin SIGTERM signal.
func (s *Server) handleKillProcess(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.Atoi(mux.Vars(r)["pid"])
	if err != nil {
		http.Error(w, "invalid pid", http.StatusBadRequest)
		return
	}
	if _, ok := s.store.Get(pid); !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if s.kill == nil {
		http.Error(w, "kill not supported on this deployment", http.StatusNotImplemented)
		return
	}
	if err := s.kill(pid); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func toWireAll(rows []procmodel.Process) []procmodel.ProcessWireFormat {
	wire := make([]procmodel.ProcessWireFormat, len(rows))
	for i := range rows {
		wire[i] = rows[i].ToWire()
	}
	return wire
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
