// Package api exposes the read surface and push channel over HTTP: the
// mux.Router wiring, CORS middleware, and thin handlers delegating to the
// process store, push hub, and host facts. Grounded on the teacher's
// mux.Router-plus-CORS-closure shape, generalized from a single
// microservice's bespoke endpoints to this spec's §6 read API.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/procscope/procscope/internal/middleware"
	"github.com/procscope/procscope/internal/procstore"
	"github.com/procscope/procscope/internal/pushhub"
)

// Killer signals a pid to terminate. In production this is
// syscall.Kill(pid, syscall.SIGTERM); tests inject a fake so they never
// touch a real process.
type Killer func(pid int) error

// Server wires the engine's collaborators into an http.Handler.
type Server struct {
	store       *procstore.Store
	hub         *pushhub.Hub
	killToken   string
	kill        Killer
	corsOrigins []string
	router      *mux.Router
}

// New constructs the router. killToken may be empty, which disables the
// kill endpoint entirely (§6: "a bearer token required for any
// process-kill endpoint" — no token configured means no endpoint).
func New(store *procstore.Store, hub *pushhub.Hub, killToken string, kill Killer, corsOrigins []string) *Server {
	s := &Server{
		store:       store,
		hub:         hub,
		killToken:   killToken,
		kill:        kill,
		corsOrigins: corsOrigins,
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.corsMiddleware)

	r.HandleFunc("/ws", s.hub.HandleWebSocket)
	r.HandleFunc("/api/processes", s.handleListProcesses).Methods(http.MethodGet)
	r.HandleFunc("/api/processes/{pid}", s.handleGetProcess).Methods(http.MethodGet)
	r.HandleFunc("/api/processes/{pid}/kill", middleware.RequireBearerToken(s.killToken, s.handleKillProcess)).Methods(http.MethodPost)
	r.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	return r
}

// corsMiddleware matches the teacher's inline CORS closure, generalized
// to an allow-list of origins instead of a hardcoded "*".
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.corsOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
