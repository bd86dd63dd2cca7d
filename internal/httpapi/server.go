// Package httpapi exposes the service surface: WebSocket endpoints for
// gateway sessions and CGOS observers, the one-shot analysis endpoint, and
// the usual health/status/metrics plumbing.
package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"leelad/internal/cgos"
	"leelad/internal/engine"
	"leelad/internal/gateway"
	"leelad/internal/pool"
	"leelad/internal/review"
)

// Server composes the process's components behind one router.
type Server struct {
	log      zerolog.Logger
	pool     *pool.Pool
	viewer   *cgos.Viewer
	store    review.Store
	metrics  *metrics
	upgrader websocket.Upgrader

	// Cached per-profile controllers reused across /analysis requests.
	analysisMu      sync.Mutex
	analysisEngines map[string]engine.Handle
	analysisRun     sync.Mutex
}

// New wires the server. viewer and store may be nil when those subsystems
// are disabled.
func New(p *pool.Pool, viewer *cgos.Viewer, store review.Store, log zerolog.Logger) *Server {
	s := &Server{
		log:    log,
		pool:   p,
		viewer: viewer,
		store:  store,
		// Browser clients connect from arbitrary origins.
		upgrader:        websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		analysisEngines: make(map[string]engine.Handle),
	}
	s.metrics = newMetrics(
		func() float64 { return float64(p.Live()) },
		func() float64 { return float64(p.Online()) },
		func() float64 { c, _ := s.viewerStats(); return float64(c) },
		func() float64 { _, g := s.viewerStats(); return float64(g) },
	)
	return s
}

func (s *Server) viewerStats() (int, int) {
	if s.viewer == nil {
		return 0, 0
	}
	return s.viewer.Stats()
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	// Plain HTTP routes get metrics instrumentation.
	r.Group(func(r chi.Router) {
		r.Use(s.metrics.middleware)
		r.Get("/healthz", s.handleHealthz)
		r.Get("/status", s.handleStatus)
		r.Post("/analysis", s.handleAnalysis)
	})
	r.Handle("/metrics", s.metrics.handler())

	// WebSocket upgrades hijack the connection and stay outside the
	// instrumented group.
	r.Get("/gtp", s.handleGTPSocket)
	r.Get("/cgos", s.handleCGOSSocket)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	clients, games := s.viewerStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"engines_live":        s.pool.Live(),
		"online_users":        s.pool.Online(),
		"pending":             s.pool.Pending(),
		"cgos_clients":        clients,
		"cgos_observed_games": games,
	})
}

// handleGTPSocket upgrades the connection and runs a gateway session on it
// until the client goes away.
func (s *Server) handleGTPSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("gtp upgrade failed")
		return
	}
	s.pool.ClientConnected()
	s.metrics.wsSessions.Inc()
	defer func() {
		s.pool.ClientDisconnected()
		s.metrics.wsSessions.Dec()
	}()

	sess := gateway.NewSession(conn, s.pool, s.store, s.log.With().Str("remote", r.RemoteAddr).Logger())
	sess.Run()
}

// handleCGOSSocket attaches the connection to the observer multiplexer.
func (s *Server) handleCGOSSocket(w http.ResponseWriter, r *http.Request) {
	if s.viewer == nil {
		http.NotFound(w, r)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("cgos upgrade failed")
		return
	}
	client := cgos.NewClient(s.viewer, conn)
	s.viewer.Attach(client)
	client.Run()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg, "code": status})
}
