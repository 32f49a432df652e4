// Package server exposes the friction engines over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/gosight/gosight/friction/internal/config"
	"github.com/gosight/gosight/friction/internal/enricher"
	"github.com/gosight/gosight/friction/internal/ingest"
	"github.com/gosight/gosight/friction/internal/metrics"
	"github.com/gosight/gosight/friction/internal/session"
)

// Authorizer resolves project keys and rate limits projects
type Authorizer interface {
	ValidateAPIKey(ctx context.Context, apiKey string) (string, error)
	CheckRateLimit(ctx context.Context, projectID string) bool
}

type Server struct {
	cfg        config.ServerConfig
	sessions   *session.Manager
	dispatcher *ingest.Dispatcher
	auth       Authorizer
	enricher   *enricher.Enricher
	metrics    *metrics.Metrics
	upgrader   websocket.Upgrader
}

func New(cfg config.ServerConfig, sessions *session.Manager, dispatcher *ingest.Dispatcher, auth Authorizer, e *enricher.Enricher, m *metrics.Metrics) *Server {
	if cfg.ScorePushInterval == 0 {
		cfg.ScorePushInterval = 500 * time.Millisecond
	}
	s := &Server{
		cfg:        cfg,
		sessions:   sessions,
		dispatcher: dispatcher,
		auth:       auth,
		enricher:   e,
		metrics:    m,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
	return s
}

// Router builds the HTTP routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.CORSMiddleware)

	r.Get("/health", HealthCheck)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/events", s.HandleEvents)
		r.Get("/ws", s.HandleWebSocket)

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Post("/layout", s.HandleLayout)
			r.Get("/stress", s.HandleStress)
			r.Get("/debug", s.HandleDebug)
			r.Delete("/", s.HandleClose)
		})
	})

	return r
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case len(s.cfg.AllowedOrigins) == 0:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case s.originAllowed(origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Project-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-IP")
	if ip == "" {
		ip = r.Header.Get("X-Forwarded-For")
	}
	if ip == "" {
		ip = r.RemoteAddr
	}
	return ip
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Success bool     `json:"success"`
	Errors  []string `json:"errors"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Errors: []string{msg}})
}
