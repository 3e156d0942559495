// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package server provides the HTTP server for the install REST API
// and WebSocket event feed.
package server

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"modelinstall/internal/events"
	"modelinstall/pkg/install"
)

// Config holds server configuration.
type Config struct {
	Addr           string
	Token          string // bearer token required on API routes, if set
	AllowedOrigins []string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Addr: "0.0.0.0:8080"}
}

// Server is the HTTP front end for a model install Service.
type Server struct {
	config     Config
	svc        *install.Service
	records    install.RecordStore
	hub        *events.Hub
	httpServer *http.Server
	wsHub      *WSHub
}

// New builds a Server backed by svc. hub, if non-nil, is subscribed
// so install lifecycle events are relayed to WebSocket clients.
func New(cfg Config, svc *install.Service, records install.RecordStore, hub *events.Hub) *Server {
	return &Server{
		config:  cfg,
		svc:     svc,
		records: records,
		hub:     hub,
		wsHub:   newWSHub(),
	}
}

// ListenAndServe starts the WebSocket hub and the HTTP server, and
// blocks until ctx is cancelled, shutting down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	go s.wsHub.run()
	if s.hub != nil {
		defer s.subscribeHub()()
	}

	mux := http.NewServeMux()
	s.registerAPIRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.corsMiddleware(s.loggingMiddleware(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	log.Printf("model install server listening on %s", s.config.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// subscribeHub bridges install lifecycle events onto the WebSocket
// hub and returns a func that tears the subscription down.
func (s *Server) subscribeHub() func() {
	ch := s.hub.Subscribe()
	go func() {
		for ev := range ch {
			s.wsHub.publish("event", ev)
		}
	}()
	return func() { s.hub.Unsubscribe(ch) }
}

// registerAPIRoutes sets up all API endpoints.
func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("POST /api/models", s.authed(s.handleImportModel))
	mux.HandleFunc("GET /api/models", s.authed(s.handleListModels))
	mux.HandleFunc("DELETE /api/models/{key}", s.authed(s.handleDeleteModel))

	mux.HandleFunc("GET /api/jobs", s.authed(s.handleListJobs))
	mux.HandleFunc("GET /api/jobs/{id}", s.authed(s.handleGetJob))
	mux.HandleFunc("DELETE /api/jobs/{id}", s.authed(s.handleCancelJob))

	mux.HandleFunc("GET /api/ws", s.handleWebSocket)
}

// authed rejects requests missing the configured bearer token. A
// Config with an empty Token leaves every route open.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	if s.config.Token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.config.Token {
			writeError(w, http.StatusUnauthorized, "missing or invalid token", "")
			return
		}
		next(w, r)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.config.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
