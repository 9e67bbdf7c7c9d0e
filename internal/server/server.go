// Package server exposes the Conversation Driver, Approval Controller,
// and State Store over HTTP/JSON and a WebSocket progress stream.
// Grounded on the teacher's internal/server/server.go: same
// Start/Stop lifecycle, the same registerHandlers wiring (every route is
// registered unconditionally), and the same bare net/http.Server — generalized from the teacher's
// fixed single-LLM-adapter shape to this repo's Driver/Engine/Approval
// trio, and with rs/cors added for the browser UI's cross-origin calls
// (grounded on the rest of the retrieved pack's CORS usage).
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/cors"

	"github.com/loomctl/loom-agent/internal/approval"
	"github.com/loomctl/loom-agent/internal/config"
	"github.com/loomctl/loom-agent/internal/driver"
	"github.com/loomctl/loom-agent/internal/store"
)

// Server is the HTTP/WebSocket front door for the agent.
type Server struct {
	cfg       *config.ServerConfig
	driver    *driver.Driver
	approvals *approval.Controller
	store     store.Store

	httpServer *http.Server

	mu      sync.RWMutex
	running bool
}

// New constructs a Server over already-wired core components.
func New(cfg *config.ServerConfig, d *driver.Driver, approvals *approval.Controller, s store.Store) *Server {
	return &Server{cfg: cfg, driver: d, approvals: approvals, store: s}
}

// Start begins serving HTTP in a background goroutine and returns
// immediately; call Stop to halt it.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server: already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	var handler http.Handler = mux
	if len(s.cfg.CORSOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowedHeaders: []string{"Content-Type"},
		}).Handler(mux)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port),
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("loom-agent: HTTP server error: %v\n", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) registerHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", metricsHandler())

	mux.HandleFunc("/api/v1/chat", s.handleChat)
	mux.HandleFunc("/api/v1/approve", s.handleApprove)
	mux.HandleFunc("/api/v1/conversations", s.handleConversations)
	mux.HandleFunc("/api/v1/conversations/", s.handleConversationByID)
	mux.HandleFunc("/api/v1/pending", s.handlePending)
	mux.HandleFunc("/api/v1/history", s.handleHistory)
	mux.HandleFunc("/api/v1/tools", s.handleTools)
	mux.HandleFunc("/api/v1/stream/", s.handleStream)
	mux.HandleFunc("/api/v1/admin/llm-config", s.handleAdminLLMConfig)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
