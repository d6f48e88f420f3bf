// Package httpapi is the assistant's HTTP surface: a text-command endpoint
// that bypasses speech recognition, a health check, and the mount point for
// the browser speech websocket.
package httpapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"voicehome/internal/bus"
	"voicehome/internal/domain"
)

type Server struct {
	addr      string
	authToken string
	events    *bus.Bus
	logger    *slog.Logger
	mux       *http.ServeMux
	limiter   *ipLimiter

	mu      sync.Mutex
	server  *http.Server
	running bool
}

// NewServer builds the mux. The websocket handler is optional; pass nil when
// running without the browser bridge.
func NewServer(addr, authToken string, events *bus.Bus, ws http.Handler, logger *slog.Logger) *Server {
	s := &Server{
		addr:      addr,
		authToken: authToken,
		events:    events,
		logger:    logger,
		mux:       http.NewServeMux(),
		limiter:   newIPLimiter(30, time.Minute),
	}
	s.mux.HandleFunc("POST /text", s.limiter.middleware(s.withAuth(s.handleText)))
	// no rate limiting or auth on the health check
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if ws != nil {
		s.mux.Handle("GET /ws", ws)
	}
	return s
}

func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.Info("HTTP server starting", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	s.running = true
	return nil
}

func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
		if err := s.server.Close(); err != nil {
			return fmt.Errorf("closing server: %w", err)
		}
	}
	s.running = false
	return nil
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" {
			token := r.Header.Get("X-Auth-Token")
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token != s.authToken {
				s.logger.Warn("unauthorized request", "remote_addr", r.RemoteAddr)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

// handleText feeds typed text into the pipeline as if it had been heard with
// full confidence.
func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 1024))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	text := strings.TrimSpace(string(data))
	if text == "" {
		http.Error(w, "empty text", http.StatusBadRequest)
		return
	}

	s.events.Publish(bus.SpeechRecognized{Result: domain.RecognitionResult{
		Command:    text,
		Confidence: 1,
	}})

	s.logger.Info("received text command via HTTP", "text", text)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, `{"status":"received","text":%q}`, text)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	status := "ok"
	statusCode := http.StatusOK
	if !running {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	fmt.Fprintf(w, `{"status":"%s","running":%t}`, status, running)
}
