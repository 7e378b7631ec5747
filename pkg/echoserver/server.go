// Package echoserver is a small HTTP target for exercising API tests. It reflects
// requests back as JSON, issues and checks session tokens, serves an in-memory
// users resource and exposes an /admin control plane for inspecting received
// requests and injecting faults.
package echoserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Config configures a Server.
type Config struct {
	// Addr is the listen address for ListenAndServe, e.g. ":8080".
	Addr string

	// MaxLoggedRequests bounds the request log. Zero means 1000.
	MaxLoggedRequests int
}

// Server is the echo target. It implements http.Handler so it can be mounted in
// an httptest.Server.
type Server struct {
	Config   Config
	Router   *chi.Mux
	Logger   *slog.Logger
	Requests *RequestLog
	Faults   *FaultRegistry

	users    *Records[User]
	sessions *Records[string]
}

// New creates a Server. A nil logger discards log output.
func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.MaxLoggedRequests <= 0 {
		cfg.MaxLoggedRequests = 1000
	}

	s := &Server{
		Config:   cfg,
		Router:   chi.NewRouter(),
		Logger:   logger,
		Requests: NewRequestLog(cfg.MaxLoggedRequests),
		Faults:   NewFaultRegistry(),
		users:    NewRecords[User]("usr"),
		sessions: NewRecords[string]("tok"),
	}

	s.Router.Use(chimw.RequestID)
	s.Router.Use(s.recordRequests)
	s.adminRoutes(s.Router)
	s.Router.Group(func(r chi.Router) {
		r.Use(s.injectFaults)
		s.apiRoutes(r)
	})
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// Reset clears all state: users, sessions, logged requests and faults.
func (s *Server) Reset() {
	s.users.Reset()
	s.sessions.Reset()
	s.Requests.Clear()
	s.Faults.Reset()
}

// ListenAndServe serves on cfg.Addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.Logger.Info("starting echo server", "addr", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.Logger.Info("shutting down echo server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    http.StatusText(status),
			"code":    status,
		},
	})
}
