package echoserver

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

func isAdminPath(path string) bool {
	return path == "/admin" || strings.HasPrefix(path, "/admin/")
}

func (s *Server) adminRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/reset", s.handleReset)
		r.Get("/requests", s.handleGetRequests)
		r.Get("/faults", s.handleListFaults)
		r.Post("/fault/*", s.handleInjectFault)
		r.Delete("/fault/*", s.handleRemoveFault)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.Reset()
	JSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleGetRequests(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, s.Requests.Entries())
}

func (s *Server) handleListFaults(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, s.Faults.All())
}

func (s *Server) handleInjectFault(w http.ResponseWriter, r *http.Request) {
	path := "/" + chi.URLParam(r, "*")

	var f Fault
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		Error(w, http.StatusBadRequest, "invalid fault: "+err.Error())
		return
	}
	if f.StatusCode < 100 || f.StatusCode > 599 {
		Error(w, http.StatusBadRequest, "invalid fault: status_code out of range")
		return
	}
	s.Faults.Set(path, f)
	JSON(w, http.StatusOK, map[string]any{"status": "injected", "path": path, "fault": f})
}

func (s *Server) handleRemoveFault(w http.ResponseWriter, r *http.Request) {
	path := "/" + chi.URLParam(r, "*")
	if !s.Faults.Remove(path) {
		Error(w, http.StatusNotFound, "no fault registered for "+path)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "removed", "path": path})
}
