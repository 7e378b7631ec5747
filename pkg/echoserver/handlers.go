package echoserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

// SessionHeader carries the session token issued by POST /login, as an
// alternative to a bearer token.
const SessionHeader = "X-Session-Token"

// User is the resource served under /users.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

func (s *Server) apiRoutes(r chi.Router) {
	r.HandleFunc("/reflect", s.handleReflect)
	r.HandleFunc("/reflect/*", s.handleReflect)
	r.Get("/status/{code}", s.handleStatus)
	r.Get("/text", s.handleText)

	r.Post("/login", s.handleLogin)
	r.Get("/me", s.handleMe)

	r.Route("/users", func(r chi.Router) {
		r.Get("/", s.handleListUsers)
		r.Post("/", s.handleCreateUser)
		r.Get("/{id}", s.handleGetUser)
		r.Delete("/{id}", s.handleDeleteUser)
	})
}

// Reflection is the body returned by /reflect.
type Reflection struct {
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Query   map[string][]string `json:"query,omitempty"`
	Headers map[string]string   `json:"headers"`
	Cookies map[string]string   `json:"cookies,omitempty"`
	JSON    any                 `json:"json,omitempty"`
	Body    string              `json:"body,omitempty"`
}

func (s *Server) handleReflect(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		Error(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}

	out := Reflection{
		Method:  r.Method,
		Path:    r.URL.EscapedPath(),
		Headers: make(map[string]string, len(r.Header)),
	}
	if q := r.URL.Query(); len(q) > 0 {
		out.Query = q
	}
	for k, v := range r.Header {
		out.Headers[k] = strings.Join(v, ", ")
	}
	for _, c := range r.Cookies() {
		if out.Cookies == nil {
			out.Cookies = make(map[string]string)
		}
		out.Cookies[c.Name] = c.Value
	}
	if len(body) > 0 {
		if json.Unmarshal(body, &out.JSON) != nil {
			out.JSON = nil
			out.Body = string(body)
		}
	}
	JSON(w, http.StatusOK, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(chi.URLParam(r, "code"))
	if err != nil || code < 200 || code > 599 {
		Error(w, http.StatusBadRequest, "invalid status code")
		return
	}
	JSON(w, code, map[string]any{"status": code, "text": http.StatusText(code)})
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "hello, world")
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		Error(w, http.StatusUnauthorized, "username and password are required")
		return
	}

	token := s.sessions.NextID()
	s.sessions.Set(token, req.Username)
	w.Header().Set(SessionHeader, token)
	JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"token": token, "user": req.Username},
	})
}

// authenticatedUser returns the user of a session token sent as a bearer token
// or in SessionHeader, or the basic auth user name.
func (s *Server) authenticatedUser(r *http.Request) (string, bool) {
	token := r.Header.Get(SessionHeader)
	if t, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		token = t
	}
	if token != "" {
		return s.sessions.Get(token)
	}
	if user, _, ok := r.BasicAuth(); ok && user != "" {
		return user, true
	}
	return "", false
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticatedUser(r)
	if !ok {
		Error(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"user": user})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{"data": s.users.List()})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var u User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		Error(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if u.Name == "" {
		Error(w, http.StatusUnprocessableEntity, "name is required")
		return
	}
	u.ID = s.users.NextID()
	s.users.Set(u.ID, u)
	w.Header().Set("Location", "/users/"+u.ID)
	JSON(w, http.StatusCreated, u)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, ok := s.users.Get(chi.URLParam(r, "id"))
	if !ok {
		Error(w, http.StatusNotFound, "no such user")
		return
	}
	JSON(w, http.StatusOK, u)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if !s.users.Delete(chi.URLParam(r, "id")) {
		Error(w, http.StatusNotFound, "no such user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
