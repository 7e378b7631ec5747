package echoserver

import (
	"bytes"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// RequestLogEntry is a request as received by the server.
type RequestLogEntry struct {
	Timestamp  time.Time         `json:"timestamp"`
	RequestID  string            `json:"request_id,omitempty"`
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Query      string            `json:"query,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	StatusCode int               `json:"status_code"`
	Duration   time.Duration     `json:"duration_ms"`
}

// RequestLog keeps the most recent requests, bounded by a capacity.
type RequestLog struct {
	mu      sync.RWMutex
	entries []RequestLogEntry
	limit   int
}

// NewRequestLog creates a log keeping at most limit entries.
func NewRequestLog(limit int) *RequestLog {
	return &RequestLog{limit: limit}
}

// Add appends e and drops the oldest entries beyond the capacity.
func (l *RequestLog) Add(e RequestLogEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.limit; over > 0 {
		l.entries = slices.Delete(l.entries, 0, over)
	}
	l.mu.Unlock()
}

// Entries returns the logged requests, oldest first.
func (l *RequestLog) Entries() []RequestLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.entries)
}

// Find returns the logged requests with the given method and escaped path. An
// empty method matches any method.
func (l *RequestLog) Find(method, path string) []RequestLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []RequestLogEntry
	for _, e := range l.entries {
		if e.Path == path && (method == "" || strings.EqualFold(e.Method, method)) {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the most recent request.
func (l *RequestLog) Last() (RequestLogEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n := len(l.entries); n > 0 {
		return l.entries[n-1], true
	}
	return RequestLogEntry{}, false
}

// Clear empties the log.
func (l *RequestLog) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// recordRequests adds every non-admin request to s.Requests once it has been
// served.
func (s *Server) recordRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAdminPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		entry := RequestLogEntry{
			Timestamp:  start,
			RequestID:  chimw.GetReqID(r.Context()),
			Method:     r.Method,
			Path:       r.URL.EscapedPath(),
			Query:      r.URL.RawQuery,
			Headers:    make(map[string]string, len(r.Header)),
			Body:       string(body),
			StatusCode: sw.status,
			Duration:   time.Since(start),
		}
		for name, values := range r.Header {
			entry.Headers[name] = strings.Join(values, ", ")
		}
		s.Requests.Add(entry)
		s.Logger.Debug("served request",
			"request_id", entry.RequestID,
			"method", entry.Method,
			"path", entry.Path,
			"status", entry.StatusCode,
			"duration", entry.Duration,
		)
	})
}

// Fault replaces the response to requests for a path.
type Fault struct {
	// Method restricts the fault to one request method. Empty matches all.
	Method     string            `json:"method,omitempty"`
	StatusCode int               `json:"status_code"`
	Body       string            `json:"body,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`

	// DelayMS holds the response back. The request context still applies.
	DelayMS int `json:"delay_ms,omitempty"`

	// Times is how often the fault fires before it is removed. Zero means until
	// removed explicitly.
	Times int `json:"times,omitempty"`
}

func (f Fault) matches(method string) bool {
	return f.Method == "" || strings.EqualFold(f.Method, method)
}

// FaultRegistry holds the injected faults by path.
type FaultRegistry struct {
	mu     sync.Mutex
	faults map[string]Fault
}

// NewFaultRegistry creates an empty registry.
func NewFaultRegistry() *FaultRegistry {
	return &FaultRegistry{faults: map[string]Fault{}}
}

// Set registers f for path, replacing an earlier fault.
func (fr *FaultRegistry) Set(path string, f Fault) {
	fr.mu.Lock()
	fr.faults[path] = f
	fr.mu.Unlock()
}

// Remove deletes the fault for path and reports whether there was one.
func (fr *FaultRegistry) Remove(path string) bool {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if _, ok := fr.faults[path]; !ok {
		return false
	}
	delete(fr.faults, path)
	return true
}

// take returns the fault for a request and uses up one of its firings.
func (fr *FaultRegistry) take(method, path string) (Fault, bool) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	f, ok := fr.faults[path]
	if !ok || !f.matches(method) {
		return Fault{}, false
	}
	switch f.Times {
	case 0:
	case 1:
		delete(fr.faults, path)
	default:
		f.Times--
		fr.faults[path] = f
	}
	return f, true
}

// All returns the registered faults by path.
func (fr *FaultRegistry) All() map[string]Fault {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return maps.Clone(fr.faults)
}

// Reset removes every fault.
func (fr *FaultRegistry) Reset() {
	fr.mu.Lock()
	clear(fr.faults)
	fr.mu.Unlock()
}

func (s *Server) injectFaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := s.Faults.take(r.Method, r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		if f.DelayMS > 0 {
			t := time.NewTimer(time.Duration(f.DelayMS) * time.Millisecond)
			defer t.Stop()
			select {
			case <-t.C:
			case <-r.Context().Done():
				return
			}
		}

		for name, value := range f.Headers {
			w.Header().Set(name, value)
		}
		if f.Body == "" {
			Error(w, f.StatusCode, "injected fault")
			return
		}
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(f.StatusCode)
		io.WriteString(w, f.Body)
	})
}
