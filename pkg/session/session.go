// Package session executes API test requests against the target server of a run
// profile.
//
// A Session resolves path templates, joins them with the target server, attaches
// the credentials of the requesting user and logs every exchange. It builds one
// authorization handler per user on first use and reuses it for the lifetime of
// the Session.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/seek-ret/tests-rtl/pkg/auth"
	"github.com/seek-ret/tests-rtl/pkg/response"
	"github.com/seek-ret/tests-rtl/pkg/runprofile"
)

// Request describes a single API call.
type Request struct {
	Method string
	// Path is relative to the target server and may contain {name} placeholders.
	Path       string
	PathParams map[string]any
	Query      url.Values
	Headers    http.Header
	Cookies    map[string]string

	// JSON is encoded as the request body when not nil.
	JSON any

	// User names the run profile user the request is made as. Empty sends the
	// request without authorization.
	User string
}

// Session runs requests for one run profile. It is safe for concurrent use.
type Session struct {
	profile  *runprofile.RunProfile
	target   *url.URL
	client   *http.Client
	registry *auth.Registry
	logger   *slog.Logger
	echo     *echo

	mu       sync.Mutex
	handlers map[string]auth.Handler
}

// Option configures a Session.
type Option func(*Session)

// WithHTTPClient sets the client requests are sent with.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) { s.client = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithRegistry sets the auth method registry. The default is auth.Default().
func WithRegistry(r *auth.Registry) Option {
	return func(s *Session) { s.registry = r }
}

// WithEcho prints every exchange to w in a human readable form.
func WithEcho(w io.Writer) Option {
	return func(s *Session) { s.echo = newEcho(w) }
}

// New creates a Session. The profile must have been validated.
func New(profile *runprofile.RunProfile, opts ...Option) (*Session, error) {
	target, err := url.Parse(profile.TargetServer)
	if err != nil {
		return nil, fmt.Errorf("target_server: %w", err)
	}
	s := &Session{
		profile:  profile,
		target:   target,
		client:   http.DefaultClient,
		registry: auth.Default(),
		logger:   slog.Default(),
		handlers: make(map[string]auth.Handler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Profile returns the run profile of the session.
func (s *Session) Profile() *runprofile.RunProfile { return s.profile }

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Registry returns the auth method registry handlers are created from.
func (s *Session) Registry() *auth.Registry { return s.registry }

// Handler returns the authorization handler of user, creating it on first use.
// Concurrent first use creates a single handler.
func (s *Session) Handler(user string) (auth.Handler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.handlers[user]; ok {
		return h, nil
	}
	u, err := s.profile.User(user)
	if err != nil {
		return nil, err
	}
	h, err := s.registry.Create(u.Auth.Type, u.Auth.Data)
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", user, err)
	}
	s.handlers[user] = h
	s.logger.Debug("created auth handler", "user", user, "type", u.Auth.Type)
	return h, nil
}

// Request sends req and returns the fully read response. Non-2xx statuses are
// not errors. Nothing is sent when the path cannot be resolved or the user's
// credentials cannot be attached.
func (s *Session) Request(ctx context.Context, req Request) (*response.Response, error) {
	httpReq, err := s.build(ctx, req)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	log := s.logger.With("request_id", id)
	s.logRequest(log, httpReq, req.JSON)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		log.Error("request failed", "method", httpReq.Method, "url", httpReq.URL.String(), "error", err)
		return nil, fmt.Errorf("%s %s: %w", httpReq.Method, httpReq.URL, err)
	}
	wrapped, err := response.New(resp)
	if err != nil {
		return nil, err
	}
	s.logResponse(log, httpReq, wrapped)
	return wrapped, nil
}

func (s *Session) build(ctx context.Context, req Request) (*http.Request, error) {
	path, err := ResolvePath(req.Path, req.PathParams)
	if err != nil {
		return nil, err
	}
	u, err := joinURL(s.target, path)
	if err != nil {
		return nil, err
	}
	if len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if req.JSON != nil {
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	if req.User != "" {
		h, err := s.Handler(req.User)
		if err != nil {
			return nil, err
		}
		if a, ok := h.(auth.RequestAuthorizer); ok {
			if err := a.Authorize(httpReq); err != nil {
				return nil, fmt.Errorf("authorizing request as %q: %w", req.User, err)
			}
		}
	}

	for name, values := range req.Headers {
		httpReq.Header.Del(name)
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	if req.JSON != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for name, value := range req.Cookies {
		httpReq.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	return httpReq, nil
}
