package session

import (
	"context"
	"sync"

	"github.com/seek-ret/tests-rtl/pkg/response"
)

// Context is the per-test view of a Session. It adds a default user that is
// applied to requests that do not name one.
type Context struct {
	session *Session

	mu          sync.RWMutex
	defaultUser string
}

// NewContext wraps s. An empty defaultUser falls back to the run profile's
// default_user.
func NewContext(s *Session, defaultUser string) *Context {
	if defaultUser == "" {
		defaultUser = s.profile.DefaultUser
	}
	return &Context{session: s, defaultUser: defaultUser}
}

// Session returns the wrapped session.
func (c *Context) Session() *Session { return c.session }

// DefaultUser returns the user applied to requests without one.
func (c *Context) DefaultUser() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultUser
}

// SetDefaultUser changes the default user. An empty name makes requests without
// a user unauthenticated.
func (c *Context) SetDefaultUser(user string) {
	c.mu.Lock()
	c.defaultUser = user
	c.mu.Unlock()
}

// Request sends req as req.User, or as the default user when req.User is empty.
func (c *Context) Request(ctx context.Context, req Request) (*response.Response, error) {
	if req.User == "" {
		req.User = c.DefaultUser()
	}
	return c.session.Request(ctx, req)
}

// Anonymous sends req without authorization regardless of the default user.
func (c *Context) Anonymous(ctx context.Context, req Request) (*response.Response, error) {
	req.User = ""
	return c.session.Request(ctx, req)
}

// Endpoint is a request template bound to a method and path.
type Endpoint struct {
	ctx    *Context
	method string
	path   string
}

// Endpoint returns a reusable request template for method and path.
func (c *Context) Endpoint(method, path string) *Endpoint {
	return &Endpoint{ctx: c, method: method, path: path}
}

// Do sends a request to the endpoint. Method and Path of req are overwritten.
func (e *Endpoint) Do(ctx context.Context, req Request) (*response.Response, error) {
	req.Method = e.method
	req.Path = e.path
	return e.ctx.Request(ctx, req)
}

// Call sends a request to the endpoint with the given path parameters.
func (e *Endpoint) Call(ctx context.Context, params map[string]any) (*response.Response, error) {
	return e.Do(ctx, Request{PathParams: params})
}
