// Package scenario runs declarative stage tests through a session.
package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/seek-ret/tests-rtl/pkg/auth"
	"github.com/seek-ret/tests-rtl/pkg/response"
	"github.com/seek-ret/tests-rtl/pkg/session"
	"github.com/seek-ret/tests-rtl/pkg/stage"
)

// StageResult records the outcome of a single stage.
type StageResult struct {
	Name     string
	Passed   bool
	Skipped  bool
	Status   int
	Duration time.Duration
	Error    string // empty when passed
}

// Result records the outcome of an entire test.
type Result struct {
	TestName string
	User     string
	Passed   bool
	Stages   []StageResult
	Duration time.Duration
}

// FirstError returns the error of the first failed stage, or "".
func (r *Result) FirstError() string {
	for _, s := range r.Stages {
		if !s.Passed && !s.Skipped {
			return s.Name + ": " + s.Error
		}
	}
	return ""
}

// Runner executes tests against the target server of a session context.
type Runner struct {
	ctx     *session.Context
	library stage.Library
	logger  *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger stage outcomes are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a Runner. lib may be nil when tests reference no stages.
func NewRunner(c *session.Context, lib stage.Library, opts ...Option) *Runner {
	r := &Runner{ctx: c, library: lib, logger: c.Session().Logger()}
	if r.library == nil {
		r.library = stage.Library{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes t and returns its result. Stages run in order; the first failing
// stage stops the test and the remaining stages are reported as skipped. A
// returned error means the test could not be started at all.
func (r *Runner) Run(ctx context.Context, t *stage.Test) (*Result, error) {
	start := time.Now()

	user := t.User
	if user == "" {
		user = r.ctx.DefaultUser()
	}

	prepared := t.Clone()
	if prepared.Variables == nil {
		prepared.Variables = stage.Vars{}
	}
	if user != "" {
		h, err := r.ctx.Session().Handler(user)
		if err != nil {
			return nil, err
		}
		if p, ok := h.(auth.TestPreparer); ok {
			if err := p.PrepareTest(prepared, prepared.Variables); err != nil {
				return nil, fmt.Errorf("preparing test %q for user %q: %w", t.Name, user, err)
			}
		}
	}

	stages, err := r.library.Resolve(prepared.Stages)
	if err != nil {
		return nil, fmt.Errorf("test %q: %w", t.Name, err)
	}

	result := &Result{TestName: t.Name, User: user, Passed: true}
	vars := prepared.Variables.Clone()

	log := r.logger.With("test", t.Name)
	for _, s := range stages {
		if !result.Passed {
			result.Stages = append(result.Stages, StageResult{Name: s.Title(), Skipped: true})
			continue
		}
		sr := r.runStage(ctx, s, user, vars)
		result.Stages = append(result.Stages, sr)
		if !sr.Passed {
			result.Passed = false
			log.Warn("stage failed", "stage", sr.Name, "error", sr.Error)
		} else {
			log.Debug("stage passed", "stage", sr.Name, "duration", sr.Duration)
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// runStage executes a single stage and merges its saved values into vars.
func (r *Runner) runStage(ctx context.Context, s stage.Stage, user string, vars stage.Vars) StageResult {
	start := time.Now()
	sr := StageResult{Name: s.Title()}
	fail := func(format string, args ...any) StageResult {
		sr.Error = fmt.Sprintf(format, args...)
		sr.Duration = time.Since(start)
		return sr
	}

	expanded, err := s.Expand(vars)
	if err != nil {
		return fail("%v", err)
	}
	sr.Name = expanded.Title()

	req, err := sessionRequest(expanded.Request, user, vars)
	if err != nil {
		return fail("%v", err)
	}

	resp, err := r.ctx.Session().Request(ctx, req)
	if err != nil {
		return fail("request failed: %v", err)
	}
	sr.Status = resp.StatusCode()

	if err := checkExpect(expanded.Response, resp); err != nil {
		return fail("%v", err)
	}
	if err := save(expanded.Save, resp, vars); err != nil {
		return fail("save: %v", err)
	}

	sr.Passed = true
	sr.Duration = time.Since(start)
	return sr
}

// sessionRequest converts a stage request. Authorization headers saved by
// earlier stages are sent first so that explicit stage headers win.
func sessionRequest(sr stage.Request, user string, vars stage.Vars) (session.Request, error) {
	if sr.User != "" {
		user = sr.User
	}
	if sr.Anonymous {
		user = ""
	}

	headers := http.Header{}
	if !sr.Anonymous {
		for k, v := range vars.AuthHeaders() {
			headers.Set(k, v)
		}
	}
	for _, k := range slices.Sorted(maps.Keys(sr.Headers)) {
		headers.Set(k, sr.Headers[k])
	}

	query, err := queryValues(sr.Query)
	if err != nil {
		return session.Request{}, err
	}

	return session.Request{
		Method:     sr.Method,
		Path:       sr.Path,
		PathParams: sr.PathParams,
		Query:      query,
		Headers:    headers,
		Cookies:    sr.Cookies,
		JSON:       sr.JSON,
		User:       user,
	}, nil
}

// queryValues converts a query mapping. A list value yields a repeated key.
func queryValues(q map[string]any) (url.Values, error) {
	if len(q) == 0 {
		return nil, nil
	}
	values := url.Values{}
	for k, v := range q {
		switch x := v.(type) {
		case []any:
			for _, item := range x {
				if _, ok := item.(map[string]any); ok {
					return nil, fmt.Errorf("query parameter %q: nested mappings are not supported", k)
				}
				values.Add(k, fmt.Sprint(item))
			}
		case map[string]any:
			return nil, fmt.Errorf("query parameter %q: nested mappings are not supported", k)
		case nil:
			values.Add(k, "")
		default:
			values.Add(k, fmt.Sprint(x))
		}
	}
	return values, nil
}

func save(s stage.Save, resp *response.Response, vars stage.Vars) error {
	saved, err := resp.Save(s.Headers, s.JSON)
	if err != nil {
		return err
	}
	vars.Merge(saved)

	if s.Authorization != nil {
		saved, err := resp.SaveAuthorization(*s.Authorization)
		if err != nil {
			return err
		}
		vars.Merge(saved)
	}
	return nil
}
