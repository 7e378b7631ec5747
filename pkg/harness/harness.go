// Package harness wires sessions into go test.
//
// The run profile is taken from the -run-profile test flag, then from the
// APITEST_RUN_PROFILE environment variable, then from run-profile.yaml in the
// package directory:
//
//	go test ./apitests -run-profile=staging.yaml
//
// Tests obtain a session shared by the whole test binary with Shared, or a new
// one with Fresh, and a per-test view of it with Context.
package harness

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/seek-ret/tests-rtl/pkg/runprofile"
	"github.com/seek-ret/tests-rtl/pkg/scenario"
	"github.com/seek-ret/tests-rtl/pkg/session"
	"github.com/seek-ret/tests-rtl/pkg/stage"
)

// EnvRunProfile names the environment variable holding the run profile path.
const EnvRunProfile = "APITEST_RUN_PROFILE"

var runProfileFlag = flag.String("run-profile", "", "path of the API test run profile (env "+EnvRunProfile+")")

// ProfilePath returns the run profile path in effect.
func ProfilePath() string {
	if *runProfileFlag != "" {
		return *runProfileFlag
	}
	if p := os.Getenv(EnvRunProfile); p != "" {
		return p
	}
	return runprofile.DefaultFile
}

var (
	hooksMu sync.Mutex
	hooks   []func(*session.Session)
)

// OnSessionInitialized registers fn to run on every session the harness creates,
// before any test uses it. Projects register their own auth methods here:
//
//	func init() {
//		harness.OnSessionInitialized(func(s *session.Session) {
//			s.Registry().MustRegister("api-key", newAPIKey)
//		})
//	}
//
// Sessions created before fn was registered are not affected.
func OnSessionInitialized(fn func(*session.Session)) {
	hooksMu.Lock()
	hooks = append(hooks, fn)
	hooksMu.Unlock()
}

func newSession(opts ...session.Option) (*session.Session, error) {
	p, err := runprofile.Load(ProfilePath())
	if err != nil {
		return nil, err
	}
	if testing.Verbose() {
		opts = append([]session.Option{session.WithEcho(os.Stdout)}, opts...)
	}
	s, err := session.New(p, opts...)
	if err != nil {
		return nil, err
	}

	hooksMu.Lock()
	fns := append([]func(*session.Session){}, hooks...)
	hooksMu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
	return s, nil
}

var shared struct {
	once sync.Once
	s    *session.Session
	err  error
}

// Shared returns the session of the test binary, creating it on first use.
// Handlers created for a user are reused by all tests.
func Shared(tb testing.TB) *session.Session {
	tb.Helper()
	shared.once.Do(func() {
		shared.s, shared.err = newSession()
	})
	if shared.err != nil {
		tb.Fatalf("initializing session: %v", shared.err)
	}
	return shared.s
}

// Fresh returns a new session that is not shared with other tests.
func Fresh(tb testing.TB, opts ...session.Option) *session.Session {
	tb.Helper()
	s, err := newSession(opts...)
	if err != nil {
		tb.Fatalf("initializing session: %v", err)
	}
	return s
}

type contextConfig struct {
	user    string
	session *session.Session
}

// ContextOption configures Context.
type ContextOption func(*contextConfig)

// WithUser makes user the default user of the context instead of the run
// profile's default_user.
func WithUser(user string) ContextOption {
	return func(c *contextConfig) { c.user = user }
}

// WithSession uses s instead of the shared session.
func WithSession(s *session.Session) ContextOption {
	return func(c *contextConfig) { c.session = s }
}

// Context returns a per-test context around the shared session.
func Context(tb testing.TB, opts ...ContextOption) *session.Context {
	tb.Helper()
	var cfg contextConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.session == nil {
		cfg.session = Shared(tb)
	}
	if cfg.user != "" {
		if _, err := cfg.session.Profile().User(cfg.user); err != nil {
			tb.Fatalf("context user: %v", err)
		}
	}
	return session.NewContext(cfg.session, cfg.user)
}

// RunFiles runs declarative test files matching the glob patterns, each as a
// subtest of t. Libraries listed in a test's includes are resolved relative to
// the test file.
func RunFiles(t *testing.T, c *session.Context, patterns ...string) {
	t.Helper()
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			t.Fatalf("pattern %q: %v", pattern, err)
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		t.Fatalf("no test files match %v", patterns)
	}

	for _, file := range files {
		test, err := stage.LoadTest(file)
		if err != nil {
			t.Errorf("%v", err)
			continue
		}
		t.Run(test.Name, func(t *testing.T) {
			RunTest(t, c, test, filepath.Dir(file))
		})
	}
}

// RunTest runs a single declarative test and reports every failed stage.
// dir resolves the test's includes.
func RunTest(t *testing.T, c *session.Context, test *stage.Test, dir string) {
	t.Helper()
	lib, err := stage.LoadLibrary(test.IncludePaths(dir)...)
	if err != nil {
		t.Fatalf("%v", err)
	}

	ctx := context.Background()
	if d, ok := t.Deadline(); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, d)
		defer cancel()
	}

	res, err := scenario.NewRunner(c, lib).Run(ctx, test)
	if err != nil {
		t.Fatalf("%v", err)
	}
	for _, sr := range res.Stages {
		switch {
		case sr.Skipped:
			t.Logf("skipped %s", sr.Name)
		case sr.Passed:
			t.Logf("passed %s (%s)", sr.Name, sr.Duration)
		default:
			t.Errorf("stage %s: %s", sr.Name, sr.Error)
		}
	}
}
