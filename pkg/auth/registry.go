// Package auth maps run profile authorization types to handlers that attach
// credentials to requests or prepare declarative tests before they run.
//
// Methods are registered by name. The built-in methods header, bearer, basic,
// jwt and custom-request are registered by this package; projects add their own
// with Register, typically from a session-initialized hook.
package auth

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/seek-ret/tests-rtl/pkg/stage"
)

var (
	// ErrDuplicateRegistration is returned when a method name is registered twice.
	ErrDuplicateRegistration = errors.New("auth method already registered")

	// ErrUnsupportedAuthType is returned when no method is registered for a type.
	ErrUnsupportedAuthType = errors.New("unsupported auth type")

	// ErrNoCapability is returned when a factory produces a handler that neither
	// authorizes requests nor prepares tests.
	ErrNoCapability = errors.New("auth handler has no capability")
)

// Data is the method specific part of a user's auth configuration.
type Data map[string]any

// Handler is an authorization handler. It implements RequestAuthorizer,
// TestPreparer or both.
type Handler any

// RequestAuthorizer mutates each outgoing request, e.g. by adding headers.
type RequestAuthorizer interface {
	Authorize(req *http.Request) error
}

// TestPreparer mutates a declarative test before it runs. Implementations may
// rewrite the stage list and set variables.
type TestPreparer interface {
	PrepareTest(t *stage.Test, vars stage.Vars) error
}

// Factory creates a handler from auth data.
type Factory func(data Data) (Handler, error)

// Registry maps auth type names to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name. Registering a name twice returns
// ErrDuplicateRegistration and keeps the first factory.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" {
		return errors.New("auth method name must not be empty")
	}
	if f == nil {
		return fmt.Errorf("auth method %q: nil factory", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateRegistration, name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Create builds a handler for the given auth type.
func (r *Registry) Create(typ string, data Data) (Handler, error) {
	r.mu.RLock()
	f, ok := r.factories[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, r.unsupported(typ)
	}

	if data == nil {
		data = Data{}
	}
	h, err := f(data)
	if err != nil {
		return nil, fmt.Errorf("auth method %q: %w", typ, err)
	}
	_, authorizes := h.(RequestAuthorizer)
	_, prepares := h.(TestPreparer)
	if !authorizes && !prepares {
		return nil, fmt.Errorf("auth method %q: %w (got %T)", typ, ErrNoCapability, h)
	}
	return h, nil
}

// Registered returns the registered method names in sorted order.
func (r *Registry) Registered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}

func (r *Registry) unsupported(typ string) error {
	if suggestions := similarNames(typ, r.Registered()); len(suggestions) > 0 {
		return fmt.Errorf("%w %q (did you mean %s?)", ErrUnsupportedAuthType, typ,
			strings.Join(suggestions, ", "))
	}
	return fmt.Errorf("%w %q", ErrUnsupportedAuthType, typ)
}

// similarNames returns the names in valid within an edit distance of two of
// name, ignoring case. Adjacent transpositions count as one edit.
func similarNames(name string, valid []string) []string {
	var out []string
	for _, v := range valid {
		if editDistance(strings.ToLower(name), strings.ToLower(v)) <= 2 {
			out = append(out, v)
		}
	}
	return out
}

// editDistance is the optimal string alignment distance between a and b.
func editDistance(a, b string) int {
	s, t := []rune(a), []rune(b)
	d := make([][]int, len(s)+1)
	for i := range d {
		d[i] = make([]int, len(t)+1)
		d[i][0] = i
	}
	for j := range d[0] {
		d[0][j] = j
	}
	for i := 1; i <= len(s); i++ {
		for j := 1; j <= len(t); j++ {
			cost := 1
			if s[i-1] == t[j-1] {
				cost = 0
			}
			d[i][j] = min(d[i-1][j]+1, d[i][j-1]+1, d[i-1][j-1]+cost)
			if i > 1 && j > 1 && s[i-1] == t[j-2] && s[i-2] == t[j-1] {
				d[i][j] = min(d[i][j], d[i-2][j-2]+1)
			}
		}
	}
	return d[len(s)][len(t)]
}

var defaultRegistry = NewRegistry()

// Default returns the process wide registry used by the package functions.
func Default() *Registry { return defaultRegistry }

// Register adds a factory to the default registry.
func Register(name string, f Factory) error { return defaultRegistry.Register(name, f) }

// MustRegister adds a factory to the default registry and panics on error.
func MustRegister(name string, f Factory) { defaultRegistry.MustRegister(name, f) }

// Create builds a handler from the default registry.
func Create(typ string, data Data) (Handler, error) { return defaultRegistry.Create(typ, data) }

// Registered lists the methods of the default registry.
func Registered() []string { return defaultRegistry.Registered() }

// RegisterBuiltins adds the built-in methods to r.
func RegisterBuiltins(r *Registry) {
	r.MustRegister("header", NewHeader)
	r.MustRegister("bearer", NewBearer)
	r.MustRegister("basic", NewBasic)
	r.MustRegister("jwt", NewJWT)
	r.MustRegister("custom-request", NewCustomRequest)
}

func init() {
	RegisterBuiltins(defaultRegistry)
}
