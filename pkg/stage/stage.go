// Package stage defines the declarative test model: a test is an ordered list of
// stages, each one HTTP request with its expectations and saved values.
//
// Stages may reference reusable stages by id (type "ref"). Authorization methods
// that need a real network exchange before the test body, such as logging in,
// insert such a reference at the start of the stage list.
package stage

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// TypeRef marks a stage that is a reference to a library stage.
const TypeRef = "ref"

// ErrUnknownStage is returned when a referenced stage is not in the library.
var ErrUnknownStage = errors.New("unknown stage")

// Test is a declarative test.
type Test struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// User is the default user of all stages. Empty means the context default.
	User string `yaml:"user,omitempty" json:"user,omitempty"`

	// Includes lists library files with reusable stages, relative to the test file.
	Includes []string `yaml:"includes,omitempty" json:"includes,omitempty"`

	Variables Vars    `yaml:"variables,omitempty" json:"variables,omitempty"`
	Stages    []Stage `yaml:"stages" json:"stages"`
}

// Stage is a single request with expectations.
type Stage struct {
	ID   string `yaml:"id,omitempty" json:"id,omitempty"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	Type string `yaml:"type,omitempty" json:"type,omitempty"`

	Request  Request `yaml:"request,omitempty" json:"request,omitempty"`
	Response Expect  `yaml:"response,omitempty" json:"response,omitempty"`
	Save     Save    `yaml:"save,omitempty" json:"save,omitempty"`
}

// Request describes the HTTP request of a stage.
type Request struct {
	Method     string            `yaml:"method" json:"method"`
	Path       string            `yaml:"path" json:"path"`
	PathParams map[string]any    `yaml:"path_params,omitempty" json:"path_params,omitempty"`
	Query      map[string]any    `yaml:"query,omitempty" json:"query,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Cookies    map[string]string `yaml:"cookies,omitempty" json:"cookies,omitempty"`
	JSON       any               `yaml:"json,omitempty" json:"json,omitempty"`

	// User overrides the test user for this stage.
	User string `yaml:"user,omitempty" json:"user,omitempty"`
	// Anonymous sends the request without any authorization.
	Anonymous bool `yaml:"anonymous,omitempty" json:"anonymous,omitempty"`
}

// Expect holds the expectations on a stage response. Zero values are not checked.
type Expect struct {
	Status int `yaml:"status,omitempty" json:"status,omitempty"`

	// JSON maps search expressions relative to the body to expected values.
	JSON map[string]any `yaml:"json,omitempty" json:"json,omitempty"`

	// Headers maps header names (any casing) to expected values.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// Schema is a structural schema the body must conform to.
	Schema string `yaml:"schema,omitempty" json:"schema,omitempty"`
}

// Save describes values copied from a response into the test variables.
type Save struct {
	// JSON maps dotted variable destinations to search expressions relative to the body.
	JSON map[string]string `yaml:"json,omitempty" json:"json,omitempty"`

	// Headers maps dotted variable destinations to response header names.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// Authorization saves a credential that is sent with all later stages.
	Authorization *SaveAuthorization `yaml:"authorization,omitempty" json:"authorization,omitempty"`
}

// SaveAuthorization extracts a token from a response. Exactly one of JSON and
// Headers must be set.
type SaveAuthorization struct {
	// Type is "bearer" or "header".
	Type string `yaml:"type" json:"type"`

	// Header is the request header to send the value in for type "header".
	// Defaults to Authorization.
	Header string `yaml:"header,omitempty" json:"header,omitempty"`

	JSON    string `yaml:"json,omitempty" json:"json,omitempty"`
	Headers string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// IsRef reports whether s refers to a library stage.
func (s Stage) IsRef() bool {
	return s.Type == TypeRef
}

// Title returns a human readable stage name.
func (s Stage) Title() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.ID != "":
		return s.ID
	case s.Request.Method != "" || s.Request.Path != "":
		return s.Request.Method + " " + s.Request.Path
	default:
		return "<unnamed>"
	}
}

// Clone returns a copy of t whose stage list and variables can be modified
// without affecting t.
func (t *Test) Clone() *Test {
	c := *t
	c.Includes = slices.Clone(t.Includes)
	c.Stages = slices.Clone(t.Stages)
	c.Variables = t.Variables.Clone()
	return &c
}

// InsertStage inserts s at position i of the stage list.
func (t *Test) InsertStage(i int, s Stage) {
	t.Stages = slices.Insert(t.Stages, i, s)
}

// Library holds reusable stages by id.
type Library map[string]Stage

// Add adds stages to the library. Stages need an id; ids must be unique.
func (l Library) Add(stages ...Stage) error {
	for i, s := range stages {
		if s.ID == "" {
			return fmt.Errorf("library stage %d (%s): id is required", i+1, s.Title())
		}
		if s.IsRef() {
			return fmt.Errorf("library stage %q: must not be a reference", s.ID)
		}
		if _, ok := l[s.ID]; ok {
			return fmt.Errorf("library stage %q defined twice", s.ID)
		}
		l[s.ID] = s
	}
	return nil
}

// Merge adds all stages of other to l.
func (l Library) Merge(other Library) error {
	for _, id := range slices.Sorted(maps.Keys(other)) {
		if err := l.Add(other[id]); err != nil {
			return err
		}
	}
	return nil
}

// Resolve replaces every reference in stages by the referenced library stage.
func (l Library) Resolve(stages []Stage) ([]Stage, error) {
	resolved := make([]Stage, 0, len(stages))
	for _, s := range stages {
		if !s.IsRef() {
			resolved = append(resolved, s)
			continue
		}
		target, ok := l[s.ID]
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownStage, s.ID)
		}
		resolved = append(resolved, target)
	}
	return resolved, nil
}
