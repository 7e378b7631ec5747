// Package schema validates decoded JSON documents against kwalify style
// structural schemas written in YAML:
//
//	type: map
//	mapping:
//	  id:   {type: int, required: true}
//	  name: {type: str, pattern: "^[a-z]+$"}
//	  tags:
//	    type: seq
//	    sequence:
//	      - type: str
//
// Supported types are str, int, float, number, bool, map, seq, scalar, any
// and none. A rule without a type is a map when it has a mapping, a seq when it
// has a sequence and a str otherwise. Maps reject undeclared keys unless
// allowempty is set.
//
// A null document only matches a root of type any or none; nested nulls are
// accepted unless the rule sets nullable: false.
//
// Numbers decoded as json.Number keep their literal form, so 1.0 is a float and
// 1 an int. Plain float64 values match int when they have no fractional part.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is a compiled schema node.
type Rule struct {
	Type       string           `yaml:"type"`
	Required   bool             `yaml:"required"`
	Nullable   *bool            `yaml:"nullable"`
	AllowEmpty bool             `yaml:"allowempty"`
	Enum       []any            `yaml:"enum"`
	Pattern    string           `yaml:"pattern"`
	Mapping    map[string]*Rule `yaml:"mapping"`
	Sequence   []*Rule          `yaml:"sequence"`

	re *regexp.Regexp
}

// Schema is a compiled schema.
type Schema struct {
	root *Rule
}

var knownTypes = []string{"str", "int", "float", "number", "bool", "map", "seq", "scalar", "any", "none"}

// Compile parses a YAML schema.
func Compile(src string) (*Schema, error) {
	var root Rule
	if err := yaml.Unmarshal([]byte(src), &root); err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}
	if err := root.compile("/"); err != nil {
		return nil, err
	}
	return &Schema{root: &root}, nil
}

func (r *Rule) compile(path string) error {
	if r.Type == "" {
		switch {
		case r.Mapping != nil:
			r.Type = "map"
		case r.Sequence != nil:
			r.Type = "seq"
		default:
			r.Type = "str"
		}
	}
	if !slices.Contains(knownTypes, r.Type) {
		return fmt.Errorf("schema %s: unknown type %q", path, r.Type)
	}
	if r.Mapping != nil && r.Type != "map" {
		return fmt.Errorf("schema %s: mapping given for type %s", path, r.Type)
	}
	if r.Sequence != nil && r.Type != "seq" {
		return fmt.Errorf("schema %s: sequence given for type %s", path, r.Type)
	}
	if len(r.Sequence) > 1 {
		return fmt.Errorf("schema %s: sequence must hold exactly one rule", path)
	}
	if r.Pattern != "" {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return fmt.Errorf("schema %s: pattern: %w", path, err)
		}
		r.re = re
	}
	for key, sub := range r.Mapping {
		if sub == nil {
			sub = &Rule{}
			r.Mapping[key] = sub
		}
		if err := sub.compile(join(path, key)); err != nil {
			return err
		}
	}
	for _, sub := range r.Sequence {
		if sub == nil {
			return fmt.Errorf("schema %s: empty sequence rule", path)
		}
		if err := sub.compile(join(path, "*")); err != nil {
			return err
		}
	}
	return nil
}

// ValidationError lists all mismatches between a document and a schema.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, "; ")
}

// Validate checks doc, a value as produced by encoding/json, against s.
func (s *Schema) Validate(doc any) error {
	v := &validator{}
	if doc == nil && s.root.Type != "none" && s.root.Type != "any" {
		v.addf("/", "expected %s, got null", s.root.Type)
	} else {
		v.check(s.root, doc, "/")
	}
	if len(v.problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: v.problems}
}

type validator struct {
	problems []string
}

func (v *validator) addf(path, format string, args ...any) {
	v.problems = append(v.problems, path+": "+fmt.Sprintf(format, args...))
}

func (v *validator) check(r *Rule, val any, path string) {
	if val == nil {
		if r.Type == "none" || r.Type == "any" {
			return
		}
		if r.Nullable != nil && !*r.Nullable {
			v.addf(path, "value must not be null")
		}
		return
	}

	if !matchesType(r.Type, val) {
		v.addf(path, "expected %s, got %s", r.Type, typeName(val))
		return
	}

	if len(r.Enum) > 0 && !slices.ContainsFunc(r.Enum, func(e any) bool { return scalarEqual(e, val) }) {
		v.addf(path, "value %v not in enum %v", val, r.Enum)
	}
	if r.re != nil {
		if s, ok := val.(string); ok && !r.re.MatchString(s) {
			v.addf(path, "value %q does not match pattern %q", s, r.Pattern)
		}
	}

	switch r.Type {
	case "map":
		v.checkMap(r, val.(map[string]any), path)
	case "seq":
		if len(r.Sequence) == 1 {
			for i, item := range val.([]any) {
				v.check(r.Sequence[0], item, join(path, fmt.Sprint(i)))
			}
		}
	}
}

func (v *validator) checkMap(r *Rule, m map[string]any, path string) {
	for _, key := range sortedKeys(r.Mapping) {
		sub := r.Mapping[key]
		val, ok := m[key]
		if sub.Required && (!ok || val == nil) {
			v.addf(join(path, key), "required key is missing")
			continue
		}
		if ok {
			v.check(sub, val, join(path, key))
		}
	}
	if r.AllowEmpty {
		return
	}
	for _, key := range sortedKeys(m) {
		if _, ok := r.Mapping[key]; !ok {
			v.addf(join(path, key), "key is not defined in schema")
		}
	}
}

func matchesType(typ string, val any) bool {
	switch typ {
	case "any":
		return true
	case "none":
		return val == nil
	case "str":
		_, ok := val.(string)
		return ok
	case "bool":
		_, ok := val.(bool)
		return ok
	case "int":
		return isInt(val)
	case "float", "number":
		_, ok := number(val)
		return ok
	case "map":
		_, ok := val.(map[string]any)
		return ok
	case "seq":
		_, ok := val.([]any)
		return ok
	case "scalar":
		switch val.(type) {
		case map[string]any, []any:
			return false
		}
		return true
	}
	return false
}

func number(val any) (float64, bool) {
	switch n := val.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func isInt(val any) bool {
	if n, ok := val.(json.Number); ok {
		_, err := n.Float64()
		return err == nil && !strings.ContainsAny(n.String(), ".eE")
	}
	f, ok := number(val)
	return ok && f == math.Trunc(f)
}

func scalarEqual(a, b any) bool {
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func typeName(val any) string {
	switch val.(type) {
	case string:
		return "str"
	case bool:
		return "bool"
	case map[string]any:
		return "map"
	case []any:
		return "seq"
	}
	if _, ok := number(val); ok {
		if isInt(val) {
			return "int"
		}
		return "float"
	}
	return fmt.Sprintf("%T", val)
}

func join(path, elem string) string {
	if strings.HasSuffix(path, "/") {
		return path + elem
	}
	return path + "/" + elem
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
