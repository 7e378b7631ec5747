package session

import (
	"fmt"
	"maps"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

var placeholderRE = regexp.MustCompile(`\{([^{}]+)\}`)

// MissingPathParameterError is returned when a path placeholder has no value.
type MissingPathParameterError struct {
	Name string
}

func (e *MissingPathParameterError) Error() string {
	return fmt.Sprintf("expected path param %q was not given", e.Name)
}

// UnusedPathParametersError is returned when values are given for names that
// do not appear in the path.
type UnusedPathParametersError struct {
	Names []string
}

func (e *UnusedPathParametersError) Error() string {
	return "path params given but do not appear in path: " + strings.Join(e.Names, ", ")
}

// ResolvePath replaces every {name} placeholder in path with the escaped value
// of params[name]. Values are formatted with fmt.Sprint and every byte except
// ASCII letters, digits and "-._~" is percent-encoded, so a value never adds
// path segments. Every placeholder must have a value and every value must be
// used.
func ResolvePath(path string, params map[string]any) (string, error) {
	used := make(map[string]bool, len(params))
	var missing string
	resolved := placeholderRE.ReplaceAllStringFunc(path, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := params[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return m
		}
		used[name] = true
		return escapeSegment(fmt.Sprint(v))
	})
	if missing != "" {
		return "", &MissingPathParameterError{Name: missing}
	}

	if len(used) != len(params) {
		var unused []string
		for _, name := range slices.Sorted(maps.Keys(params)) {
			if !used[name] {
				unused = append(unused, name)
			}
		}
		return "", &UnusedPathParametersError{Names: unused}
	}
	return resolved, nil
}

func escapeSegment(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return c == '-' || c == '.' || c == '_' || c == '~'
}

// joinURL resolves path below base. One leading slash of path is dropped and
// base is treated as a directory, so "https://h/api" and "/users" give
// "https://h/api/users".
func joinURL(base *url.URL, path string) (*url.URL, error) {
	dir := *base
	if !strings.HasSuffix(dir.Path, "/") {
		dir.Path += "/"
		if dir.RawPath != "" {
			dir.RawPath += "/"
		}
	}
	ref, err := url.Parse("./" + strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing request path %q: %w", path, err)
	}
	return dir.ResolveReference(ref), nil
}
