package stage

import (
	"fmt"
	"os"
	"strings"
)

// ExpandString replaces template placeholders in s:
//   - {{env.VARIABLE}} from environment variables
//   - {{name}} and {{a.b.c}} from vars
//
// Substituted values are not expanded again.
func ExpandString(s string, vars Vars) (string, error) {
	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end == -1 {
			return "", fmt.Errorf("unterminated template expression in %q", s)
		}
		end += start

		value, err := resolveExpr(strings.TrimSpace(rest[start+2:end]), vars)
		if err != nil {
			return "", err
		}
		b.WriteString(rest[:start])
		b.WriteString(fmt.Sprint(value))
		rest = rest[end+2:]
	}
	return b.String(), nil
}

// ExpandValue expands templates in every string nested in v. A string that is
// exactly one placeholder is replaced by the variable itself, keeping its type,
// so "{{user.id}}" can produce a number or a mapping in a JSON body.
func ExpandValue(v any, vars Vars) (any, error) {
	switch x := v.(type) {
	case string:
		if expr, ok := wholeExpr(x); ok {
			return resolveExpr(expr, vars)
		}
		return ExpandString(x, vars)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			ev, err := ExpandValue(val, vars)
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			ev, err := ExpandValue(val, vars)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	default:
		return v, nil
	}
}

func wholeExpr(s string) (string, bool) {
	if !strings.HasPrefix(s, "{{") || !strings.HasSuffix(s, "}}") {
		return "", false
	}
	inner := s[2 : len(s)-2]
	if strings.Contains(inner, "{{") || strings.Contains(inner, "}}") {
		return "", false
	}
	return strings.TrimSpace(inner), true
}

func resolveExpr(expr string, vars Vars) (any, error) {
	if key, ok := strings.CutPrefix(expr, "env."); ok {
		val, ok := os.LookupEnv(key)
		if !ok {
			return nil, fmt.Errorf("unresolved template expression %q: environment variable not set", expr)
		}
		return val, nil
	}
	if val, ok := vars.Lookup(expr); ok {
		return val, nil
	}
	return nil, fmt.Errorf("unresolved template expression: %q", expr)
}

// Expand returns a copy of s with templates in its name, request and
// expectations expanded.
func (s Stage) Expand(vars Vars) (Stage, error) {
	var err error
	out := s
	r := &out.Request

	if out.Name, err = ExpandString(out.Name, vars); err != nil {
		return Stage{}, fmt.Errorf("name: %w", err)
	}
	if r.Method, err = ExpandString(r.Method, vars); err != nil {
		return Stage{}, fmt.Errorf("method: %w", err)
	}
	if r.Path, err = ExpandString(r.Path, vars); err != nil {
		return Stage{}, fmt.Errorf("path: %w", err)
	}
	if r.User, err = ExpandString(r.User, vars); err != nil {
		return Stage{}, fmt.Errorf("user: %w", err)
	}
	if r.PathParams, err = expandMap(r.PathParams, vars); err != nil {
		return Stage{}, fmt.Errorf("path_params: %w", err)
	}
	if r.Query, err = expandMap(r.Query, vars); err != nil {
		return Stage{}, fmt.Errorf("query: %w", err)
	}
	if r.Headers, err = expandStrings(r.Headers, vars); err != nil {
		return Stage{}, fmt.Errorf("headers: %w", err)
	}
	if r.Cookies, err = expandStrings(r.Cookies, vars); err != nil {
		return Stage{}, fmt.Errorf("cookies: %w", err)
	}
	if r.JSON != nil {
		if r.JSON, err = ExpandValue(r.JSON, vars); err != nil {
			return Stage{}, fmt.Errorf("json: %w", err)
		}
	}

	if out.Response.JSON, err = expandMap(out.Response.JSON, vars); err != nil {
		return Stage{}, fmt.Errorf("response json: %w", err)
	}
	if out.Response.Headers, err = expandStrings(out.Response.Headers, vars); err != nil {
		return Stage{}, fmt.Errorf("response headers: %w", err)
	}
	return out, nil
}

func expandMap(m map[string]any, vars Vars) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	v, err := ExpandValue(m, vars)
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

func expandStrings(m map[string]string, vars Vars) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		ev, err := ExpandString(v, vars)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = ev
	}
	return out, nil
}
