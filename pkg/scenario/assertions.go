package scenario

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/seek-ret/tests-rtl/pkg/response"
	"github.com/seek-ret/tests-rtl/pkg/stage"
)

var operators = []string{"exists", "eq", "ne", "gte", "lte", "contains", "regex", "len"}

// checkExpect evaluates the expectations of a stage against its response.
func checkExpect(exp stage.Expect, resp *response.Response) error {
	if exp.Status != 0 && resp.StatusCode() != exp.Status {
		return fmt.Errorf("expected status %d, got %d", exp.Status, resp.StatusCode())
	}

	for _, name := range slices.Sorted(maps.Keys(exp.Headers)) {
		expected := exp.Headers[name]
		actual := strings.Join(resp.Header().Values(name), ", ")
		if actual != expected {
			return fmt.Errorf("header %q: expected %q, got %q", name, expected, actual)
		}
	}

	for _, expr := range slices.Sorted(maps.Keys(exp.JSON)) {
		if err := checkJSON(resp, expr, exp.JSON[expr]); err != nil {
			return err
		}
	}

	if exp.Schema != "" {
		if err := resp.AssertSchema(exp.Schema); err != nil {
			return err
		}
	}
	return nil
}

// checkJSON compares the result of a body search with expected. A mapping whose
// keys are all operators, like {"gte": 1}, is evaluated as operator checks;
// everything else must be equal.
func checkJSON(resp *response.Response, expr string, expected any) error {
	actual, err := resp.SearchBody(expr)
	found := err == nil
	var nerr *response.NullResultError
	if err != nil && !errors.As(err, &nerr) {
		return fmt.Errorf("search %q: %w", expr, err)
	}

	if ops, ok := operatorMap(expected); ok {
		return evaluateOperators(expr, actual, found, ops)
	}
	if !found {
		return fmt.Errorf("search %q: no match found", expr)
	}
	if !valuesEqual(actual, expected) {
		return fmt.Errorf("search %q: expected %v (%T), got %v (%T)", expr, expected, expected, actual, actual)
	}
	return nil
}

func operatorMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !slices.Contains(operators, k) {
			return nil, false
		}
	}
	return m, true
}

// evaluateOperators processes operator checks such as {"eq": v} or {"gte": n}.
func evaluateOperators(expr string, actual any, found bool, ops map[string]any) error {
	for _, op := range slices.Sorted(maps.Keys(ops)) {
		expected := ops[op]
		if op == "exists" {
			want, ok := expected.(bool)
			if !ok {
				return fmt.Errorf("search %q: 'exists' requires a boolean value", expr)
			}
			if want != found {
				if want {
					return fmt.Errorf("search %q: expected to exist but no match found", expr)
				}
				return fmt.Errorf("search %q: expected not to exist but found %v", expr, actual)
			}
			continue
		}
		if !found {
			return fmt.Errorf("search %q: no match found for '%s' check", expr, op)
		}

		switch op {
		case "eq":
			if !valuesEqual(actual, expected) {
				return fmt.Errorf("search %q: expected eq %v, got %v", expr, expected, actual)
			}
		case "ne":
			if valuesEqual(actual, expected) {
				return fmt.Errorf("search %q: expected ne %v", expr, expected)
			}
		case "gte", "lte":
			a, aok := toFloat64(actual)
			e, eok := toFloat64(expected)
			if !aok || !eok {
				return fmt.Errorf("search %q: '%s' requires numeric values, got %v and %v", expr, op, actual, expected)
			}
			if op == "gte" && a < e {
				return fmt.Errorf("search %q: expected >= %v, got %v", expr, e, a)
			}
			if op == "lte" && a > e {
				return fmt.Errorf("search %q: expected <= %v, got %v", expr, e, a)
			}
		case "contains":
			if !contains(actual, expected) {
				return fmt.Errorf("search %q: expected %v to contain %v", expr, actual, expected)
			}
		case "regex":
			pattern, ok := expected.(string)
			if !ok {
				return fmt.Errorf("search %q: 'regex' requires a string pattern", expr)
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return fmt.Errorf("search %q: invalid regex %q: %w", expr, pattern, err)
			}
			if s := fmt.Sprint(actual); !re.MatchString(s) {
				return fmt.Errorf("search %q: value %q does not match regex %q", expr, s, pattern)
			}
		case "len":
			want, ok := toFloat64(expected)
			if !ok {
				return fmt.Errorf("search %q: 'len' requires a number", expr)
			}
			n, ok := length(actual)
			if !ok {
				return fmt.Errorf("search %q: 'len' requires a string, list or mapping, got %T", expr, actual)
			}
			if float64(n) != want {
				return fmt.Errorf("search %q: expected length %v, got %d", expr, want, n)
			}
		}
	}
	return nil
}

func contains(actual, expected any) bool {
	switch a := actual.(type) {
	case []any:
		return slices.ContainsFunc(a, func(v any) bool { return valuesEqual(v, expected) })
	case map[string]any:
		_, ok := a[fmt.Sprint(expected)]
		return ok
	}
	return strings.Contains(fmt.Sprint(actual), fmt.Sprint(expected))
}

func length(v any) (int, bool) {
	switch x := v.(type) {
	case string:
		return len(x), true
	case []any:
		return len(x), true
	case map[string]any:
		return len(x), true
	}
	return 0, false
}

// valuesEqual compares decoded JSON values. Numbers compare by value regardless
// of their Go type; numbers never equal strings.
func valuesEqual(actual, expected any) bool {
	an, aok := toFloat64(actual)
	en, eok := toFloat64(expected)
	if aok || eok {
		return aok && eok && an == en
	}

	switch a := actual.(type) {
	case map[string]any:
		e, ok := expected.(map[string]any)
		if !ok || len(a) != len(e) {
			return false
		}
		for k, av := range a {
			ev, ok := e[k]
			if !ok || !valuesEqual(av, ev) {
				return false
			}
		}
		return true
	case []any:
		e, ok := expected.([]any)
		if !ok || len(a) != len(e) {
			return false
		}
		for i := range a {
			if !valuesEqual(a[i], e[i]) {
				return false
			}
		}
		return true
	case nil:
		return expected == nil
	}
	return fmt.Sprint(actual) == fmt.Sprint(expected) && sameKind(actual, expected)
}

func sameKind(a, b any) bool {
	switch a.(type) {
	case string:
		_, ok := b.(string)
		return ok
	case bool:
		_, ok := b.(bool)
		return ok
	}
	return false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
