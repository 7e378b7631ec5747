package stage

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Vars holds test variables. Nested mappings are map[string]any values and are
// addressed with dotted paths such as "user.id".
type Vars map[string]any

// SetLeaf stores value at the dotted path, creating intermediate mappings and
// replacing non-mapping values on the way.
func (v Vars) SetLeaf(path string, value any) {
	v.Merge(Leaf(path, value))
}

// Leaf builds the nested mapping for a dotted path holding value:
// Leaf("a.b", 1) is {"a": {"b": 1}}.
func Leaf(path string, value any) map[string]any {
	parts := strings.Split(path, ".")
	for i := len(parts) - 1; i > 0; i-- {
		value = map[string]any{parts[i]: value}
	}
	return map[string]any{parts[0]: value}
}

// Merge deep merges other into v. Mappings present on both sides are merged
// recursively, everything else is overwritten by other.
func (v Vars) Merge(other map[string]any) {
	mergeInto(v, other)
}

func mergeInto(dst, src map[string]any) {
	for k, sv := range src {
		sm, srcIsMap := asMap(sv)
		dm, dstIsMap := asMap(dst[k])
		if srcIsMap && dstIsMap {
			mergeInto(dm, sm)
			dst[k] = dm
			continue
		}
		if srcIsMap {
			cp := make(map[string]any, len(sm))
			mergeInto(cp, sm)
			dst[k] = cp
			continue
		}
		dst[k] = sv
	}
}

// Lookup returns the value at the dotted path.
func (v Vars) Lookup(path string) (any, bool) {
	var cur any = map[string]any(v)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Clone returns a deep copy of the mappings in v. Leaf values are shared.
func (v Vars) Clone() Vars {
	if v == nil {
		return nil
	}
	c := make(Vars, len(v))
	mergeInto(c, v)
	return c
}

func asMap(x any) (map[string]any, bool) {
	switch m := x.(type) {
	case map[string]any:
		return m, true
	case Vars:
		return m, true
	case map[any]any:
		// Produced by some YAML decoders for nested mappings.
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	}
	return nil, false
}

// Keys returns the top level variable names.
func (v Vars) Keys() []string {
	return sortedKeys(v)
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}

// AuthHeadersVar is the variable holding headers sent with every later stage of
// a test. Saved authorizations are written below it.
const AuthHeadersVar = "runtime.auth.headers"

// AuthHeaders returns the headers stored under AuthHeadersVar.
func (v Vars) AuthHeaders() map[string]string {
	raw, ok := v.Lookup(AuthHeadersVar)
	if !ok {
		return nil
	}
	m, ok := asMap(raw)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = fmt.Sprint(val)
	}
	return out
}
