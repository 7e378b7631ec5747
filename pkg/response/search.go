package response

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmespath/go-jmespath"
)

// NullResultError is returned when a search expression matches nothing.
type NullResultError struct {
	Expression string
}

func (e *NullResultError) Error() string {
	return fmt.Sprintf("search %q returned no result", e.Expression)
}

// Search evaluates a JMESPath expression against the document
//
//	{"json": <decoded body>, "headers": {<name>: <value>, ...}}
//
// The json key is omitted when the body is not JSON. Header names match in any
// casing; multiple values of a header are joined with ", ". A null result is
// reported as *NullResultError, syntax errors are returned unchanged.
func (r *Response) Search(expr string) (any, error) {
	doc := map[string]any{"headers": r.headerDoc(expr)}
	if body, err := r.Decoded(); err == nil {
		doc["json"] = body
	}
	return search(expr, doc)
}

// SearchBody evaluates a JMESPath expression against the decoded body only.
func (r *Response) SearchBody(expr string) (any, error) {
	body, err := r.Decoded()
	if err != nil {
		return nil, err
	}
	return search(expr, body)
}

func search(expr string, doc any) (any, error) {
	v, err := jmespath.Search(expr, doc)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, &NullResultError{Expression: expr}
	}
	return v, nil
}

// headerDoc returns the headers keyed by lower case name. Every identifier of
// expr that names a header in another casing is added as an extra key, so
// headers."X-Key" and headers."x-key" both match.
func (r *Response) headerDoc(expr string) map[string]any {
	doc := make(map[string]any, len(r.Header()))
	for name, values := range r.Header() {
		doc[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	for _, ident := range identifiers(expr) {
		lower := strings.ToLower(ident)
		if lower == ident {
			continue
		}
		if v, ok := doc[lower]; ok {
			doc[ident] = v
		}
	}
	return doc
}

// identifiers returns the quoted and unquoted identifiers of a JMESPath
// expression. Literals in backticks and raw strings are skipped.
func identifiers(expr string) []string {
	var out []string
	for i := 0; i < len(expr); {
		c := expr[i]
		switch {
		case c == '`' || c == '\'':
			i = skipQuoted(expr, i)
		case c == '"':
			end := skipQuoted(expr, i)
			var s string
			if json.Unmarshal([]byte(expr[i:end]), &s) == nil {
				out = append(out, s)
			}
			i = end
		case isIdentStart(c):
			j := i + 1
			for j < len(expr) && (isIdentStart(expr[j]) || expr[j] >= '0' && expr[j] <= '9') {
				j++
			}
			out = append(out, expr[i:j])
			i = j
		default:
			i++
		}
	}
	return out
}

// skipQuoted returns the index after the closing quote of the string starting
// at i, or len(s) when it is unterminated.
func skipQuoted(s string, i int) int {
	quote := s[i]
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case quote:
			return j + 1
		}
	}
	return len(s)
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
