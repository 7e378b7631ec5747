package response

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/seek-ret/tests-rtl/pkg/stage"
)

// Save extracts values into a nested variable mapping. Keys of both arguments
// are dotted destinations ("user.id"); header values are header names and body
// values are JMESPath expressions relative to the decoded body.
func (r *Response) Save(headers, body map[string]string) (stage.Vars, error) {
	saved := stage.Vars{}
	for _, dest := range slices.Sorted(maps.Keys(headers)) {
		v, err := r.headerValue(headers[dest])
		if err != nil {
			return nil, fmt.Errorf("saving %s: %w", dest, err)
		}
		saved.SetLeaf(dest, v)
	}
	for _, dest := range slices.Sorted(maps.Keys(body)) {
		v, err := r.SearchBody(body[dest])
		if err != nil {
			return nil, fmt.Errorf("saving %s: %w", dest, err)
		}
		saved.SetLeaf(dest, v)
	}
	return saved, nil
}

// SaveAuthorization extracts a credential and returns it as a header below
// stage.AuthHeadersVar. Type "bearer" produces "Authorization: Bearer <value>",
// type "header" sends the value as is in a.Header (default Authorization).
func (r *Response) SaveAuthorization(a stage.SaveAuthorization) (stage.Vars, error) {
	if (a.JSON == "") == (a.Headers == "") {
		return nil, errors.New("save authorization requires either a json or a headers field")
	}

	var value any
	var err error
	if a.JSON != "" {
		value, err = r.SearchBody(a.JSON)
	} else {
		value, err = r.headerValue(a.Headers)
	}
	if err != nil {
		return nil, fmt.Errorf("save authorization: %w", err)
	}

	name, header := "Authorization", ""
	switch a.Type {
	case "bearer":
		header = fmt.Sprintf("Bearer %v", value)
	case "header":
		if a.Header != "" {
			name = a.Header
		}
		header = fmt.Sprint(value)
	default:
		return nil, fmt.Errorf("save authorization: invalid auth type %q", a.Type)
	}
	return stage.Vars(stage.Leaf(stage.AuthHeadersVar, map[string]any{name: header})), nil
}

func (r *Response) headerValue(name string) (string, error) {
	values := r.Header().Values(name)
	if len(values) == 0 {
		return "", &NullResultError{Expression: name}
	}
	return strings.Join(values, ", "), nil
}
