package scenario

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seek-ret/tests-rtl/pkg/auth"
	"github.com/seek-ret/tests-rtl/pkg/echoserver"
	"github.com/seek-ret/tests-rtl/pkg/response"
	"github.com/seek-ret/tests-rtl/pkg/runprofile"
	"github.com/seek-ret/tests-rtl/pkg/session"
	"github.com/seek-ret/tests-rtl/pkg/stage"
)

func newRunner(t *testing.T, defaultUser string, lib stage.Library) (*Runner, *echoserver.Server) {
	t.Helper()
	srv := echoserver.New(echoserver.Config{}, nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	p := &runprofile.RunProfile{
		TargetServer: ts.URL,
		Users: map[string]runprofile.User{
			"ann":   {Auth: runprofile.UserAuth{Type: "custom-request"}},
			"keyed": {Auth: runprofile.UserAuth{Type: "header", Data: map[string]any{"X-Api-Key": "k1"}}},
		},
	}
	require.NoError(t, p.Validate())
	s, err := session.New(p)
	require.NoError(t, err)
	return NewRunner(session.NewContext(s, defaultUser), lib), srv
}

func loginLibrary(t *testing.T) stage.Library {
	t.Helper()
	lib := stage.Library{}
	require.NoError(t, lib.Add(stage.Stage{
		ID: "auth",
		Request: stage.Request{
			Method: http.MethodPost,
			Path:   "/login",
			JSON:   map[string]any{"username": "{{username}}", "password": "pw"},
		},
		Response: stage.Expect{Status: http.StatusOK},
		Save: stage.Save{
			Authorization: &stage.SaveAuthorization{Type: "bearer", JSON: "data.token"},
		},
	}))
	return lib
}

func TestRunCustomRequestLogin(t *testing.T) {
	r, srv := newRunner(t, "", loginLibrary(t))
	test := &stage.Test{
		Name:      "me",
		User:      "ann",
		Variables: stage.Vars{"username": "ann"},
		Stages: []stage.Stage{{
			Name:     "who am i",
			Request:  stage.Request{Method: http.MethodGet, Path: "/me"},
			Response: stage.Expect{Status: http.StatusOK, JSON: map[string]any{"user": "ann"}},
		}},
	}

	res, err := r.Run(context.Background(), test)
	require.NoError(t, err)
	require.True(t, res.Passed, res.FirstError())
	require.Len(t, res.Stages, 2)
	assert.Equal(t, "auth", res.Stages[0].Name)
	assert.Equal(t, "who am i", res.Stages[1].Name)
	assert.Equal(t, "ann", res.User)

	last, ok := srv.Requests.Last()
	require.True(t, ok)
	assert.Equal(t, "Bearer tok_000001", last.Headers["Authorization"])
	assert.Len(t, test.Stages, 1, "the caller's test is not modified")
}

// presetHeaders saves fixed auth headers into the test variables.
type presetHeaders struct{ headers map[string]any }

func (p presetHeaders) PrepareTest(_ *stage.Test, vars stage.Vars) error {
	for name, value := range p.headers {
		vars.SetLeaf(stage.AuthHeadersVar+"."+name, value)
	}
	return nil
}

func TestRunPreparerSetsVariablesOnTestWithoutVariables(t *testing.T) {
	srv := echoserver.New(echoserver.Config{}, nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	reg := auth.NewRegistry()
	reg.MustRegister("preset", func(data auth.Data) (auth.Handler, error) {
		return presetHeaders{headers: data}, nil
	})
	p := &runprofile.RunProfile{
		TargetServer: ts.URL,
		Users: map[string]runprofile.User{
			"preset": {Auth: runprofile.UserAuth{Type: "preset", Data: map[string]any{"X-Key": "secret"}}},
		},
	}
	require.NoError(t, p.Validate())
	s, err := session.New(p, session.WithRegistry(reg))
	require.NoError(t, err)
	r := NewRunner(session.NewContext(s, ""), nil)

	test := &stage.Test{
		Name: "preset headers",
		User: "preset",
		Stages: []stage.Stage{{
			Request:  stage.Request{Method: http.MethodGet, Path: "/reflect/a"},
			Response: stage.Expect{Status: http.StatusOK},
		}},
	}
	res, err := r.Run(context.Background(), test)
	require.NoError(t, err)
	require.True(t, res.Passed, res.FirstError())
	assert.Nil(t, test.Variables)

	last, ok := srv.Requests.Last()
	require.True(t, ok)
	assert.Equal(t, "secret", last.Headers["X-Key"])
}

func TestRunUsesContextDefaultUser(t *testing.T) {
	r, _ := newRunner(t, "keyed", nil)
	res, err := r.Run(context.Background(), &stage.Test{
		Name: "reflect",
		Stages: []stage.Stage{{
			Request: stage.Request{Method: http.MethodGet, Path: "/reflect"},
			Response: stage.Expect{JSON: map[string]any{
				`headers."X-Api-Key"`: "k1",
			}},
		}},
	})
	require.NoError(t, err)
	assert.True(t, res.Passed, res.FirstError())
	assert.Equal(t, "keyed", res.User)
}

func TestRunSaveAndTemplates(t *testing.T) {
	r, _ := newRunner(t, "", nil)
	test := &stage.Test{
		Name: "users",
		Stages: []stage.Stage{
			{
				Name:     "create",
				Request:  stage.Request{Method: http.MethodPost, Path: "/users", JSON: map[string]any{"name": "bob"}},
				Response: stage.Expect{Status: http.StatusCreated, Headers: map[string]string{"location": "/users/usr_000001"}},
				Save: stage.Save{
					JSON:    map[string]string{"user.id": "id"},
					Headers: map[string]string{"user.location": "LOCATION"},
				},
			},
			{
				Name: "fetch {{user.id}}",
				Request: stage.Request{
					Method:     http.MethodGet,
					Path:       "/users/{id}",
					PathParams: map[string]any{"id": "{{user.id}}"},
				},
				Response: stage.Expect{
					Status: http.StatusOK,
					JSON: map[string]any{
						"name": "bob",
						"id":   map[string]any{"regex": "^usr_", "exists": true},
					},
					Schema: "type: map\nmapping:\n  id: {type: str, required: true}\n  name: {type: str}\n  email: {type: str}\n",
				},
			},
			{
				Name:     "by location",
				Request:  stage.Request{Method: http.MethodGet, Path: "{{user.location}}"},
				Response: stage.Expect{JSON: map[string]any{"id": "{{user.id}}"}},
			},
			{
				Name:     "list",
				Request:  stage.Request{Method: http.MethodGet, Path: "/users"},
				Response: stage.Expect{JSON: map[string]any{"data": map[string]any{"len": 1}}},
			},
		},
	}

	res, err := r.Run(context.Background(), test)
	require.NoError(t, err)
	require.True(t, res.Passed, res.FirstError())
	assert.Equal(t, "fetch usr_000001", res.Stages[1].Name)
	assert.Equal(t, http.StatusOK, res.Stages[1].Status)
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	r, srv := newRunner(t, "", nil)
	res, err := r.Run(context.Background(), &stage.Test{
		Name: "failing",
		Stages: []stage.Stage{
			{Name: "missing", Request: stage.Request{Method: http.MethodGet, Path: "/status/404"}, Response: stage.Expect{Status: 200}},
			{Name: "never", Request: stage.Request{Method: http.MethodGet, Path: "/text"}},
		},
	})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	require.Len(t, res.Stages, 2)
	assert.Equal(t, "expected status 200, got 404", res.Stages[0].Error)
	assert.True(t, res.Stages[1].Skipped)
	assert.Equal(t, "missing: expected status 200, got 404", res.FirstError())
	assert.Len(t, srv.Requests.Entries(), 1)
}

func TestRunAnonymousStageDropsSavedAuthorization(t *testing.T) {
	r, _ := newRunner(t, "", loginLibrary(t))
	res, err := r.Run(context.Background(), &stage.Test{
		Name:      "anonymous",
		User:      "ann",
		Variables: stage.Vars{"username": "ann"},
		Stages: []stage.Stage{{
			Request:  stage.Request{Method: http.MethodGet, Path: "/me", Anonymous: true},
			Response: stage.Expect{Status: http.StatusUnauthorized},
		}},
	})
	require.NoError(t, err)
	assert.True(t, res.Passed, res.FirstError())
}

func TestRunErrors(t *testing.T) {
	r, _ := newRunner(t, "", nil)

	_, err := r.Run(context.Background(), &stage.Test{
		Name:   "ref",
		Stages: []stage.Stage{{Type: stage.TypeRef, ID: "nope"}},
	})
	require.ErrorIs(t, err, stage.ErrUnknownStage)

	_, err = r.Run(context.Background(), &stage.Test{
		Name:   "user",
		User:   "nobody",
		Stages: []stage.Stage{{Request: stage.Request{Method: http.MethodGet, Path: "/text"}}},
	})
	require.ErrorIs(t, err, runprofile.ErrUnknownUser)

	// ann inserts a reference to the missing "auth" stage
	_, err = r.Run(context.Background(), &stage.Test{
		Name:   "no library",
		User:   "ann",
		Stages: []stage.Stage{{Request: stage.Request{Method: http.MethodGet, Path: "/text"}}},
	})
	require.ErrorIs(t, err, stage.ErrUnknownStage)
}

func TestRunUndefinedVariableFailsStage(t *testing.T) {
	r, _ := newRunner(t, "", nil)
	res, err := r.Run(context.Background(), &stage.Test{
		Name:   "vars",
		Stages: []stage.Stage{{Request: stage.Request{Method: http.MethodGet, Path: "/users/{{missing}}"}}},
	})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Stages[0].Error, "missing")
}

func TestRunLoadedTest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reflect.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: reflect query
stages:
  - name: echo
    request:
      method: GET
      path: /reflect/{kind}
      path_params:
        kind: a/b
      query:
        tag: [x, y]
        page: 2
    response:
      status: 200
      json:
        path: /reflect/a%2Fb
        query.tag: [x, y]
        query.page[0]: "2"
`), 0o644))

	test, err := stage.LoadTest(path)
	require.NoError(t, err)

	r, _ := newRunner(t, "", nil)
	res, err := r.Run(context.Background(), test)
	require.NoError(t, err)
	assert.True(t, res.Passed, res.FirstError())
}

func jsonResponse(t *testing.T, body string) *response.Response {
	t.Helper()
	resp, err := response.New(&http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"application/json"}, "X-Trace": {"abc"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	})
	require.NoError(t, err)
	return resp
}

func TestCheckJSON(t *testing.T) {
	resp := jsonResponse(t, `{"count": 3, "name": "widget", "tags": ["a", "b"], "meta": {"x": 1}, "none": null}`)

	tests := []struct {
		expr     string
		expected any
		wantErr  string
	}{
		{"count", 3, ""},
		{"count", 3.0, ""},
		{"count", "3", "expected 3"},
		{"name", "widget", ""},
		{"tags", []any{"a", "b"}, ""},
		{"meta", map[string]any{"x": 1}, ""},
		{"count", map[string]any{"gte": 1, "lte": 3}, ""},
		{"count", map[string]any{"gte": 4}, "expected >= 4"},
		{"count", map[string]any{"ne": 4}, ""},
		{"tags", map[string]any{"contains": "b"}, ""},
		{"tags", map[string]any{"contains": "z"}, "to contain"},
		{"name", map[string]any{"contains": "dg"}, ""},
		{"name", map[string]any{"regex": "^wid"}, ""},
		{"name", map[string]any{"regex": "^x"}, "does not match"},
		{"tags", map[string]any{"len": 2}, ""},
		{"missing", map[string]any{"exists": false}, ""},
		{"none", map[string]any{"exists": false}, ""},
		{"name", map[string]any{"exists": false}, "expected not to exist"},
		{"missing", map[string]any{"exists": true}, "expected to exist"},
		{"missing", "x", "no match found"},
		{"missing", map[string]any{"eq": 1}, "no match found"},
		{"[", 1, "search \"[\""},
	}
	for _, tt := range tests {
		err := checkJSON(resp, tt.expr, tt.expected)
		if tt.wantErr == "" {
			assert.NoError(t, err, "%s %v", tt.expr, tt.expected)
			continue
		}
		if assert.Error(t, err, "%s %v", tt.expr, tt.expected) {
			assert.Contains(t, err.Error(), tt.wantErr)
		}
	}
}

func TestCheckExpectHeadersAndSchema(t *testing.T) {
	resp := jsonResponse(t, `{"id": 1}`)

	assert.NoError(t, checkExpect(stage.Expect{Status: 200, Headers: map[string]string{"x-trace": "abc"}}, resp))
	assert.ErrorContains(t, checkExpect(stage.Expect{Headers: map[string]string{"X-Trace": "def"}}, resp), `header "X-Trace"`)

	err := checkExpect(stage.Expect{Schema: "type: map\nmapping:\n  id: {type: str}\n"}, resp)
	assert.ErrorIs(t, err, response.ErrSchemaValidationFailed)
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, valuesEqual(float64(1), 1))
	assert.True(t, valuesEqual(nil, nil))
	assert.True(t, valuesEqual(true, true))
	assert.False(t, valuesEqual(true, "true"))
	assert.False(t, valuesEqual("1", 1))
	assert.False(t, valuesEqual(nil, "null"))
	assert.False(t, valuesEqual([]any{1.0}, []any{1.0, 2.0}))
	assert.False(t, valuesEqual(map[string]any{"a": 1.0}, map[string]any{"b": 1.0}))
}

func TestQueryValues(t *testing.T) {
	q, err := queryValues(map[string]any{"a": []any{"x", 2}, "b": true, "c": nil})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "2"}, q["a"])
	assert.Equal(t, "true", q.Get("b"))
	assert.True(t, q.Has("c"))

	_, err = queryValues(map[string]any{"a": map[string]any{"b": 1}})
	assert.Error(t, err)

	q, err = queryValues(nil)
	require.NoError(t, err)
	assert.Nil(t, q)
}
