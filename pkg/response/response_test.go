package response

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seek-ret/tests-rtl/pkg/schema"
	"github.com/seek-ret/tests-rtl/pkg/stage"
)

func makeResponse(t *testing.T, body string, headers map[string]string) *Response {
	t.Helper()
	h := make(http.Header)
	for k, v := range headers {
		h.Set(k, v)
	}
	req, err := http.NewRequest(http.MethodGet, "http://example.com/items?x=1", nil)
	require.NoError(t, err)
	r, err := New(&http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	})
	require.NoError(t, err)
	return r
}

func assertNullResult(t *testing.T, err error, expr string) {
	t.Helper()
	var nerr *NullResultError
	require.True(t, errors.As(err, &nerr), "expected NullResultError, got %v", err)
	assert.Equal(t, expr, nerr.Expression)
}

func TestAccessors(t *testing.T) {
	r := makeResponse(t, `{"a":1}`, map[string]string{"X-Key": "v"})
	assert.Equal(t, 200, r.StatusCode())
	assert.Equal(t, "200 OK", r.Status())
	assert.Equal(t, "v", r.Header().Get("x-key"))
	assert.Equal(t, "/items", r.URL().Path)
	assert.Equal(t, `{"a":1}`, r.Text())
	assert.True(t, r.IsJSON())

	var v struct{ A int }
	require.NoError(t, r.JSON(&v))
	assert.Equal(t, 1, v.A)

	raw, err := io.ReadAll(r.Raw().Body)
	require.NoError(t, err)
	assert.Equal(t, r.Body(), raw)
}

func TestSearchJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
		expr string
		want any
	}{
		{"nested value", `{"a":{"b":{"c":"d"}}}`, "json.a.b", map[string]any{"c": "d"}},
		{"array value", `[1,"b",{"c":"d"}]`, "json[2].c", "d"},
		{"quoted key", `{"some-key":1}`, `json."some-key"`, float64(1)},
		{"projection", `{"items":[{"id":1},{"id":2}]}`, "json.items[*].id", []any{float64(1), float64(2)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := makeResponse(t, tt.body, nil).Search(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSearchNullResult(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		headers map[string]string
		expr    string
	}{
		{"missing key", `{"some-key":1}`, nil, `json."other-key"`},
		{"case sensitive body", `{"caseSensitiveKey":1}`, nil, "json.casesensitivekey"},
		{"not json", `<html></html>`, nil, "json.a"},
		{"empty body", ``, nil, "json"},
		{"missing header", `{}`, map[string]string{"Some-Header": "value"}, `headers."other-header"`},
		{"bad locator", `{"a":1}`, map[string]string{"b": "2"}, "expression.must.start.with.json.or.headers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := makeResponse(t, tt.body, tt.headers).Search(tt.expr)
			assertNullResult(t, err, tt.expr)
		})
	}
}

func TestSearchHeadersCaseInsensitive(t *testing.T) {
	r := makeResponse(t, "", map[string]string{"Some-Header": "value", "X-Key": "k"})
	for _, expr := range []string{
		`headers."Some-Header"`,
		`headers."some-header"`,
		`headers."SOME-HEADER"`,
	} {
		got, err := r.Search(expr)
		require.NoError(t, err, expr)
		assert.Equal(t, "value", got, expr)
	}

	got, err := r.Search(`headers."x-key"`)
	require.NoError(t, err)
	assert.Equal(t, "k", got)
}

func TestSearchHeadersIdentifier(t *testing.T) {
	r := makeResponse(t, "", map[string]string{"Etag": "abc"})
	got, err := r.Search("headers.ETag")
	require.NoError(t, err)
	assert.Equal(t, "abc", got)
}

func TestSearchMultiValueHeader(t *testing.T) {
	r := makeResponse(t, "", nil)
	r.Header().Add("Vary", "Accept")
	r.Header().Add("Vary", "Origin")
	got, err := r.Search(`headers.vary`)
	require.NoError(t, err)
	assert.Equal(t, "Accept, Origin", got)
}

func TestSearchSyntaxError(t *testing.T) {
	_, err := makeResponse(t, `{}`, nil).Search("json.[")
	require.Error(t, err)
	var nerr *NullResultError
	assert.False(t, errors.As(err, &nerr))
}

func TestIdentifiers(t *testing.T) {
	got := identifiers("headers.\"X-Key\" || json.a[?b == `\"Lit\"`] || 'Raw'")
	assert.Equal(t, []string{"headers", "X-Key", "json", "a", "b"}, got)
}

const abSchema = `
type: map
mapping:
  a:
    type: str
    required: true
  b:
    type: int
`

func TestAssertSchema(t *testing.T) {
	require.NoError(t, makeResponse(t, `{"a":"hello!","b":1}`, nil).AssertSchema(abSchema))

	err := makeResponse(t, `{"b":1}`, nil).AssertSchema(abSchema)
	require.True(t, errors.Is(err, ErrSchemaValidationFailed))
	var verr *schema.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"/a: required key is missing"}, verr.Problems)

	err = makeResponse(t, `{"a":"x","b":"one"}`, nil).AssertSchema(abSchema)
	assert.True(t, errors.Is(err, ErrSchemaValidationFailed))
}

func TestAssertSchemaNullBody(t *testing.T) {
	err := makeResponse(t, "null", nil).AssertSchema(abSchema)
	require.True(t, errors.Is(err, ErrSchemaValidationFailed), "got %v", err)
	assert.ErrorContains(t, err, "/: expected map, got null")

	assert.NoError(t, makeResponse(t, "null", nil).AssertSchema("type: any"))
}

func TestAssertSchemaIntLiteral(t *testing.T) {
	err := makeResponse(t, `{"a":"x","b":1.0}`, nil).AssertSchema(abSchema)
	require.True(t, errors.Is(err, ErrSchemaValidationFailed), "got %v", err)
	var verr *schema.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"/b: expected int, got float"}, verr.Problems)

	r := makeResponse(t, `{"a":"x","b":12345678901234567890}`, nil)
	require.NoError(t, r.AssertSchema(abSchema))
	found, err := r.SearchBody("b")
	require.NoError(t, err)
	assert.IsType(t, float64(0), found)
}

func TestAssertSchemaNotJSON(t *testing.T) {
	err := makeResponse(t, `plain`, nil).AssertSchema(abSchema)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSchemaValidationFailed))
}

func TestSave(t *testing.T) {
	r := makeResponse(t, `{"id":7,"profile":{"name":"ann"}}`, map[string]string{"X-Request-Id": "rid"})
	saved, err := r.Save(
		map[string]string{"meta.request": "x-request-id"},
		map[string]string{"user.id": "id", "user.name": "profile.name"},
	)
	require.NoError(t, err)
	assert.Equal(t, stage.Vars{
		"meta": map[string]any{"request": "rid"},
		"user": map[string]any{"id": float64(7), "name": "ann"},
	}, saved)

	_, err = r.Save(nil, map[string]string{"x": "missing"})
	assertNullResult(t, err, "missing")
	_, err = r.Save(map[string]string{"x": "X-Missing"}, nil)
	assertNullResult(t, err, "X-Missing")
}

func TestSaveAuthorization(t *testing.T) {
	r := makeResponse(t, `{"data":{"token":"tok"}}`, map[string]string{"X-Session": "sess"})

	tests := []struct {
		name string
		in   stage.SaveAuthorization
		key  string
		want string
	}{
		{"bearer from body", stage.SaveAuthorization{Type: "bearer", JSON: "data.token"}, "Authorization", "Bearer tok"},
		{"header from header", stage.SaveAuthorization{Type: "header", Headers: "x-session", Header: "X-Session"}, "X-Session", "sess"},
		{"header default name", stage.SaveAuthorization{Type: "header", JSON: "data.token"}, "Authorization", "tok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saved, err := r.SaveAuthorization(tt.in)
			require.NoError(t, err)
			assert.Equal(t, map[string]string{tt.key: tt.want}, saved.AuthHeaders())
		})
	}

	_, err := r.SaveAuthorization(stage.SaveAuthorization{Type: "bearer"})
	assert.Error(t, err)
	_, err = r.SaveAuthorization(stage.SaveAuthorization{Type: "bearer", JSON: "a", Headers: "b"})
	assert.Error(t, err)
	_, err = r.SaveAuthorization(stage.SaveAuthorization{Type: "digest", JSON: "data.token"})
	assert.Error(t, err)
}
