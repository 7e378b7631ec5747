package echoserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestReflect(t *testing.T) {
	s := New(Config{}, nil)
	rec := do(t, s, http.MethodPost, "/reflect/a%2Fb?x=1&x=2", `{"k":"v"}`, map[string]string{
		"My-Header": "apikey",
		"Cookie":    "sid=abc",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var got Reflection
	decodeBody(t, rec, &got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/reflect/a%2Fb", got.Path)
	assert.Equal(t, []string{"1", "2"}, got.Query["x"])
	assert.Equal(t, "apikey", got.Headers["My-Header"])
	assert.Equal(t, "abc", got.Cookies["sid"])
	assert.Equal(t, map[string]any{"k": "v"}, got.JSON)
	assert.Empty(t, got.Body)
}

func TestReflectText(t *testing.T) {
	s := New(Config{}, nil)
	var got Reflection
	decodeBody(t, do(t, s, http.MethodPut, "/reflect", "plain words", nil), &got)
	assert.Nil(t, got.JSON)
	assert.Equal(t, "plain words", got.Body)
}

func TestStatusAndText(t *testing.T) {
	s := New(Config{}, nil)
	assert.Equal(t, http.StatusTeapot, do(t, s, http.MethodGet, "/status/418", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/status/abc", "", nil).Code)

	rec := do(t, s, http.MethodGet, "/text", "", nil)
	assert.Equal(t, "hello, world", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestLoginAndMe(t *testing.T) {
	s := New(Config{}, nil)

	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/me", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		do(t, s, http.MethodPost, "/login", `{"username":"ann"}`, nil).Code)

	rec := do(t, s, http.MethodPost, "/login", `{"username":"ann","password":"pw"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var login struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	decodeBody(t, rec, &login)
	assert.Equal(t, "tok_000001", login.Data.Token)
	assert.Equal(t, login.Data.Token, rec.Header().Get(SessionHeader))

	for _, h := range []map[string]string{
		{"Authorization": "Bearer " + login.Data.Token},
		{SessionHeader: login.Data.Token},
	} {
		rec := do(t, s, http.MethodGet, "/me", "", h)
		require.Equal(t, http.StatusOK, rec.Code)
		var me map[string]string
		decodeBody(t, rec, &me)
		assert.Equal(t, "ann", me["user"])
	}

	assert.Equal(t, http.StatusUnauthorized,
		do(t, s, http.MethodGet, "/me", "", map[string]string{"Authorization": "Bearer forged"}).Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.SetBasicAuth("bob", "pw")
	basic := httptest.NewRecorder()
	s.ServeHTTP(basic, req)
	assert.Equal(t, http.StatusOK, basic.Code)
}

func TestUsers(t *testing.T) {
	s := New(Config{}, nil)

	rec := do(t, s, http.MethodPost, "/users", `{"name":"ann","email":"ann@example.com"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var u User
	decodeBody(t, rec, &u)
	assert.Equal(t, "usr_000001", u.ID)
	assert.Equal(t, "/users/usr_000001", rec.Header().Get("Location"))

	assert.Equal(t, http.StatusUnprocessableEntity, do(t, s, http.MethodPost, "/users", `{}`, nil).Code)

	rec = do(t, s, http.MethodGet, "/users/usr_000001", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got User
	decodeBody(t, rec, &got)
	assert.Equal(t, u, got)

	var list struct{ Data []User }
	decodeBody(t, do(t, s, http.MethodGet, "/users", "", nil), &list)
	assert.Len(t, list.Data, 1)

	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, "/users/usr_000001", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/users/usr_000001", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/users/usr_000001", "", nil).Code)
}

func TestRequestLog(t *testing.T) {
	s := New(Config{MaxLoggedRequests: 2}, nil)
	do(t, s, http.MethodGet, "/text", "", nil)
	do(t, s, http.MethodGet, "/status/201", "", nil)
	do(t, s, http.MethodPost, "/reflect/x?q=1", `{"a":1}`, map[string]string{"X-Key": "k"})
	do(t, s, http.MethodGet, "/admin/health", "", nil)

	entries := s.Requests.Entries()
	require.Len(t, entries, 2, "oldest entry evicted, admin calls not logged")
	assert.Equal(t, 201, entries[0].StatusCode)

	last, ok := s.Requests.Last()
	require.True(t, ok)
	assert.Equal(t, "/reflect/x", last.Path)
	assert.Equal(t, "q=1", last.Query)
	assert.Equal(t, "k", last.Headers["X-Key"])
	assert.Equal(t, `{"a":1}`, last.Body)
	assert.NotEmpty(t, last.RequestID)

	var logged []RequestLogEntry
	decodeBody(t, do(t, s, http.MethodGet, "/admin/requests", "", nil), &logged)
	assert.Len(t, logged, 2)

	do(t, s, http.MethodPost, "/admin/reset", "", nil)
	assert.Empty(t, s.Requests.Entries())
}

func TestFaults(t *testing.T) {
	s := New(Config{}, nil)

	rec := do(t, s, http.MethodPost, "/admin/fault/text", `{"status_code":503,"times":1}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/text", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/text", "", nil).Code, "fault fires once")

	do(t, s, http.MethodPost, "/admin/fault/users", `{"status_code":500,"body":"{\"boom\":true}"}`, nil)
	rec = do(t, s, http.MethodGet, "/users", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"boom":true}`, rec.Body.String())
	assert.Len(t, s.Faults.All(), 1)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodDelete, "/admin/fault/users", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/admin/fault/users", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/admin/fault/x", `{"status_code":7}`, nil).Code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := New(Config{}, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/admin/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestAdminClient(t *testing.T) {
	s := New(Config{}, nil)
	ts := httptest.NewServer(s)
	defer ts.Close()
	c := NewAdminClient(ts.URL + "/")
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	resp, err := http.Get(ts.URL + "/text")
	require.NoError(t, err)
	resp.Body.Close()

	entries, err := c.Requests(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/text", entries[0].Path)

	require.NoError(t, c.InjectFault(ctx, "/text", Fault{StatusCode: http.StatusBadGateway}))
	resp, err = http.Get(ts.URL + "/text")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	require.NoError(t, c.RemoveFault(ctx, "text"))
	assert.ErrorContains(t, c.RemoveFault(ctx, "text"), "status 404")

	require.NoError(t, c.Reset(ctx))
	entries, err = c.Requests(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFaultMethodAndHeaders(t *testing.T) {
	s := New(Config{}, nil)
	s.Faults.Set("/users", Fault{
		Method:     http.MethodPost,
		StatusCode: http.StatusTooManyRequests,
		Headers:    map[string]string{"Retry-After": "3"},
		Times:      2,
	})

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/users", "", nil).Code, "other methods pass")
	for range 2 {
		rec := do(t, s, http.MethodPost, "/users", `{"name":"a"}`, nil)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "3", rec.Header().Get("Retry-After"))
	}
	assert.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/users", `{"name":"a"}`, nil).Code)
	assert.Empty(t, s.Faults.All())

	assert.Len(t, s.Requests.Find(http.MethodPost, "/users"), 3)
	assert.Len(t, s.Requests.Find("", "/users"), 4)
}
