package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/seek-ret/tests-rtl/pkg/response"
)

func (s *Session) logRequest(log *slog.Logger, req *http.Request, body any) {
	log.Info(fmt.Sprintf("--> %s %s", req.Method, req.URL))
	var text string
	if body != nil {
		text = prettyJSON(body)
	}
	log.Debug("request details", "headers", flatHeaders(req.Header), "body", text)
	if s.echo != nil {
		s.echo.request(req, text)
	}
}

func (s *Session) logResponse(log *slog.Logger, req *http.Request, resp *response.Response) {
	log.Info(fmt.Sprintf("<-- %s from %s %s", resp.Status(), req.Method, req.URL), "status", resp.StatusCode())
	text := responseText(resp)
	log.Debug("response details", "headers", flatHeaders(resp.Header()), "body", text)
	if s.echo != nil {
		s.echo.response(req, resp, text)
	}
}

func responseText(resp *response.Response) string {
	if v, err := resp.Decoded(); err == nil {
		return prettyJSON(v)
	}
	return resp.Text()
}

func prettyJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func flatHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// echo prints exchanges for a human watching the test run. Each request and
// each response is written with a single Write call.
type echo struct {
	mu     sync.Mutex
	w      io.Writer
	out    *color.Color
	in     *color.Color
	failed *color.Color
	dim    *color.Color
}

func newEcho(w io.Writer) *echo {
	return &echo{
		w:      w,
		out:    color.New(color.FgCyan, color.Bold),
		in:     color.New(color.FgGreen, color.Bold),
		failed: color.New(color.FgRed, color.Bold),
		dim:    color.New(color.Faint),
	}
}

func (e *echo) request(req *http.Request, body string) {
	var buf bytes.Buffer
	e.out.Fprintf(&buf, "--> %s %s\n", req.Method, req.URL)
	e.headers(&buf, req.Header)
	e.body(&buf, body)
	e.flush(&buf)
}

func (e *echo) response(req *http.Request, resp *response.Response, body string) {
	c := e.in
	if resp.StatusCode() >= 400 {
		c = e.failed
	}
	var buf bytes.Buffer
	c.Fprintf(&buf, "<-- %s from %s %s\n", resp.Status(), req.Method, req.URL)
	e.headers(&buf, resp.Header())
	e.body(&buf, body)
	e.flush(&buf)
}

func (e *echo) headers(w io.Writer, h http.Header) {
	for _, name := range slices.Sorted(maps.Keys(h)) {
		e.dim.Fprintf(w, "%s: %s\n", name, strings.Join(h[name], ", "))
	}
}

func (e *echo) body(w io.Writer, text string) {
	if text == "" {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, text)
}

func (e *echo) flush(buf *bytes.Buffer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.w.Write(buf.Bytes())
}
