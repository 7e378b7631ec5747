package echoserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// AdminClient talks to the /admin endpoints of a running echo server.
type AdminClient struct {
	base string
	http *http.Client
}

// NewAdminClient creates an AdminClient for the server at baseURL with a
// 5-second timeout.
func NewAdminClient(baseURL string) *AdminClient {
	return &AdminClient{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

// Health checks GET /admin/health.
func (c *AdminClient) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/admin/health", nil, nil)
}

// Reset calls POST /admin/reset.
func (c *AdminClient) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/admin/reset", nil, nil)
}

// Requests returns the logged requests, oldest first.
func (c *AdminClient) Requests(ctx context.Context) ([]RequestLogEntry, error) {
	var entries []RequestLogEntry
	if err := c.do(ctx, http.MethodGet, "/admin/requests", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// InjectFault makes requests to path fail with f.
func (c *AdminClient) InjectFault(ctx context.Context, path string, f Fault) error {
	return c.do(ctx, http.MethodPost, "/admin/fault/"+strings.TrimPrefix(path, "/"), f, nil)
}

// RemoveFault removes the fault registered for path.
func (c *AdminClient) RemoveFault(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, "/admin/fault/"+strings.TrimPrefix(path, "/"), nil, nil)
}

func (c *AdminClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s returned status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}
