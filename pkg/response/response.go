// Package response wraps a completed HTTP response for test assertions:
// accessors for status, headers and body, JMESPath search over the body and
// headers, structural schema assertions and extraction of values into test
// variables.
package response

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/seek-ret/tests-rtl/pkg/schema"
)

// ErrSchemaValidationFailed is wrapped by AssertSchema when the body does not
// conform to the schema.
var ErrSchemaValidationFailed = errors.New("response schema verification error")

// Response is a fully read HTTP response.
type Response struct {
	raw  *http.Response
	body []byte

	decodeOnce sync.Once
	decoded    any
	decodeErr  error
}

// New reads and closes the body of resp.
func New(resp *http.Response) (*Response, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return &Response{raw: resp, body: body}, nil
}

// Raw returns the underlying response. Its body is a fresh reader over the
// already read bytes.
func (r *Response) Raw() *http.Response { return r.raw }

// StatusCode returns the numeric status code.
func (r *Response) StatusCode() int { return r.raw.StatusCode }

// Status returns the status line, e.g. "200 OK".
func (r *Response) Status() string { return r.raw.Status }

// Header returns the response headers.
func (r *Response) Header() http.Header { return r.raw.Header }

// URL returns the URL of the request that produced the response.
func (r *Response) URL() *url.URL {
	if r.raw.Request == nil {
		return nil
	}
	return r.raw.Request.URL
}

// Body returns the raw body bytes.
func (r *Response) Body() []byte { return r.body }

// Text returns the body as a string.
func (r *Response) Text() string { return string(r.body) }

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.body, v); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

// Decoded returns the body decoded as generic JSON.
func (r *Response) Decoded() (any, error) {
	r.decodeOnce.Do(func() {
		r.decodeErr = r.JSON(&r.decoded)
	})
	return r.decoded, r.decodeErr
}

// numberDecoded decodes the body like Decoded but with numbers as json.Number.
func (r *Response) numberDecoded() (any, error) {
	dec := json.NewDecoder(bytes.NewReader(r.body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding response body: %w", err)
	}
	return v, nil
}

// IsJSON reports whether the body is valid JSON.
func (r *Response) IsJSON() bool {
	_, err := r.Decoded()
	return err == nil
}

// AssertSchema validates the JSON body against a schema. Decoding and schema
// compilation errors are returned as is; mismatches wrap
// ErrSchemaValidationFailed and a *schema.ValidationError. Numbers keep their
// literal form, so 1.0 does not match an int rule.
func (r *Response) AssertSchema(src string) error {
	if _, err := r.Decoded(); err != nil {
		return err
	}
	doc, err := r.numberDecoded()
	if err != nil {
		return err
	}
	s, err := schema.Compile(src)
	if err != nil {
		return err
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrSchemaValidationFailed, err)
	}
	return nil
}
