package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/seek-ret/tests-rtl/pkg/response"
	"github.com/seek-ret/tests-rtl/pkg/session"
)

func (a *app) newRequestCmd() *cobra.Command {
	var (
		user     string
		params   []string
		query    []string
		headers  []string
		jsonBody string
		search   string
	)
	cmd := &cobra.Command{
		Use:   "request METHOD PATH",
		Short: "Send one request as a run profile user",
		Example: `  apitest request GET /users/{id} --user admin --param id=42
  apitest request POST /users --json '{"name":"ann"}' --search id
  apitest request GET /items --query page=2 --search 'headers."x-total-count"'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.newSession(cmd)
			if err != nil {
				return err
			}
			req := session.Request{
				Method:  strings.ToUpper(args[0]),
				Path:    args[1],
				Query:   url.Values{},
				Headers: http.Header{},
			}

			pathParams, err := parsePairs("--param", params)
			if err != nil {
				return err
			}
			if len(pathParams) > 0 {
				req.PathParams = make(map[string]any, len(pathParams))
				for _, p := range pathParams {
					req.PathParams[p[0]] = p[1]
				}
			}
			queryPairs, err := parsePairs("--query", query)
			if err != nil {
				return err
			}
			for _, p := range queryPairs {
				req.Query.Add(p[0], p[1])
			}
			headerPairs, err := parsePairs("--header", headers)
			if err != nil {
				return err
			}
			for _, p := range headerPairs {
				req.Headers.Add(p[0], p[1])
			}
			if jsonBody != "" {
				if err := json.Unmarshal([]byte(jsonBody), &req.JSON); err != nil {
					return fmt.Errorf("--json: %w", err)
				}
			}

			c := session.NewContext(s, user)
			resp, err := c.Request(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp, search)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&user, "user", "u", "", "run profile user (default: the profile's default_user)")
	f.StringArrayVarP(&params, "param", "p", nil, "path parameter name=value (repeatable)")
	f.StringArrayVarP(&query, "query", "q", nil, "query parameter name=value (repeatable)")
	f.StringArrayVarP(&headers, "header", "H", nil, "request header name=value (repeatable)")
	f.StringVar(&jsonBody, "json", "", "JSON request body")
	f.StringVarP(&search, "search", "s", "", `JMESPath expression over {"json": body, "headers": {...}}; bare expressions apply to the body`)
	return cmd
}

// parsePairs splits name=value arguments.
func parsePairs(flag string, values []string) ([][2]string, error) {
	pairs := make([][2]string, 0, len(values))
	for _, v := range values {
		name, value, ok := strings.Cut(v, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%s %q: expected name=value", flag, v)
		}
		pairs = append(pairs, [2]string{name, value})
	}
	return pairs, nil
}

// printResponse writes the status line and either the search result or the body.
func printResponse(w io.Writer, resp *response.Response, expr string) error {
	fmt.Fprintln(w, resp.Status())
	if expr == "" {
		if v, err := resp.Decoded(); err == nil {
			return writeJSON(w, v)
		}
		if text := resp.Text(); text != "" {
			fmt.Fprintln(w, text)
		}
		return nil
	}

	var (
		v   any
		err error
	)
	if strings.HasPrefix(expr, "json.") || strings.HasPrefix(expr, "headers.") {
		v, err = resp.Search(expr)
	} else {
		v, err = resp.SearchBody(expr)
	}
	if err != nil {
		return err
	}
	return writeJSON(w, v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
