package main

import (
	"github.com/spf13/cobra"

	"github.com/seek-ret/tests-rtl/pkg/echoserver"
)

func (a *app) newServeEchoCmd() *cobra.Command {
	var (
		addr        string
		maxRequests int
	)
	cmd := &cobra.Command{
		Use:   "serve-echo",
		Short: "Run the echo target server",
		Long: `Run a local HTTP target for trying out tests and run profiles. It reflects
requests under /reflect, issues session tokens on POST /login, serves a users
resource and exposes /admin endpoints for inspecting requests and injecting
faults.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := a.logger.With("component", "echo")
			srv := echoserver.New(echoserver.Config{Addr: addr, MaxLoggedRequests: maxRequests}, logger)
			cmd.Printf("echo server listening on %s\n", addr)
			return srv.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().IntVar(&maxRequests, "max-requests", 1000, "number of requests kept for /admin/requests")
	return cmd
}
