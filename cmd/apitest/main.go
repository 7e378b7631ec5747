// apitest runs API tests and single requests against the target server of a run
// profile.
//
// Usage:
//
//	apitest run <test files...>        Run declarative stage tests
//	apitest request METHOD PATH        Send one request as a profile user
//	apitest profile                    Validate and print the run profile
//	apitest serve-echo                 Run the echo target server
//	apitest version                    Print the version
//
// The run profile is read from --run-profile, APITEST_RUN_PROFILE or
// run-profile.yaml.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/seek-ret/tests-rtl/pkg/runprofile"
	"github.com/seek-ret/tests-rtl/pkg/session"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

var errTestsFailed = errors.New("tests failed")

// app carries the configuration shared by all subcommands.
type app struct {
	v      *viper.Viper
	logger *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	a.v.SetEnvPrefix("APITEST")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "apitest",
		Short: "Run API tests against the target server of a run profile",
		Long: `apitest sends authorized requests to the target server of a run profile
and runs declarative stage tests against it.

Users and their authorization methods are defined in the run profile.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), a.v.GetString("log-format"), a.v.GetBool("verbose"))
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.String("run-profile", runprofile.DefaultFile, "run profile path (env APITEST_RUN_PROFILE)")
	flags.BoolP("verbose", "v", false, "log request and response details")
	flags.String("log-format", "text", "log format: text or json")
	for _, name := range []string{"run-profile", "verbose", "log-format"} {
		_ = a.v.BindPFlag(name, flags.Lookup(name))
	}

	root.AddCommand(
		a.newRunCmd(),
		a.newRequestCmd(),
		a.newProfileCmd(),
		a.newServeEchoCmd(),
		newVersionCmd(),
	)
	return root
}

// newLogger builds the slog handler selected by --log-format. Verbose output
// includes request and response details.
func newLogger(w io.Writer, format string, verbose bool) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: slog.LevelWarn}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	switch format {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q (want text or json)", format)
	}
}

func (a *app) loadProfile() (*runprofile.RunProfile, error) {
	return runprofile.Load(a.v.GetString("run-profile"))
}

func (a *app) newSession(cmd *cobra.Command) (*session.Session, error) {
	p, err := a.loadProfile()
	if err != nil {
		return nil, err
	}
	opts := []session.Option{session.WithLogger(a.logger)}
	if a.v.GetBool("verbose") {
		opts = append(opts, session.WithEcho(cmd.ErrOrStderr()))
	}
	return session.New(p, opts...)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "apitest %s\n", version)
		},
	}
}
