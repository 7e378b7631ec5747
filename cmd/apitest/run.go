package main

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/seek-ret/tests-rtl/pkg/scenario"
	"github.com/seek-ret/tests-rtl/pkg/session"
	"github.com/seek-ret/tests-rtl/pkg/stage"
)

func (a *app) newRunCmd() *cobra.Command {
	var (
		libraries []string
		user      string
	)
	cmd := &cobra.Command{
		Use:   "run <test files...>",
		Short: "Run declarative stage tests",
		Long: `Run declarative stage tests from YAML or JSON files.

Every test runs as its own user, the --user flag, or the run profile's
default_user. Reusable stages are read from --library files and from the
includes of each test. The command exits non-zero when any test fails.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.newSession(cmd)
			if err != nil {
				return err
			}
			shared, err := stage.LoadLibrary(libraries...)
			if err != nil {
				return err
			}
			c := session.NewContext(s, user)

			out := cmd.OutOrStdout()
			var passed, failed int
			for _, file := range args {
				ok := a.runFile(cmd, out, c, shared, file)
				if ok {
					passed++
				} else {
					failed++
				}
			}

			fmt.Fprintln(out)
			fmt.Fprintf(out, "Results: %d passed, %d failed, %d total\n", passed, failed, passed+failed)
			if failed > 0 {
				return errTestsFailed
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&libraries, "library", "l", nil, "file with reusable stages (repeatable)")
	cmd.Flags().StringVarP(&user, "user", "u", "", "default user for tests that do not name one")
	return cmd
}

func (a *app) runFile(cmd *cobra.Command, out io.Writer, c *session.Context, shared stage.Library, file string) bool {
	test, err := stage.LoadTest(file)
	if err != nil {
		fmt.Fprintf(out, "\n  ERROR: %v\n", err)
		return false
	}

	lib, err := stage.LoadLibrary(test.IncludePaths(filepath.Dir(file))...)
	if err == nil {
		err = lib.Merge(shared)
	}
	if err != nil {
		fmt.Fprintf(out, "\n  ERROR: %v\n", err)
		return false
	}

	result, err := scenario.NewRunner(c, lib, scenario.WithLogger(a.logger)).Run(cmd.Context(), test)
	printResult(out, test, result, err)
	return err == nil && result.Passed
}

func printResult(out io.Writer, test *stage.Test, result *scenario.Result, err error) {
	fmt.Fprintf(out, "\n--- %s ---\n", test.Name)
	if test.Description != "" {
		fmt.Fprintf(out, "    %s\n", test.Description)
	}
	fmt.Fprintln(out)

	if err != nil {
		fmt.Fprintf(out, "  ERROR: %v\n", err)
		return
	}

	pass := color.New(color.FgGreen).SprintFunc()
	fail := color.New(color.FgRed).SprintFunc()
	for _, sr := range result.Stages {
		switch {
		case sr.Skipped:
			fmt.Fprintf(out, "  SKIP  %s\n", sr.Name)
		case sr.Passed:
			fmt.Fprintf(out, "  %s  %-50s (%s)\n", pass("PASS"), sr.Name, sr.Duration.Round(time.Millisecond))
		default:
			fmt.Fprintf(out, "  %s  %-50s (%s)\n", fail("FAIL"), sr.Name, sr.Duration.Round(time.Millisecond))
			fmt.Fprintf(out, "        %s\n", sr.Error)
		}
	}

	label := pass("PASSED")
	if !result.Passed {
		label = fail("FAILED")
	}
	fmt.Fprintf(out, "\n  Test: %s as %s (%s)\n", label, userLabel(result.User), result.Duration.Round(time.Millisecond))
}

func userLabel(user string) string {
	if user == "" {
		return "anonymous"
	}
	return user
}
