package main

import (
	"github.com/kr/pretty"
	"github.com/spf13/cobra"

	"github.com/seek-ret/tests-rtl/pkg/runprofile"
)

const redacted = "<redacted>"

func (a *app) newProfileCmd() *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Validate and print the run profile",
		Long: `Load and validate the run profile and print it. Auth data values are
redacted unless --reveal is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.loadProfile()
			if err != nil {
				return err
			}
			if !reveal {
				p = redactProfile(p)
			}
			_, err = pretty.Fprintf(cmd.OutOrStdout(), "%# v\n", p)
			return err
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print auth data values")
	return cmd
}

// redactProfile returns a copy of p with every auth data value replaced.
func redactProfile(p *runprofile.RunProfile) *runprofile.RunProfile {
	out := *p
	out.Users = make(map[string]runprofile.User, len(p.Users))
	for name, u := range p.Users {
		data := make(map[string]any, len(u.Auth.Data))
		for k := range u.Auth.Data {
			data[k] = redacted
		}
		u.Auth.Data = data
		out.Users[name] = u
	}
	return &out
}
