// version.go implements `stackd version`.
package main

import (
	"fmt"

	"github.com/example/stackd/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "stackd %s\n", info.Version)
			fmt.Fprintf(out, "commit: %s\n", info.GitCommit)
			fmt.Fprintf(out, "built:  %s\n", info.BuildDate)
			fmt.Fprintf(out, "go:     %s (%s)\n", info.GoVersion, info.Platform)
			return nil
		},
	}
}
