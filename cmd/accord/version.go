package main

import (
	"fmt"

	"github.com/spf13/cobra"

	id "accord/pkg/domain"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build and protocol versions",
		Args:  cobra.NoArgs,
		// Skip config loading so version works without a valid environment.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "accord %s (protocol %s)\n", version, id.DefaultProtocolVersion())
		},
	}
}
