package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"accord/internal/federation/models"
	"accord/internal/ops/client"
	id "accord/pkg/domain"
)

// Pending conflicts live in the serving node, so resolve and status talk to
// it over HTTP.
func newResolveCommand(root *rootOptions) *cobra.Command {
	var addr, strategy string

	cmd := &cobra.Command{
		Use:   "resolve <bundle-id>",
		Short: "Resolve a pending conflict on a running node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bundleID, err := id.ParseBundleID(args[0])
			if err != nil {
				return err
			}
			s, err := models.ParseResolutionStrategy(strategy)
			if err != nil {
				return err
			}
			c, err := client.New(addr, id.NodeID(root.cfg.NodeID))
			if err != nil {
				return err
			}
			resolved, err := c.Resolve(cmd.Context(), bundleID, s)
			if err != nil {
				return err
			}
			return printJSON(cmd, resolved)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "base URL of the node")
	cmd.Flags().StringVarP(&strategy, "strategy", "s", string(models.DefaultResolutionStrategy), "keep_local, keep_remote or merge")

	return cmd
}

func newStatusCommand(root *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a running node's counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.New(addr, id.NodeID(root.cfg.NodeID))
			if err != nil {
				return err
			}
			status, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, status)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "base URL of the node")

	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
