package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"accord/internal/precedent/bundler"
)

func newImportCommand(root *rootOptions) *cobra.Command {
	var in, format string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Validate an export envelope and store its bundles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := root.wireCodec(format)
			if err != nil {
				return err
			}
			env, err := readDecoded[bundler.ExportEnvelope](cmd, c, in)
			if err != nil {
				return err
			}

			a, err := newApp(ctx, root.cfg, root.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			written, err := a.node.Import(ctx, env)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d bundles\n", written, env.BundleCount)
			return nil
		},
	}

	cmd.Flags().StringVarP(&in, "in", "i", "", "export envelope file, - for stdin")
	cmd.Flags().StringVar(&format, "format", "", "envelope encoding (json|cbor)")
	_ = cmd.MarkFlagRequired("in")

	return cmd
}
