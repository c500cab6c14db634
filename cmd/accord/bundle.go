package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	precedent "accord/internal/precedent/models"
	dErrors "accord/pkg/domain-errors"
)

type bundleOptions struct {
	In     string
	Out    string
	K      int
	Format string
}

func newBundleCommand(root *rootOptions) *cobra.Command {
	opts := &bundleOptions{}

	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Bundle precedents into k-anonymous summaries and export them",
		Long: `Read a JSON array of decided precedents, bundle them under the configured
privacy settings and write the shareable bundles as an export envelope.

Precedents in groups smaller than k never leave this command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBundle(cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.In, "in", "i", "", "precedents JSON file, - for stdin")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "-", "export envelope destination, - for stdout")
	cmd.Flags().IntVar(&opts.K, "k", 0, "minimum bundle size; 0 uses privacy.min_k")
	cmd.Flags().StringVar(&opts.Format, "format", "", "envelope encoding (json|cbor)")
	_ = cmd.MarkFlagRequired("in")

	return cmd
}

func runBundle(cmd *cobra.Command, root *rootOptions, opts *bundleOptions) error {
	ctx := cmd.Context()
	c, err := root.wireCodec(opts.Format)
	if err != nil {
		return err
	}
	raw, err := readInput(cmd, opts.In)
	if err != nil {
		return err
	}
	var precedents []precedent.RawPrecedent
	if err := json.Unmarshal(raw, &precedents); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode precedents")
	}

	a, err := newApp(ctx, root.cfg, root.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	created, err := a.node.IngestPrecedents(ctx, precedents, opts.K)
	if err != nil {
		return err
	}
	env, err := a.node.Export(ctx)
	if err != nil {
		return err
	}
	if err := writeEncoded(cmd, c, opts.Out, env); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "bundled %d precedents into %d bundles, exported %d\n",
		len(precedents), len(created), env.BundleCount)
	return nil
}
