package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"accord/internal/federation/models"
	"accord/internal/ops/client"
	id "accord/pkg/domain"
)

func newRequestCommand(root *rootOptions) *cobra.Command {
	var target, out, format string

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Build a sync request offering this node's shareable bundles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			targetNode, err := id.ParseNodeID(target)
			if err != nil {
				return err
			}
			c, err := root.wireCodec(format)
			if err != nil {
				return err
			}

			a, err := newApp(ctx, root.cfg, root.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			req, err := a.node.PrepareSync(ctx, targetNode)
			if err != nil {
				return err
			}
			return writeEncoded(cmd, c, out, req)
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "node the request is addressed to")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "request destination, - for stdout")
	cmd.Flags().StringVar(&format, "format", "", "request encoding (json|cbor)")
	_ = cmd.MarkFlagRequired("target")

	return cmd
}

type syncOptions struct {
	Request string
	Out     string
	Peer    string
	Format  string
}

func newSyncCommand(root *rootOptions) *cobra.Command {
	opts := &syncOptions{}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Process a sync request locally or deliver it to a peer",
		Long: `Without --peer the request is processed by this node, as if a peer had
sent it. With --peer the request is posted to that node's /sync endpoint.
Either way the sync response is written to --out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Request, "request", "r", "", "sync request file, - for stdin")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "-", "response destination, - for stdout")
	cmd.Flags().StringVar(&opts.Peer, "peer", "", "base URL of the receiving node")
	cmd.Flags().StringVar(&opts.Format, "format", "", "request and response encoding (json|cbor)")
	_ = cmd.MarkFlagRequired("request")

	return cmd
}

func runSync(cmd *cobra.Command, root *rootOptions, opts *syncOptions) error {
	ctx := cmd.Context()
	c, err := root.wireCodec(opts.Format)
	if err != nil {
		return err
	}
	req, err := readDecoded[models.SyncRequest](cmd, c, opts.Request)
	if err != nil {
		return err
	}

	var resp *models.SyncResponse
	if opts.Peer != "" {
		peer, err := client.New(opts.Peer, req.SourceNode, client.WithCodec(c))
		if err != nil {
			return err
		}
		resp, err = peer.Sync(ctx, &req)
		if err != nil {
			return err
		}
	} else {
		resp, err = processLocally(ctx, root, &req)
		if resp == nil {
			return err
		}
		if err != nil {
			root.logger.WarnContext(ctx, "sync outcome not fully persisted", "error", err)
		}
	}

	if err := writeEncoded(cmd, c, opts.Out, resp); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s: accepted=%d rejected=%d skipped=%d conflicts=%d\n",
		resp.Status, resp.AcceptedCount, resp.RejectedCount, resp.SkippedCount, resp.ConflictCount)
	return nil
}

func processLocally(ctx context.Context, root *rootOptions, req *models.SyncRequest) (*models.SyncResponse, error) {
	a, err := newApp(ctx, root.cfg, root.logger)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	return a.node.HandleSyncRequest(ctx, req)
}
