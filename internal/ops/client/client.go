// Package client talks to another node's operations endpoint.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"accord/internal/federation/codec"
	"accord/internal/federation/models"
	"accord/internal/node"
	precedent "accord/internal/precedent/models"
	id "accord/pkg/domain"
	dErrors "accord/pkg/domain-errors"
	"accord/pkg/platform/httputil"
	"accord/pkg/platform/middleware/metadata"
)

const maxResponseBytes = 32 << 20

// Client calls a peer node over HTTP.
type Client struct {
	baseURL string
	source  id.NodeID
	codec   codec.Codec
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default client with a 30s timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithCodec selects the wire encoding of sync exchanges. JSON by default.
func WithCodec(cd codec.Codec) Option {
	return func(c *Client) {
		c.codec = cd
	}
}

// New creates a client for the node at baseURL acting on behalf of source.
func New(baseURL string, source id.NodeID, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, dErrors.Newf(dErrors.CodeInvalidConfiguration, "invalid peer url %q", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		source:  source,
		codec:   codec.JSONCodec{},
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Sync delivers req to the peer and returns its response.
func (c *Client) Sync(ctx context.Context, req *models.SyncRequest) (*models.SyncResponse, error) {
	body, err := codec.Encode(c.codec, req)
	if err != nil {
		return nil, err
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/sync", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", c.codec.ContentType())
	httpReq.Header.Set(metadata.HeaderRequestID, string(req.RequestID))

	raw, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	resp, err := codec.Decode[models.SyncResponse](c.codec, raw)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Resolve asks the peer to settle its pending conflict for bundleID.
func (c *Client) Resolve(ctx context.Context, bundleID id.BundleID, strategy models.ResolutionStrategy) (*precedent.AnonymousBundle, error) {
	path := "/sync/conflicts/" + url.PathEscape(string(bundleID)) + "/resolve?strategy=" + url.QueryEscape(string(strategy))
	httpReq, err := c.newRequest(ctx, http.MethodPost, path, nil)
	if err != nil {
		return nil, err
	}
	var out precedent.AnonymousBundle
	if err := c.doJSON(httpReq, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches the peer's counters.
func (c *Client) Status(ctx context.Context) (*node.Status, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/sync/status", nil)
	if err != nil {
		return nil, err
	}
	var out node.Status
	if err := c.doJSON(httpReq, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build peer request")
	}
	if !c.source.IsNil() {
		req.Header.Set(metadata.HeaderSourceNode, string(c.source))
	}
	return req, nil
}

func (c *Client) doJSON(req *http.Request, v any) error {
	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "decode peer response")
	}
	return nil
}

// do returns the body of a 2xx response. Error bodies are mapped back to
// coded errors.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "peer unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "read peer response")
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}

	var e httputil.ErrorResponse
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		msg := e.ErrorDescription
		if msg == "" {
			msg = fmt.Sprintf("peer returned %d", resp.StatusCode)
		}
		return nil, dErrors.New(dErrors.Code(e.Error), msg)
	}
	return nil, dErrors.Newf(dErrors.CodeUnavailable, "peer returned %d", resp.StatusCode)
}
