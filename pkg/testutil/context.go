package testutil

import (
	"net/http"

	id "accord/pkg/domain"
	"accord/pkg/requestcontext"
)

// WithPeerNode tags the request with the node it claims to come from.
// Invalid node IDs are ignored.
func WithPeerNode(req *http.Request, node string) *http.Request {
	parsed, err := id.ParseNodeID(node)
	if err != nil {
		return req
	}
	return req.WithContext(requestcontext.WithPeerNode(req.Context(), parsed))
}

// WithRequestID attaches a correlation ID to the request context.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}
