// Package metadata extracts exchange metadata from HTTP headers into the
// request context.
package metadata

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	id "accord/pkg/domain"
	"accord/pkg/requestcontext"
)

const (
	HeaderRequestID  = "X-Request-ID"
	HeaderSourceNode = "Accord-Source-Node"
)

// RequestMetadata stores the correlation ID and the calling node in the
// context. A missing or oversized request ID is replaced by a fresh UUID and
// echoed back in the response. This middleware should be applied early in
// the chain.
func RequestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := RequestIDFromRequest(r)
		w.Header().Set(HeaderRequestID, requestID)

		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		if node, err := id.ParseNodeID(r.Header.Get(HeaderSourceNode)); err == nil {
			ctx = requestcontext.WithPeerNode(ctx, node)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromRequest returns the caller's X-Request-ID, or a new UUID when it
// is absent or unusable.
func RequestIDFromRequest(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get(HeaderRequestID))
	if v == "" || len(v) > 128 || strings.ContainsAny(v, "\r\n") {
		return uuid.NewString()
	}
	return v
}
