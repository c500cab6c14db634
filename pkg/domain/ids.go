package domain

import (
	"strings"
	"unicode/utf8"

	dErrors "accord/pkg/domain-errors"
)

// Typed identifiers keep node, bundle, decision and request IDs from being
// passed where another kind is expected. All of them are opaque strings.
//
// Usage: construct via the Parse* functions at trust boundaries (CLI input,
// decoded wire records). Direct casting bypasses validation and is reserved
// for code that derives the value itself (e.g. bundle ID hashing).
type (
	NodeID     string
	BundleID   string
	DecisionID string
	RequestID  string
)

const maxIDLength = 256

func parseID(kind, s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be empty")
	}
	if len(s) > maxIDLength {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "%s must be at most %d bytes", kind, maxIDLength)
	}
	if !utf8.ValidString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, kind+" must be valid UTF-8")
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return "", dErrors.New(dErrors.CodeInvalidInput, kind+" contains control characters")
		}
	}
	return s, nil
}

// ParseNodeID validates a federation node identifier.
func ParseNodeID(s string) (NodeID, error) {
	v, err := parseID("node_id", s)
	return NodeID(v), err
}

// ParseBundleID validates a bundle identifier.
func ParseBundleID(s string) (BundleID, error) {
	v, err := parseID("bundle_id", s)
	return BundleID(v), err
}

// ParseDecisionID validates a precedent decision identifier.
func ParseDecisionID(s string) (DecisionID, error) {
	v, err := parseID("decision_id", s)
	return DecisionID(v), err
}

// ParseRequestID validates a sync request identifier.
func ParseRequestID(s string) (RequestID, error) {
	v, err := parseID("request_id", s)
	return RequestID(v), err
}

func (id NodeID) String() string     { return string(id) }
func (id BundleID) String() string   { return string(id) }
func (id DecisionID) String() string { return string(id) }
func (id RequestID) String() string  { return string(id) }

func (id NodeID) IsNil() bool     { return id == "" }
func (id BundleID) IsNil() bool   { return id == "" }
func (id DecisionID) IsNil() bool { return id == "" }
func (id RequestID) IsNil() bool  { return id == "" }
