package domain

import (
	dErrors "accord/pkg/domain-errors"
)

// ProtocolVersion identifies the federation wire protocol spoken by a node.
// Nodes only exchange bundles when their versions are equal.
type ProtocolVersion string

// Supported protocol versions.
const (
	ProtocolVersionV1 ProtocolVersion = "1.0"
)

var supportedVersions = map[ProtocolVersion]bool{
	ProtocolVersionV1: true,
}

// ParseProtocolVersion validates a locally configured protocol version.
// Remote versions are never parsed: a mismatch is an in-band rejection, not an error.
func ParseProtocolVersion(s string) (ProtocolVersion, error) {
	v := ProtocolVersion(s)
	if !supportedVersions[v] {
		return "", dErrors.Newf(dErrors.CodeInvalidConfiguration, "unsupported protocol version: %q", s)
	}
	return v, nil
}

// String returns the string representation of the version.
func (v ProtocolVersion) String() string {
	return string(v)
}

// DefaultProtocolVersion returns the version new nodes speak.
func DefaultProtocolVersion() ProtocolVersion {
	return ProtocolVersionV1
}
