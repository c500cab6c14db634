// Package codec serialises federation records for files and transports.
// JSON is the reference format; CBOR is a compact alternative with the same
// field names.
package codec

import (
	"encoding/json"
	"strings"

	cbor "github.com/fxamacker/cbor/v2"

	dErrors "accord/pkg/domain-errors"
)

// Format names a wire encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

// ParseFormat accepts "json" or "cbor", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON, "":
		return FormatJSON, nil
	case FormatCBOR:
		return FormatCBOR, nil
	default:
		return "", dErrors.Newf(dErrors.CodeInvalidConfiguration, "unsupported wire format %q", s)
	}
}

// Codec encodes and decodes values. Implementations are safe for concurrent use.
type Codec interface {
	Format() Format
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// New returns the codec for format.
func New(format Format) (Codec, error) {
	switch format {
	case FormatJSON:
		return JSONCodec{Indent: true}, nil
	case FormatCBOR:
		return NewCBORCodec()
	default:
		return nil, dErrors.Newf(dErrors.CodeInvalidConfiguration, "unsupported wire format %q", format)
	}
}

// JSONCodec uses encoding/json. Indent produces two-space indented output.
type JSONCodec struct {
	Indent bool
}

func (JSONCodec) Format() Format      { return FormatJSON }
func (JSONCodec) ContentType() string { return "application/json" }

func (c JSONCodec) Marshal(v any) ([]byte, error) {
	if c.Indent {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// CBORCodec encodes canonically so equal records produce equal bytes on every
// node. Timestamps travel as RFC 3339 strings with nanoseconds.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func NewCBORCodec() (*CBORCodec, error) {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build cbor encoder")
	}
	dm, err := (cbor.DecOptions{}).DecMode()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build cbor decoder")
	}
	return &CBORCodec{enc: em, dec: dm}, nil
}

func (*CBORCodec) Format() Format      { return FormatCBOR }
func (*CBORCodec) ContentType() string { return "application/cbor" }

func (c *CBORCodec) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c *CBORCodec) Unmarshal(data []byte, v any) error {
	return c.dec.Unmarshal(data, v)
}

// Encode marshals v, tagging failures as internal errors.
func Encode(c Codec, v any) ([]byte, error) {
	data, err := c.Marshal(v)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode "+string(c.Format()))
	}
	return data, nil
}

// Decode unmarshals data into a new T, tagging failures as bad input.
func Decode[T any](c Codec, data []byte) (T, error) {
	var v T
	if err := c.Unmarshal(data, &v); err != nil {
		return v, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to decode "+string(c.Format()))
	}
	return v, nil
}
