package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"accord/internal/federation/codec"
	dErrors "accord/pkg/domain-errors"
)

// wireCodec resolves --format, falling back to the configured wire format.
func (o *rootOptions) wireCodec(format string) (codec.Codec, error) {
	if format == "" {
		format = o.cfg.Federation.WireFormat
	}
	f, err := codec.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return codec.New(f)
}

// readInput reads path, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "read "+path)
	}
	return data, nil
}

// writeOutput writes data to path, or stdout when path is "-" or empty.
func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "write "+path)
	}
	return nil
}

func readDecoded[T any](cmd *cobra.Command, c codec.Codec, path string) (T, error) {
	var zero T
	data, err := readInput(cmd, path)
	if err != nil {
		return zero, err
	}
	return codec.Decode[T](c, data)
}

func writeEncoded(cmd *cobra.Command, c codec.Codec, path string, v any) error {
	data, err := codec.Encode(c, v)
	if err != nil {
		return err
	}
	return writeOutput(cmd, path, data)
}
