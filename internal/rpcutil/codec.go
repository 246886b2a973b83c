// Package rpcutil wires plain Go structs onto grpc-go's wire protocol
// without a protoc-generated message type.
//
// This module's RPC services (the matchmaking frontend and the per-match
// dataframe service) are small and entirely internal, so rather than check
// in protoc output we register a gob-based codec under the name "proto" —
// the same name grpc-go's own codec registers under for the empty
// content-subtype. Doing so makes it the default codec for every call that
// doesn't request a subtype, so client and server agree on wire format
// without either side opting in explicitly. The service registration,
// streaming, and unary call shapes are the genuine grpc-go APIs; only the
// marshaling step is swapped.
package rpcutil

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"google.golang.org/grpc/encoding"
)

func init() {
	encoding.RegisterCodec(GobCodec{})
}

// GobCodec implements google.golang.org/grpc/encoding.Codec using
// encoding/gob. Messages must be plain exported structs; any concrete type
// carried inside an interface-typed field must be registered with gob by
// the package declaring that field (internal/dataframe does this for the
// observation values in PlayerRecord.Observations).
type GobCodec struct{}

// Name reports "proto", overriding grpc-go's built-in default codec so
// every call using the default content-subtype routes through gob.
func (GobCodec) Name() string { return "proto" }

func (GobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("rpcutil: gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (GobCodec) Unmarshal(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("rpcutil: gob decode: %w", err)
	}
	return nil
}
