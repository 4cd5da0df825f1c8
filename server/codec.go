package server

import (
	"github.com/fxamacker/cbor/v2"
)

// cborCodec carries playground messages as CBOR. It is registered on both
// handlers and clients, giving the content types application/cbor (Connect)
// and application/grpc+cbor (gRPC over h2c).
type cborCodec struct{}

func (cborCodec) Name() string { return "cbor" }

func (cborCodec) Marshal(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

func (cborCodec) Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}
