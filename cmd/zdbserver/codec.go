package main

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec lets the admin/status service speak gRPC without any
// protoc-generated marshaling code, exactly as tinySQL's cmd/server does:
// a hand-written encoding.Codec backed by encoding/json, registered
// under the name negotiated by the "json" content-subtype.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
