package gateway

import (
	"encoding/json"

	"connectrpc.com/connect"
)

// jsonCodec replaces Connect's protobuf JSON codec so plain Go structs can
// travel as messages.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	return json.Unmarshal(data, msg)
}

// WithJSON makes a Connect handler or client speak the gateway's JSON
// messages. Both ends must use it.
func WithJSON() connect.Option {
	return connect.WithCodec(jsonCodec{})
}
