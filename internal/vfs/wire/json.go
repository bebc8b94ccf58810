package wire

import (
	"encoding/json"
	"fmt"

	"github.com/rfratto/vfsbridge/internal/vfs"
)

// JSONCodec returns a Codec using JSON text. This is the format the native
// collaborator expects.
func JSONCodec() Codec { return jsonCodec{} }

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (c jsonCodec) EncodeRequest(h *vfs.RequestHeader, r vfs.Request) ([]byte, error) {
	return c.flatten(r, h)
}

func (jsonCodec) DecodeRequest(raw []byte) (vfs.RequestHeader, vfs.Request, error) {
	return decodeRequest(json.Unmarshal, raw)
}

func (c jsonCodec) EncodeReply(h *vfs.ReplyHeader, p vfs.Payload) ([]byte, error) {
	return c.flatten(p, h)
}

func (jsonCodec) DecodeReply(raw []byte) (h vfs.ReplyHeader, err error) {
	err = json.Unmarshal(raw, &h)
	return
}

func (jsonCodec) DecodePayload(raw []byte, p vfs.Payload) error {
	return json.Unmarshal(raw, p)
}

// flatten merges the fields of each part into a single object. Later parts
// override fields of earlier parts.
func (jsonCodec) flatten(parts ...interface{}) ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	for _, p := range parts {
		if p == nil {
			continue
		}
		bb, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		var partFields map[string]json.RawMessage
		if err := json.Unmarshal(bb, &partFields); err != nil {
			return nil, fmt.Errorf("%T does not encode to an object: %w", p, err)
		}
		for k, v := range partFields {
			fields[k] = v
		}
	}
	return json.Marshal(fields)
}
