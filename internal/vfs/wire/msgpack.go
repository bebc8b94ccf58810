package wire

import (
	"fmt"

	"github.com/rfratto/vfsbridge/internal/vfs"
	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackCodec returns a Codec using msgpack. Field names are identical to
// the JSON codec.
func MsgpackCodec() Codec { return msgpackCodec{} }

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }

func (c msgpackCodec) EncodeRequest(h *vfs.RequestHeader, r vfs.Request) ([]byte, error) {
	return c.flatten(r, h)
}

func (msgpackCodec) DecodeRequest(raw []byte) (vfs.RequestHeader, vfs.Request, error) {
	return decodeRequest(msgpack.Unmarshal, raw)
}

func (c msgpackCodec) EncodeReply(h *vfs.ReplyHeader, p vfs.Payload) ([]byte, error) {
	return c.flatten(p, h)
}

func (msgpackCodec) DecodeReply(raw []byte) (h vfs.ReplyHeader, err error) {
	err = msgpack.Unmarshal(raw, &h)
	return
}

func (msgpackCodec) DecodePayload(raw []byte, p vfs.Payload) error {
	return msgpack.Unmarshal(raw, p)
}

func (msgpackCodec) flatten(parts ...interface{}) ([]byte, error) {
	fields := make(map[string]msgpack.RawMessage)
	for _, p := range parts {
		if p == nil {
			continue
		}
		bb, err := msgpack.Marshal(p)
		if err != nil {
			return nil, err
		}
		var partFields map[string]msgpack.RawMessage
		if err := msgpack.Unmarshal(bb, &partFields); err != nil {
			return nil, fmt.Errorf("%T does not encode to a map: %w", p, err)
		}
		for k, v := range partFields {
			fields[k] = v
		}
	}
	return msgpack.Marshal(fields)
}
