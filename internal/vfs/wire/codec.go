// Package wire encodes vfs messages. Every message is a single flat object:
// the header fields (cmd, reply_id, isError, errorCode) sit next to the
// command-specific fields rather than in a nested envelope.
package wire

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rfratto/vfsbridge/internal/vfs"
)

// Codec encodes and decodes vfs messages for a Channel.
type Codec interface {
	Name() string

	EncodeRequest(*vfs.RequestHeader, vfs.Request) ([]byte, error)
	DecodeRequest([]byte) (vfs.RequestHeader, vfs.Request, error)
	EncodeReply(*vfs.ReplyHeader, vfs.Payload) ([]byte, error)
	DecodeReply([]byte) (vfs.ReplyHeader, error)

	// DecodePayload decodes the command-specific fields of a raw reply into p.
	DecodePayload(raw []byte, p vfs.Payload) error
}

var codecs = map[string]func() Codec{
	"json":    JSONCodec,
	"msgpack": MsgpackCodec,
}

// Default returns the codec the native collaborator speaks.
func Default() Codec { return JSONCodec() }

// Lookup returns the codec registered under name.
func Lookup(name string) (Codec, error) {
	ctor, ok := codecs[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown codec %q. supported codecs: %s", name, strings.Join(Names(), ","))
	}
	return ctor(), nil
}

// Names returns the names of all supported codecs.
func Names() []string {
	names := make([]string, 0, len(codecs))
	for name := range codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decodeRequest decodes the header of raw and then its body. unmarshal is
// the codec's unmarshal function.
func decodeRequest(unmarshal func([]byte, interface{}) error, raw []byte) (h vfs.RequestHeader, r vfs.Request, err error) {
	if err = unmarshal(raw, &h); err != nil {
		return h, nil, fmt.Errorf("malformed request header: %w", err)
	}
	if h.Command == "" {
		return h, nil, fmt.Errorf("request is missing cmd: %w", vfs.ErrorInvalidValues)
	}

	r, err = vfs.NewEmptyRequest(h.Command)
	if err != nil || r == nil {
		return h, nil, err
	}

	// Bytes writes carry an octet array instead of text. Peek at the type
	// before picking the body.
	if h.Command == vfs.CmdStreamWrite {
		var probe struct {
			Type vfs.ReadType `json:"type" msgpack:"type"`
		}
		if err = unmarshal(raw, &probe); err != nil {
			return h, nil, fmt.Errorf("malformed %s request: %w", h.Command, err)
		}
		if probe.Type == vfs.ReadBytes {
			r = &vfs.StreamWriteBytesRequest{}
		}
	}

	if err = unmarshal(raw, r); err != nil {
		return h, nil, fmt.Errorf("malformed %s request: %w", h.Command, err)
	}
	return h, r, nil
}
