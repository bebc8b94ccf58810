package grpcvfs

import (
	"context"
	"fmt"
	"strings"

	"github.com/rfratto/vfsbridge/internal/vfs/wire"
	"google.golang.org/grpc/metadata"
)

const contentTypeKey = "x-vfsbridge-content-type"

// GetCodec retrieves the codec negotiated by the client from a gRPC request
// context. If the client didn't ask for one, the default codec is used.
func GetCodec(ctx context.Context) (wire.Codec, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return wire.Default(), nil
	}

	negotiated := md.Get(contentTypeKey)
	if len(negotiated) == 0 {
		return wire.Default(), nil
	}
	for _, v := range negotiated {
		if c, err := wire.Lookup(v); err == nil {
			return c, nil
		}
	}

	return nil, fmt.Errorf("no valid codecs within %q. supported codecs: %s", strings.Join(negotiated, ","), strings.Join(wire.Names(), ","))
}

// WithCodec asks the server to use c for requests made with ctx.
func WithCodec(ctx context.Context, c wire.Codec) context.Context {
	return metadata.AppendToOutgoingContext(ctx, contentTypeKey, c.Name())
}
