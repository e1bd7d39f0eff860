package serializer

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// NewZstdSerializer wraps another serializer and compresses its output with zstd.
// Values written with this serializer can only be read with a zstd serializer
// wrapping the same inner serializer.
func NewZstdSerializer[V any](inner IValueSerializer[V]) (IValueSerializer[V], error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &zstdSerializerImpl[V]{
		inner:   inner,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// zstdSerializerImpl implements IValueSerializer by compressing the bytes of an inner serializer.
// EncodeAll and DecodeAll are safe for concurrent use, so one instance is shared by all callers.
type zstdSerializerImpl[V any] struct {
	inner   IValueSerializer[V]
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IValueSerializer)
// --------------------------------------------------------------------------

func (z *zstdSerializerImpl[V]) Serialize(value V) ([]byte, error) {
	raw, err := z.inner.Serialize(value)
	if err != nil {
		return nil, err
	}
	return z.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2+16)), nil
}

func (z *zstdSerializerImpl[V]) Deserialize(b []byte) (V, error) {
	raw, err := z.decoder.DecodeAll(b, nil)
	if err != nil {
		var zero V
		return zero, fmt.Errorf("zstd decode: %w", err)
	}
	return z.inner.Deserialize(raw)
}
