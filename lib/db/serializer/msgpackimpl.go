package serializer

import (
	"github.com/vmihailenco/msgpack"
)

// NewMsgpackSerializer creates a new serializer using the MessagePack format.
// It produces considerably smaller payloads than json for structured values.
func NewMsgpackSerializer[V any]() IValueSerializer[V] {
	return &msgpackSerializerImpl[V]{}
}

// msgpackSerializerImpl implements the IValueSerializer interface using msgpack encoding
type msgpackSerializerImpl[V any] struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IValueSerializer)
// --------------------------------------------------------------------------

func (m msgpackSerializerImpl[V]) Serialize(value V) ([]byte, error) {
	return msgpack.Marshal(value)
}

func (m msgpackSerializerImpl[V]) Deserialize(b []byte) (V, error) {
	var value V
	err := msgpack.Unmarshal(b, &value)
	return value, err
}
