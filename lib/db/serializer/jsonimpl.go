package serializer

import (
	"encoding/json"
)

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer[V any]() IValueSerializer[V] {
	return &jsonSerializerImpl[V]{}
}

// jsonSerializerImpl implements the IValueSerializer interface using json encoding
type jsonSerializerImpl[V any] struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IValueSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl[V]) Serialize(value V) ([]byte, error) {
	return json.Marshal(value)
}

func (j jsonSerializerImpl[V]) Deserialize(b []byte) (V, error) {
	var value V
	err := json.Unmarshal(b, &value)
	return value, err
}
