package serializer

// IValueSerializer is the interface for all value serializers.
// An engine stores values as opaque bytes and uses the serializer it was built
// with to convert between V and its byte representation.
type IValueSerializer[V any] interface {
	// Serialize serializes a value into a byte array
	// It returns the serialized byte array and an error if any
	Serialize(value V) ([]byte, error)
	// Deserialize deserializes a byte array into a value
	// It returns the value and an error if any
	Deserialize(b []byte) (V, error)
}
