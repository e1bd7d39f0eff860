package serializer

// NewBytesSerializer creates a serializer for raw byte values.
// The bytes are stored as they are, the serializer never fails.
func NewBytesSerializer() IValueSerializer[[]byte] {
	return bytesSerializerImpl{}
}

// NewStringSerializer creates a serializer that stores strings as their UTF-8 bytes
func NewStringSerializer() IValueSerializer[string] {
	return stringSerializerImpl{}
}

// bytesSerializerImpl implements IValueSerializer for []byte without any encoding
type bytesSerializerImpl struct{}

// stringSerializerImpl implements IValueSerializer for string without any encoding
type stringSerializerImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IValueSerializer)
// --------------------------------------------------------------------------

func (bytesSerializerImpl) Serialize(value []byte) ([]byte, error) {
	return value, nil
}

func (bytesSerializerImpl) Deserialize(b []byte) ([]byte, error) {
	// normalize nil to an empty slice, a present value is never nil
	if b == nil {
		return []byte{}, nil
	}
	return b, nil
}

func (stringSerializerImpl) Serialize(value string) ([]byte, error) {
	return []byte(value), nil
}

func (stringSerializerImpl) Deserialize(b []byte) (string, error) {
	return string(b), nil
}
