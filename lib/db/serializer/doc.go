// Package serializer provides value serialization for the log engines. An engine
// is generic over its value type and receives an IValueSerializer at construction,
// so the on-disk frame format never depends on the Go type of the values.
//
// Key Components:
//
//   - IValueSerializer: Core interface that all serializer implementations must satisfy.
//
//   - bytesSerializerImpl / stringSerializerImpl: Pass-through serializers for raw bytes
//     and strings. They add no overhead and are the default for the store facade.
//
//   - jsonSerializerImpl: JSON encoding, human-readable on disk and useful for debugging.
//
//   - gobSerializerImpl: Go's gob encoding. Every value carries its type description,
//     which makes it the largest format for small values.
//
//   - msgpackSerializerImpl: MessagePack encoding, compact and fast for structured values.
//
//   - zstdSerializerImpl: A wrapper that compresses the output of any other serializer.
//     Worth it for large, repetitive values. For small values the zstd frame header
//     outweighs the savings.
//
// Thread Safety:
//
//	All serializer implementations are safe for concurrent use across multiple
//	goroutines without additional synchronization.
//
// Usage:
//
//	s := serializer.NewMsgpackSerializer[User]()
//	log, err := seglog.NewSegLog[User](opts, s)
package serializer
