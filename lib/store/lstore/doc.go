// Package lstore implements a local, single-process key-value store based on the
// store.IStore interface. It is a thin wrapper around any db.KVLog[[]byte]
// implementation, usually the seglog engine, which persists every write to its segment files.
//
// Key Features:
//   - Direct integration with db.KVLog implementations
//   - Feature detection to handle unsupported operations gracefully
//   - Translation of engine errors into store.Error return codes
//
// Usage Example:
//
//	factory := func() (db.KVLog[[]byte], error) {
//		return seglog.NewSegLog(seglog.DefaultOptions(), serializer.NewBytesSerializer())
//	}
//	s, err := lstore.NewLocalStore(factory)
//
//	err = s.Set("session:123", sessionData)
//	value, exists, err := s.Get("session:123")
//
// Thread Safety:
//
//	All operations are thread-safe as long as the underlying db.KVLog is.
package lstore
