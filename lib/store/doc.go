// Package store provides a high-level interface for byte-valued key-value storage
// on top of a db.KVLog, with unified error handling.
//
// Key Components:
//
//   - IStore Interface: The operations an application uses (Set, Delete, Get, Has,
//     Compact). The interface methods return *Error values that carry a RetCode, so
//     callers can react to specific conditions (e.g. a closed store or a record that
//     is too large) without knowing the engine's sentinel errors.
//
//   - DBFactory: A function type that abstracts the creation of the underlying
//     db.KVLog, providing dependency injection and flexible configuration of the engine.
//
// Implementations:
//
//   - Local Store (lstore): a single-process store that directly uses a
//     db.KVLog[[]byte]. Available in the "github.com/ValentinKolb/dLog/lib/store/lstore" package.
package store
