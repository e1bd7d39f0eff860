// Package db provides a standardized interface for log-structured key-value
// database implementations. It defines the generic KVLog interface that allows
// for consistent interaction with storage engines while abstracting their
// on-disk layout.
//
// The package focuses on:
//   - A unified, append-only interface for key-value operations
//   - Feature discovery through capability flags
//   - Comprehensive metadata reporting
//
// Key Components:
//
//   - KVLog Interface: The core interface that all engine implementations must satisfy.
//     Writes are appends (Append, Put, Delete), reads return the newest record for a
//     key (Get), and space is reclaimed by compaction (Compact). The interface is
//     generic over the value type V; engines receive a serializer for V at construction.
//
//   - Record: The immutable unit of the log. A record carries the key, the time at which
//     it was appended (unix milliseconds) and an optional value. A record without a value
//     is a tombstone marking the key as deleted.
//
//   - Feature Flags: The Feature type defines capability flags that implementations
//     can advertise through the SupportsFeature method. This allows clients to
//     discover supported operations at runtime.
//
//   - Database Information: The DatabaseInfo structure provides standardized
//     reporting on database state, including size statistics, implementation type,
//     and implementation-specific metadata.
//
// Note on Deletion and Compaction:
//   - Deleting a key never removes bytes from disk. It appends a tombstone that shadows
//     every older record of the key. Get() must never return a key whose newest record is
//     a tombstone.
//   - Compaction merges all segments into a smaller set that keeps only the newest live
//     record per key. Tombstones are dropped during that cycle, after which the key is
//     fully forgotten.
//   - External Consistency: Get() must observe either the complete pre-compaction or the
//     complete post-compaction state, never a mix.
//
// Related Packages:
//
// The engines/seglog package (github.com/ValentinKolb/dLog/lib/db/engines/seglog) provides
// the segmented log implementation of the KVLog interface.
//
// The serializer package (github.com/ValentinKolb/dLog/lib/db/serializer) provides the
// value serializers (bytes, string, json, gob, msgpack, zstd) an engine is built with.
//
// The testing package (github.com/ValentinKolb/dLog/lib/db/testing) provides
// standardized tests and benchmarks for implementations of db.KVLog.
//   - RunKVLogTests: Runs a standardized test suite to validate implementations
//   - RunKVLogBenchmarks: Provides performance benchmarks for comparing implementations
package db
