package db

import "io"

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplSegLog Implementation = "seglog"
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeatureAppend  Feature = 1 << iota // Support for Append (and Put) operations
	FeatureGet                         // Support for Get operations
	FeatureDelete                      // Support for Delete operations (tombstones)
	FeatureCompact                     // Support for Compact operations
	FeatureRecover                     // Support for rebuilding the index from disk on open
	FeatureMetrics                     // Support for WriteMetrics
)

func (f Feature) String() string {
	switch f {
	case FeatureAppend:
		return "Append"
	case FeatureGet:
		return "Get"
	case FeatureDelete:
		return "Delete"
	case FeatureCompact:
		return "Compact"
	case FeatureRecover:
		return "Recover"
	case FeatureMetrics:
		return "Metrics"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the feature by name (used for JSON and YAML output)
func (f Feature) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

type DatabaseInfo struct {
	SizeBytes         int            `json:"size_bytes" yaml:"size_bytes"`
	DbType            Implementation `json:"db_type" yaml:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features" yaml:"supported_features"`
	Metadata          interface{}    `json:"metadata" yaml:"metadata"`
}

// --------------------------------------------------------------------------
// Record
// --------------------------------------------------------------------------

// Record is one immutable entry of the log. A record without a value is a
// tombstone: the key counts as deleted as of AppendTime.
type Record[V any] struct {
	Key        string // the key of the record
	AppendTime int64  // unix milliseconds at which the record was appended
	Value      *V     // nil for tombstones
}

// IsTombstone reports whether the record marks its key as deleted.
func (r Record[V]) IsTombstone() bool {
	return r.Value == nil
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// KVLog defines an interface for log-structured key-value database implementations.
// Every write is an append of a new record; a lookup returns the newest record for a key.
// Implementations can vary in their feature support, which can be queried with SupportsFeature.
type KVLog[V any] interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Append writes a new record for the key. A nil value appends a tombstone.
	// The call either makes the record durable and visible to Get or returns an error.
	Append(key string, value *V) (err error)

	// Put appends a record holding value.
	Put(key string, value V) (err error)

	// Delete appends a tombstone for the key.
	// The key is not findable anymore, the space is reclaimed by the next compaction.
	Delete(key string) (err error)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get returns the newest record for the key.
	// The boolean is false if the key was never written or its newest record is a tombstone.
	Get(key string) (record Record[V], found bool, err error)

	// --------------------------------------------------------------------------
	// Maintenance Operations
	// --------------------------------------------------------------------------

	// Compact runs one compaction cycle synchronously.
	Compact() (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Returns true if the feature is supported, false otherwise.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// WriteMetrics writes the metrics of the database in Prometheus text format.
	WriteMetrics(w io.Writer)

	// Close stops background work and releases all open files.
	Close() (err error)
}
