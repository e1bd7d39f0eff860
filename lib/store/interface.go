package store

import (
	"fmt"
	"io"

	"github.com/ValentinKolb/dLog/lib/db"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates the log used by the store.
// This is used to abstract the creation of the log from the store implementation.
type DBFactory func() (db.KVLog[[]byte], error)

// IStore is the interface for interacting with a byte-valued key–value store.
// All write operations return only an error (a *Error, nil on success),
// while read operations return the requested data along with an error.
type IStore interface {
	// Set appends a new value for the key.
	Set(key string, value []byte) (err error)
	// Delete appends a tombstone for the key. The key is not findable anymore afterwards.
	Delete(key string) (err error)
	// Get returns the newest value of a key. The boolean return value indicates whether a value for the key was found.
	Get(key string) (value []byte, loaded bool, err error)
	// Has returns whether a live value exists for the key.
	Has(key string) (loaded bool, err error)
	// Compact runs one compaction cycle of the underlying log.
	Compact() (err error)
	// GetDBInfo returns metadata about the log underlying the store.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo() (info db.DatabaseInfo, err error)
	// WriteMetrics writes the metrics of the underlying log in Prometheus text format.
	WriteMetrics(w io.Writer) (err error)
	// Close closes the underlying log.
	Close() (err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("KVStoreError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new KVStoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCClosed                              // 4: The store was closed.
	RetCBusy                                // 5: The operation conflicts with one that is still running.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCClosed:
		return "Closed"
	case RetCBusy:
		return "Busy"
	default:
		return "Unknown"
	}
}
