package seglog

import (
	"errors"

	"github.com/ValentinKolb/dLog/lib/db/engines/seglog/internal"
)

var (
	// ErrCorruptFrame is returned when bytes the index points to do not decode.
	// It indicates a partial write or on-disk corruption.
	ErrCorruptFrame = internal.ErrCorruptFrame
	// ErrTruncatedFrame is returned when a frame ends before its declared length.
	ErrTruncatedFrame = internal.ErrTruncatedFrame
	// ErrIO wraps every failure of the underlying filesystem.
	ErrIO = errors.New("segment i/o failure")
	// ErrRecordTooLarge is returned for records that do not fit into an empty segment.
	ErrRecordTooLarge = errors.New("record does not fit into an empty segment")
	// ErrClosed is returned by operations on a closed log.
	ErrClosed = errors.New("log is closed")
	// ErrCompactionInProgress is returned by Compact while another cycle is running.
	ErrCompactionInProgress = errors.New("compaction already in progress")
	// ErrSegmentReleased is returned when a segment is read after its file was closed.
	ErrSegmentReleased = errors.New("segment file is closed")
)
