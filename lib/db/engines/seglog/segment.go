package seglog

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dLog/lib/db"
	"github.com/ValentinKolb/dLog/lib/db/engines/seglog/internal"
	"github.com/ValentinKolb/dLog/lib/db/serializer"
	"github.com/puzpuzpuz/xsync/v3"
	"gopkg.in/matryer/try.v1"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	deleteAttempts = 3 // attempts to remove a backing file before giving up
)

// ByteOffset locates the newest frame of a key inside one segment file
type ByteOffset struct {
	Offset uint64 // position of the frame (length prefix included)
	Length uint32 // total length of the frame
}

// --------------------------------------------------------------------------
// Segment
// --------------------------------------------------------------------------

// Segment owns one size-bounded backing file and the in-memory index of the
// frames stored in it. A segment is born writable and empty; once frozen it
// never becomes writable again.
type Segment[V any] struct {
	id           uint64
	path         string
	maxSizeBytes uint64
	serializer   serializer.IValueSerializer[V]
	clock        func() int64
	syncWrites   bool

	file          *os.File
	appendMu      sync.Mutex                       // serializes writers of this segment
	offsetIndex   *xsync.MapOf[string, ByteOffset] // newest frame per key
	currentOffset atomic.Uint64                    // end of the last complete frame
	writable      atomic.Bool
	lastAppend    atomic.Int64 // highest append time stored in the segment

	// lifetime: one reference is held by the owning log, one per in-flight reader
	refs            atomic.Int64
	deleteOnRelease atomic.Bool
	closeOnce       sync.Once
	closed          atomic.Bool
}

// segmentConfig bundles what the factory hands to every segment it creates
type segmentConfig[V any] struct {
	maxSizeBytes uint64
	serializer   serializer.IValueSerializer[V]
	clock        func() int64
	syncWrites   bool
}

// newSegment wraps an open file. The caller fills the index.
func newSegment[V any](id uint64, path string, file *os.File, cfg segmentConfig[V]) *Segment[V] {
	s := &Segment[V]{
		id:           id,
		path:         path,
		maxSizeBytes: cfg.maxSizeBytes,
		serializer:   cfg.serializer,
		clock:        cfg.clock,
		syncWrites:   cfg.syncWrites,
		file:         file,
		offsetIndex:  xsync.NewMapOf[string, ByteOffset](),
	}
	s.writable.Store(true)
	s.refs.Store(1)
	return s
}

// createSegment creates a new, empty segment file at path. The path must not exist.
func createSegment[V any](id uint64, path string, cfg segmentConfig[V]) (*Segment[V], error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrIO, path, err)
	}
	return newSegment(id, path, file, cfg), nil
}

// openSegment opens an existing segment file and rebuilds its index by replaying
// every frame. Replay stops at the first torn or corrupt frame, the file is
// truncated there so new appends continue after the last good frame.
func openSegment[V any](id uint64, path string, cfg segmentConfig[V]) (*Segment[V], error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrIO, path, err)
	}

	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%w: stat %s: %w", ErrIO, path, err)
	}

	s := newSegment(id, path, file, cfg)
	reader := internal.NewFrameReader(io.NewSectionReader(file, 0, stat.Size()), uint64(stat.Size()))

	for {
		entry, offset, length, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, internal.ErrCorruptFrame) || errors.Is(err, internal.ErrTruncatedFrame) {
			Logger.Warningf("segment %s: %v, dropping %d bytes after offset %d",
				path, err, uint64(stat.Size())-reader.Offset(), reader.Offset())
			if err := file.Truncate(int64(reader.Offset())); err != nil {
				_ = file.Close()
				return nil, fmt.Errorf("%w: truncate %s: %w", ErrIO, path, err)
			}
			break
		}
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("%w: replay %s: %w", ErrIO, path, err)
		}
		s.offsetIndex.Store(entry.Key, ByteOffset{Offset: offset, Length: length})
		s.observeAppendTime(entry.AppendTime)
	}

	s.currentOffset.Store(reader.Offset())
	if reader.Offset() >= s.maxSizeBytes {
		s.writable.Store(false)
	}
	return s, nil
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// ID returns the sequence number of the segment
func (s *Segment[V]) ID() uint64 { return s.id }

// Path returns the path of the backing file
func (s *Segment[V]) Path() string { return s.path }

// Size returns the number of bytes written to the segment
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Segment[V]) Size() uint64 { return s.currentOffset.Load() }

// Len returns the number of distinct keys in the segment
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Segment[V]) Len() int { return s.offsetIndex.Size() }

// LastAppendTime returns the highest append time stored in the segment (0 if empty)
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Segment[V]) LastAppendTime() int64 { return s.lastAppend.Load() }

// IsWritable reports whether the segment still accepts appends
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Segment[V]) IsWritable() bool { return s.writable.Load() }

// MarkNotWritable freezes the segment. Freezing is idempotent and permanent.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Segment[V]) MarkNotWritable() { s.writable.Store(false) }

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// AppendValue appends a record for key with the current time. A nil value appends a tombstone.
// It returns false (and no error) if the segment is frozen or the frame does not fit,
// in which case the caller has to roll over to a new segment.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Segment[V]) AppendValue(key string, value *V) (bool, error) {
	entry, err := encodeEntry(s.serializer, key, s.clock(), value)
	if err != nil {
		return false, err
	}
	return s.appendEntry(entry)
}

// AppendRecord appends a fully formed record and keeps its AppendTime.
// It is used to rewrite records during compaction.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Segment[V]) AppendRecord(record db.Record[V]) (bool, error) {
	entry, err := encodeEntry(s.serializer, record.Key, record.AppendTime, record.Value)
	if err != nil {
		return false, err
	}
	return s.appendEntry(entry)
}

// appendEntry writes the frame of an entry at the current offset.
// The index entry is installed only after the write succeeded, a failed write
// leaves offset and index untouched and the next write overwrites the partial frame.
func (s *Segment[V]) appendEntry(entry internal.Entry) (bool, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	if size := entry.FrameSize(); size > internal.MaxFrameSize {
		return false, fmt.Errorf("%w: record %q needs %d bytes, frames hold at most %d",
			ErrRecordTooLarge, entry.Key, size, internal.MaxFrameSize)
	}
	if !s.writable.Load() || s.closed.Load() {
		return false, nil
	}

	frame := internal.Encode(entry)
	offset := s.currentOffset.Load()
	newOffset := offset + uint64(len(frame))
	if newOffset > s.maxSizeBytes {
		return false, nil
	}

	if _, err := s.file.WriteAt(frame, int64(offset)); err != nil {
		return false, fmt.Errorf("%w: write %s: %w", ErrIO, s.path, err)
	}
	if s.syncWrites {
		if err := s.file.Sync(); err != nil {
			return false, fmt.Errorf("%w: sync %s: %w", ErrIO, s.path, err)
		}
	}

	s.offsetIndex.Store(entry.Key, ByteOffset{Offset: offset, Length: uint32(len(frame))})
	s.currentOffset.Store(newOffset)
	s.observeAppendTime(entry.AppendTime)

	// an exactly full segment freezes itself, the next append is rejected upfront
	if newOffset == s.maxSizeBytes {
		s.writable.Store(false)
	}
	return true, nil
}

// observeAppendTime raises lastAppend to t
func (s *Segment[V]) observeAppendTime(t int64) {
	for {
		last := s.lastAppend.Load()
		if t <= last || s.lastAppend.CompareAndSwap(last, t) {
			return
		}
	}
}

// sync flushes the backing file to stable storage
func (s *Segment[V]) sync() error {
	if s.closed.Load() {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", ErrIO, s.path, err)
	}
	return nil
}

// encodeEntry serializes the value (if any) and builds the frame entry
func encodeEntry[V any](ser serializer.IValueSerializer[V], key string, appendTime int64, value *V) (internal.Entry, error) {
	entry := internal.Entry{Key: key, AppendTime: appendTime}
	if value == nil {
		return entry, nil
	}

	raw, err := ser.Serialize(*value)
	if err != nil {
		return internal.Entry{}, fmt.Errorf("serialize value of %q: %w", key, err)
	}
	entry.Value = raw
	entry.HasValue = true
	return entry, nil
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

// Get returns the newest record of key stored in this segment (tombstones included).
// A frame that fails to decode is reported as ErrCorruptFrame, since the index claimed it valid.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Segment[V]) Get(key string) (db.Record[V], bool, error) {
	loc, ok := s.offsetIndex.Load(key)
	if !ok {
		return db.Record[V]{}, false, nil
	}

	if s.closed.Load() {
		return db.Record[V]{}, false, ErrSegmentReleased
	}

	frame := make([]byte, loc.Length)
	if _, err := s.file.ReadAt(frame, int64(loc.Offset)); err != nil {
		return db.Record[V]{}, false, fmt.Errorf("%w: read %s at %d: %w", ErrIO, s.path, loc.Offset, err)
	}

	entry, err := internal.Decode(frame)
	if err != nil {
		return db.Record[V]{}, false, fmt.Errorf("segment %s key %q: %w", s.path, key, err)
	}
	if entry.Key != key {
		return db.Record[V]{}, false, fmt.Errorf("%w: segment %s: index of %q points to %q", ErrCorruptFrame, s.path, key, entry.Key)
	}

	record, err := s.decodeEntry(entry)
	if err != nil {
		return db.Record[V]{}, false, err
	}
	return record, true, nil
}

// Records replays every frame of the segment from the first byte, ignoring the index.
// Superseded records of a key are emitted too, in write order.
// The sequence can be iterated more than once, each iteration reads the file again.
// Iteration stops after the first error.
//
// Thread-safety: This method is thread-safe; frames appended while iterating are not visited.
func (s *Segment[V]) Records() iter.Seq2[db.Record[V], error] {
	return func(yield func(db.Record[V], error) bool) {
		if s.closed.Load() {
			yield(db.Record[V]{}, ErrSegmentReleased)
			return
		}

		size := s.currentOffset.Load()
		reader := internal.NewFrameReader(io.NewSectionReader(s.file, 0, int64(size)), size)
		for {
			entry, _, _, err := reader.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(db.Record[V]{}, fmt.Errorf("segment %s: %w", s.path, err))
				return
			}

			record, err := s.decodeEntry(entry)
			if !yield(record, err) || err != nil {
				return
			}
		}
	}
}

// decodeEntry converts a frame entry into a record
func (s *Segment[V]) decodeEntry(entry internal.Entry) (db.Record[V], error) {
	record := db.Record[V]{Key: entry.Key, AppendTime: entry.AppendTime}
	if !entry.HasValue {
		return record, nil
	}

	value, err := s.serializer.Deserialize(entry.Value)
	if err != nil {
		return db.Record[V]{}, fmt.Errorf("deserialize value of %q in %s: %w", entry.Key, s.path, err)
	}
	record.Value = &value
	return record, nil
}

// --------------------------------------------------------------------------
// Lifetime
// --------------------------------------------------------------------------

// acquire takes a reader reference. It fails once the last reference was released.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Segment[V]) acquire() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// release drops a reference. Dropping the last one closes the file and, if the
// segment was retired, deletes it.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Segment[V]) release() {
	if s.refs.Add(-1) != 0 {
		return
	}
	if s.deleteOnRelease.Load() {
		s.DeleteBackingFile()
	} else {
		s.closeFile()
	}
}

// retire drops the owner reference of a segment that was superseded.
// The file is deleted as soon as no reader holds the segment anymore.
func (s *Segment[V]) retire() {
	s.MarkNotWritable()
	s.deleteOnRelease.Store(true)
	s.release()
}

// closeFile closes the backing file once
func (s *Segment[V]) closeFile() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		// wait for a writer that is still inside appendEntry
		s.appendMu.Lock()
		defer s.appendMu.Unlock()
		if err := s.file.Close(); err != nil {
			Logger.Warningf("segment %s: close failed: %v", s.path, err)
		}
	})
}

// DeleteBackingFile closes and removes the backing file. A file that is already
// gone counts as deleted. Removal is attempted up to three times, if all attempts
// fail a warning is logged and the file is leaked.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Segment[V]) DeleteBackingFile() {
	s.MarkNotWritable()
	s.closeFile()

	err := try.Do(func(attempt int) (bool, error) {
		err := os.Remove(s.path)
		if err == nil || errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return attempt < deleteAttempts, err
	})
	if err != nil {
		Logger.Warningf("segment %s: giving up deleting backing file after %d attempts: %v", s.path, deleteAttempts, err)
		return
	}
	Logger.Debugf("segment %s: backing file deleted", s.path)
}
