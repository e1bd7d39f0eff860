package seglog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"code.cloudfoundry.org/bytefmt"
	"github.com/ValentinKolb/dLog/lib/db"
	"github.com/ValentinKolb/dLog/lib/db/engines/seglog/internal"
	"github.com/ValentinKolb/dLog/lib/db/serializer"
	"github.com/ValentinKolb/dLog/lib/db/util"
	"github.com/lni/dragonboat/v4/logger"
)

// Logger is the logger of the seglog package
var Logger = logger.GetLogger("seglog")

// supportedFeatures lists everything logImpl implements
const supportedFeatures = db.FeatureAppend | db.FeatureGet | db.FeatureDelete |
	db.FeatureCompact | db.FeatureRecover | db.FeatureMetrics

// --------------------------------------------------------------------------
// Core log structure
// --------------------------------------------------------------------------

// segmentList is an immutable snapshot of the segments of a log.
// segments[active] is the only segment appends may target.
type segmentList[V any] struct {
	segments []*Segment[V]
	active   int
}

// logImpl implements db.KVLog as a sequence of size-bounded segment files
type logImpl[V any] struct {
	opts       Options
	factory    *SegmentFactory[V]
	serializer serializer.IValueSerializer[V]
	clock      *monotonicClock

	// writeMu guards appends and compaction, readers only load current
	writeMu sync.Mutex
	current atomic.Pointer[segmentList[V]]
	closed  atomic.Bool

	// compaction
	compacting         atomic.Bool
	compactorIsRunning atomic.Bool
	stopCompactorCh    chan struct{}
	compactorDone      sync.WaitGroup

	metrics    *logMetrics
	frameSizes *util.SizeHistogram
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewSegLog opens the log in opts.Dir (nil = DefaultOptions) using s to serialize values.
// With opts.Recover the existing segment files are replayed, otherwise they are removed
// and the log starts empty. The log always holds at least one segment after this call.
//
// Thread-safety: This function is not thread-safe and should only be called once per directory.
func NewSegLog[V any](opts *Options, s serializer.IValueSerializer[V]) (db.KVLog[V], error) {
	return newLog(opts, s)
}

// newLog is NewSegLog returning the concrete type
func newLog[V any](opts *Options, s serializer.IValueSerializer[V]) (*logImpl[V], error) {

	// Generate default options if not provided
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if err := o.validate(); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.New("seglog: serializer must not be nil")
	}

	l := &logImpl[V]{
		opts:            o,
		serializer:      s,
		clock:           newMonotonicClock(o.Clock, 0),
		stopCompactorCh: make(chan struct{}),
		frameSizes:      util.NewSizeHistogram(),
	}

	factory, err := NewSegmentFactory[V](o.Dir, o.MaxSegmentSizeBytes, s, l.clock.Millis, o.SyncWrites)
	if err != nil {
		return nil, err
	}
	l.factory = factory

	var segments []*Segment[V]
	if o.Recover {
		if segments, err = factory.OpenExisting(); err != nil {
			return nil, err
		}
	} else if err := removeSegmentFiles(factory); err != nil {
		return nil, err
	}

	// the clock never goes below what is already on disk
	for _, segment := range segments {
		l.clock.advanceTo(segment.LastAppendTime())
	}

	if len(segments) == 0 {
		segment, err := factory.NewInstance()
		if err != nil {
			return nil, err
		}
		segments = append(segments, segment)
	}

	l.current.Store(&segmentList[V]{segments: segments, active: len(segments) - 1})
	l.metrics = newLogMetrics(l)

	Logger.Infof("opened log %s with %d segment(s), %s on disk",
		o.Dir, len(segments), bytefmt.ByteSize(l.sizeBytes()))

	l.startCompactor()
	return l, nil
}

// removeSegmentFiles deletes every segment file in the directory of the factory
func removeSegmentFiles[V any](factory *SegmentFactory[V]) error {
	ids, err := factory.scanDir()
	if err != nil {
		return err
	}
	for _, id := range ids {
		path := filepath.Join(factory.Dir(), SegmentFileName(id))
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: remove %s: %w", ErrIO, path, err)
		}
	}
	if err := factory.removeFloor(); err != nil {
		return err
	}
	if len(ids) > 0 {
		Logger.Infof("removed %d segment file(s) from %s, starting empty", len(ids), factory.Dir())
	}
	return nil
}

// --------------------------------------------------------------------------
// Core KVLog Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Append writes a new record for key. A nil value appends a tombstone.
// If the active segment is full the log rolls over to a new segment.
// The call either stores the record or returns an error, a write is never dropped.
//
// Thread-safety: This method is thread-safe and can be called concurrently. Appends are serialized.
func (l *logImpl[V]) Append(key string, value *V) error {
	if l.closed.Load() {
		return ErrClosed
	}

	// serialize outside the lock
	entry, err := encodeEntry(l.serializer, key, 0, value)
	if err != nil {
		return err
	}
	if size := uint64(entry.FrameSize()); size > l.opts.MaxSegmentSizeBytes {
		return fmt.Errorf("%w: record %q needs %s, segments hold %s", ErrRecordTooLarge,
			key, bytefmt.ByteSize(size), bytefmt.ByteSize(l.opts.MaxSegmentSizeBytes))
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if l.closed.Load() {
		return ErrClosed
	}

	entry.AppendTime = l.clock.Millis()
	if err := l.appendLocked(entry); err != nil {
		l.metrics.appendErrors.Inc()
		return err
	}

	l.metrics.appends.Inc()
	l.frameSizes.AddSample(entry.FrameSize())
	return nil
}

// appendLocked writes the entry into the active segment and rolls over if needed
//
// Thread-safety: The caller must hold writeMu.
func (l *logImpl[V]) appendLocked(entry internal.Entry) error {
	list := l.current.Load()

	// normally only the active segment is left, later ones would be tried in order
	for i := list.active; i < len(list.segments); i++ {
		ok, err := list.segments[i].appendEntry(entry)
		if err != nil {
			return err
		}
		if ok {
			if i != list.active {
				l.current.Store(&segmentList[V]{segments: list.segments, active: i})
			}
			return nil
		}
		list.segments[i].MarkNotWritable()
	}

	// roll over
	segment, err := l.factory.NewInstance()
	if err != nil {
		return err
	}
	ok, err := segment.appendEntry(entry)
	if err == nil && !ok {
		err = fmt.Errorf("%w: record %q rejected by an empty segment", ErrRecordTooLarge, entry.Key)
	}
	if err != nil {
		segment.DeleteBackingFile()
		return err
	}

	segments := make([]*Segment[V], len(list.segments), len(list.segments)+1)
	copy(segments, list.segments)
	segments = append(segments, segment)
	l.current.Store(&segmentList[V]{segments: segments, active: len(segments) - 1})

	l.metrics.rollovers.Inc()
	Logger.Debugf("rolled over to %s (%d segments)", segment.Path(), len(segments))
	return nil
}

// Put appends a record holding value
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (l *logImpl[V]) Put(key string, value V) error {
	return l.Append(key, &value)
}

// Delete appends a tombstone for key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (l *logImpl[V]) Delete(key string) error {
	return l.Append(key, nil)
}

// --------------------------------------------------------------------------
// Core KVLog Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get returns the newest record of key. Segments are searched from newest to oldest,
// the first hit wins. A key whose newest record is a tombstone is reported as not found.
//
// Thread-safety: This method is thread-safe and can be called concurrently. It never
// takes the write lock, it works on a snapshot of the segment list instead.
func (l *logImpl[V]) Get(key string) (db.Record[V], bool, error) {
	for {
		if l.closed.Load() {
			return db.Record[V]{}, false, ErrClosed
		}

		record, found, stale, err := l.lookup(l.current.Load(), key)
		if stale {
			// a compaction replaced the snapshot while reading, use the new one
			continue
		}
		if err != nil {
			return db.Record[V]{}, false, err
		}
		if !found || record.IsTombstone() {
			return db.Record[V]{}, false, nil
		}
		return record, true, nil
	}
}

// lookup searches the segments of one snapshot. stale is true if a segment of the
// snapshot was already released, the caller has to retry with a fresh snapshot.
func (l *logImpl[V]) lookup(list *segmentList[V], key string) (record db.Record[V], found, stale bool, err error) {
	for i := len(list.segments) - 1; i >= 0; i-- {
		segment := list.segments[i]
		if !segment.acquire() {
			return db.Record[V]{}, false, true, nil
		}
		record, found, err = segment.Get(key)
		segment.release()

		if err != nil || found {
			return record, found, false, err
		}
	}
	return db.Record[V]{}, false, false, nil
}

// --------------------------------------------------------------------------
// Feature Support and Metadata
// --------------------------------------------------------------------------

// SupportsFeature checks if the log supports all the given features
func (l *logImpl[V]) SupportsFeature(feature db.Feature) bool {
	return feature&supportedFeatures == feature
}

// Metadata is the implementation specific part of db.DatabaseInfo
type Metadata struct {
	Directory          string                `json:"directory" yaml:"directory"`
	SegmentCount       int                   `json:"segment_count" yaml:"segment_count"`
	ActiveSegment      string                `json:"active_segment" yaml:"active_segment"`
	MaxSegmentSize     string                `json:"max_segment_size" yaml:"max_segment_size"`
	IndexedKeys        int                   `json:"indexed_keys" yaml:"indexed_keys"` // summed over segments, a key can be counted more than once
	SegmentFill        util.FillStats        `json:"segment_fill" yaml:"segment_fill"`
	FrameSizes         util.HistogramSummary `json:"frame_sizes" yaml:"frame_sizes"`
	Compactions        uint64                `json:"compactions" yaml:"compactions"`
	CompactionInterval string                `json:"compaction_interval" yaml:"compaction_interval"`
}

// GetInfo returns information about the log
//
// Thread-safety: This method is thread-safe, the result is a snapshot.
func (l *logImpl[V]) GetInfo() db.DatabaseInfo {
	list := l.current.Load()

	sizes := make([]float64, len(list.segments))
	keys := 0
	for i, segment := range list.segments {
		sizes[i] = float64(segment.Size())
		keys += segment.Len()
	}

	features := make([]db.Feature, 0, 6)
	for f := db.FeatureAppend; f <= db.FeatureMetrics; f <<= 1 {
		if l.SupportsFeature(f) {
			features = append(features, f)
		}
	}

	return db.DatabaseInfo{
		SizeBytes:         int(l.sizeBytes()),
		DbType:            db.ImplSegLog,
		SupportedFeatures: features,
		Metadata: &Metadata{
			Directory:          l.opts.Dir,
			SegmentCount:       len(list.segments),
			ActiveSegment:      filepath.Base(list.segments[list.active].Path()),
			MaxSegmentSize:     bytefmt.ByteSize(l.opts.MaxSegmentSizeBytes),
			IndexedKeys:        keys,
			SegmentFill:        util.NewFillStats(sizes, float64(l.opts.MaxSegmentSizeBytes)),
			FrameSizes:         l.frameSizes.Summary(),
			Compactions:        l.metrics.compactions.Get(),
			CompactionInterval: l.opts.CompactionInterval.String(),
		},
	}
}

// WriteMetrics writes the metrics of the log in Prometheus text format
func (l *logImpl[V]) WriteMetrics(w io.Writer) {
	l.metrics.set.WritePrometheus(w)
}

// sizeBytes sums the sizes of all current segments
func (l *logImpl[V]) sizeBytes() uint64 {
	var size uint64
	for _, segment := range l.current.Load().segments {
		size += segment.Size()
	}
	return size
}

// segmentCount returns the number of current segments
func (l *logImpl[V]) segmentCount() int {
	return len(l.current.Load().segments)
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

// Close stops the compactor, flushes the active segment and closes all files.
// Segment files stay on disk. Calling Close more than once is a no-op.
//
// Thread-safety: This method is thread-safe. Operations running concurrently
// with Close either complete or return ErrClosed.
func (l *logImpl[V]) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}

	l.stopCompactor()

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	list := l.current.Load()
	err := list.segments[list.active].sync()
	for _, segment := range list.segments {
		segment.release()
	}

	Logger.Infof("closed log %s", l.opts.Dir)
	return err
}
