package seglog

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/ValentinKolb/dLog/lib/db"
)

// --------------------------------------------------------------------------
// Compaction
// --------------------------------------------------------------------------

// Compact runs one compaction cycle synchronously. It returns ErrCompactionInProgress
// if another cycle is running and does nothing if the log consists of a single segment.
//
// Thread-safety: This method is thread-safe. Appends wait until the cycle is installed,
// readers are never blocked.
func (l *logImpl[V]) Compact() error {
	if l.closed.Load() {
		return ErrClosed
	}
	if !l.compacting.CompareAndSwap(false, true) {
		return ErrCompactionInProgress
	}
	defer l.compacting.Store(false)

	return l.compact()
}

// compact merges all segments into a fresh sequence that holds only the newest live
// record per key.
//
// The cycle moves through four stages:
//  1. scanning: every record of every segment is replayed, oldest segment first, and the
//     record with the greatest append time per key is kept (later records win ties)
//  2. merging: keys whose winner is a tombstone are dropped
//  3. installing: the survivors are rewritten into new segments from the factory
//  4. cleanup: the floor file is moved to the first new segment, the new list replaces
//     the old one in a single store, then the old segments are retired and their files
//     deleted once no reader holds them
//
// Any failure before the swap leaves the old segments untouched and deletes the new ones.
func (l *logImpl[V]) compact() error {
	start := time.Now()

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if l.closed.Load() {
		return ErrClosed
	}

	old := l.current.Load()
	if len(old.segments) <= 1 {
		Logger.Debugf("skipping compaction of %s: single segment", l.opts.Dir)
		l.metrics.compactionsSkipped.Inc()
		return nil
	}

	// scanning
	latest := make(map[string]db.Record[V])
	for _, segment := range old.segments {
		for record, err := range segment.Records() {
			if err != nil {
				l.metrics.compactionFailures.Inc()
				return fmt.Errorf("compaction: scan %s: %w", segment.Path(), err)
			}
			if prev, ok := latest[record.Key]; !ok || record.AppendTime >= prev.AppendTime {
				latest[record.Key] = record
			}
		}
	}

	// merging
	survivors := make([]db.Record[V], 0, len(latest))
	for _, record := range latest {
		if !record.IsTombstone() {
			survivors = append(survivors, record)
		}
	}
	sort.Slice(survivors, func(i, j int) bool {
		if survivors[i].AppendTime != survivors[j].AppendTime {
			return survivors[i].AppendTime < survivors[j].AppendTime
		}
		return survivors[i].Key < survivors[j].Key
	})

	// installing
	installed, err := l.install(survivors)
	if err != nil {
		for _, segment := range installed {
			segment.DeleteBackingFile()
		}
		l.metrics.compactionFailures.Inc()
		return fmt.Errorf("compaction: install: %w", err)
	}

	// segments below the new generation must never be replayed, even if their delete fails
	if err := l.factory.WriteFloor(installed[0].ID()); err != nil {
		for _, segment := range installed {
			segment.DeleteBackingFile()
		}
		l.metrics.compactionFailures.Inc()
		return fmt.Errorf("compaction: %w", err)
	}

	// cleanup
	l.current.Store(&segmentList[V]{segments: installed, active: len(installed) - 1})

	var before, after uint64
	for _, segment := range old.segments {
		before += segment.Size()
		segment.retire()
	}
	for _, segment := range installed {
		after += segment.Size()
	}

	l.metrics.compactions.Inc()
	if before > after {
		l.metrics.reclaimedBytes.Add(int(before - after))
	}
	l.metrics.compactionDuration.UpdateDuration(start)

	Logger.Infof("compacted %s: %d -> %d segments, %d live keys, %s reclaimed in %v",
		l.opts.Dir, len(old.segments), len(installed), len(survivors),
		bytefmt.ByteSize(before-min(before, after)), time.Since(start).Round(time.Millisecond))
	return nil
}

// install writes the records into new segments, allocating another segment whenever
// the current one is full. On error the segments created so far are returned so the
// caller can delete them.
//
// Thread-safety: The caller must hold writeMu.
func (l *logImpl[V]) install(records []db.Record[V]) ([]*Segment[V], error) {
	segment, err := l.factory.NewInstance()
	if err != nil {
		return nil, err
	}
	segments := []*Segment[V]{segment}

	for _, record := range records {
		ok, err := segment.AppendRecord(record)
		if err != nil {
			return segments, err
		}
		if ok {
			continue
		}

		segment.MarkNotWritable()
		if segment, err = l.factory.NewInstance(); err != nil {
			return segments, err
		}
		segments = append(segments, segment)

		if ok, err = segment.AppendRecord(record); err != nil {
			return segments, err
		}
		if !ok {
			return segments, fmt.Errorf("%w: record %q rejected by an empty segment", ErrRecordTooLarge, record.Key)
		}
	}
	return segments, nil
}

// --------------------------------------------------------------------------
// Background Compactor
// --------------------------------------------------------------------------

// startCompactor starts the background compactor.
// if the compactor is already running or no interval is configured, this function does nothing
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (l *logImpl[V]) startCompactor() {
	if l.opts.CompactionInterval <= 0 {
		return
	}
	if l.compactorIsRunning.CompareAndSwap(false, true) {
		l.compactorDone.Add(1)
		go l.compactor()
	}
}

// stopCompactor stops the background compactor and waits for a running cycle to finish.
// the compactor can't be started again after it has been stopped!
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (l *logImpl[V]) stopCompactor() {
	if l.compactorIsRunning.CompareAndSwap(true, false) {
		close(l.stopCompactorCh)
		l.compactorDone.Wait()
	}
}

// compactor is the main loop of the background compactor
// WARNING: this method should never be called! to enable compaction, use startCompactor() and stopCompactor()
func (l *logImpl[V]) compactor() {
	defer l.compactorDone.Done()

	ticker := time.NewTicker(l.opts.CompactionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCompactorCh:
			return
		case <-ticker.C:
			err := l.Compact()
			switch {
			case err == nil:
			case errors.Is(err, ErrCompactionInProgress):
				// a cycle started by Compact() is still running, skip this tick
				Logger.Debugf("skipping compaction tick of %s: %v", l.opts.Dir, err)
			case errors.Is(err, ErrClosed):
				return
			default:
				// the old segments are untouched, the next tick retries
				Logger.Warningf("compaction of %s failed: %v", l.opts.Dir, err)
			}
		}
	}
}
