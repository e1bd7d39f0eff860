// Package seglog implements db.KVLog as a log-structured, append-only key-value store.
//
// Every write appends a length-prefixed, checksummed frame to the active segment file.
// Segments are bounded by a maximum size; once the active segment is full it is frozen
// and the log rolls over to a new one created by a SegmentFactory. Each segment keeps an
// in-memory index from key to the byte offset of its newest frame, lookups search the
// segments from newest to oldest.
//
// Reads never block: the segment list is an immutable snapshot behind an atomic pointer.
// Appends and compaction are serialized by a single write lock. A background compactor
// periodically rewrites all live records into fresh segments, drops superseded records
// and tombstones, swaps the new list in and deletes the old files once no reader holds
// them anymore.
//
// On startup the log replays the segment files of its directory (segment-<n>.dat) to
// rebuild the indexes. A frame that was cut off by a crash is truncated away.
//
// Example usage:
//
//	log, err := seglog.NewSegLog(&seglog.Options{
//		Dir:                 "data",
//		MaxSegmentSizeBytes: 4 * 1024 * 1024,
//		CompactionInterval:  10 * time.Second,
//		Recover:             true,
//	}, serializer.NewBytesSerializer())
//	if err != nil {
//		return err
//	}
//	defer log.Close()
//
//	_ = log.Put("hello", []byte("world"))
//	record, found, err := log.Get("hello")
package seglog
