package seglog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dLog/lib/db/serializer"
)

// segmentFilePattern matches the names SegmentFileName produces
var segmentFilePattern = regexp.MustCompile(`^segment-(\d+)\.dat$`)

// FloorFileName is the file that records the lowest segment number of the newest
// compaction output. Segment files below it were compacted away and are never replayed.
const FloorFileName = "segments.floor"

// SegmentFileName returns the deterministic file name of segment n
func SegmentFileName(n uint64) string {
	return fmt.Sprintf("segment-%d.dat", n)
}

// SegmentFactory creates segments with monotonically numbered backing files in one directory.
//
// Thread-safety: The factory is not thread-safe. It is owned by a single log, which
// only calls it while holding its write lock.
type SegmentFactory[V any] struct {
	dir  string
	next uint64 // number of the next segment
	cfg  segmentConfig[V]
}

// NewSegmentFactory creates a factory for dir, creating the directory if needed.
// Numbering starts at 1.
func NewSegmentFactory[V any](dir string, maxSizeBytes uint64, s serializer.IValueSerializer[V], clock func() int64, syncWrites bool) (*SegmentFactory[V], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create directory %s: %w", ErrIO, dir, err)
	}
	return &SegmentFactory[V]{
		dir:  dir,
		next: 1,
		cfg: segmentConfig[V]{
			maxSizeBytes: maxSizeBytes,
			serializer:   s,
			clock:        clock,
			syncWrites:   syncWrites,
		},
	}, nil
}

// Dir returns the directory of the factory
func (f *SegmentFactory[V]) Dir() string { return f.dir }

// NewInstance creates the next segment. A stale file at the target path (e.g. from
// an earlier run that used the same numbering) is removed first, so the segment always starts empty.
func (f *SegmentFactory[V]) NewInstance() (*Segment[V], error) {
	id := f.next
	path := filepath.Join(f.dir, SegmentFileName(id))

	if _, err := os.Lstat(path); err == nil {
		Logger.Warningf("removing stale file %s before creating segment %d", path, id)
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("%w: remove stale %s: %w", ErrIO, path, err)
		}
	}

	segment, err := createSegment(id, path, f.cfg)
	if err != nil {
		return nil, err
	}

	// only consume the number once the file exists
	f.next++
	Logger.Debugf("created segment %s", path)
	return segment, nil
}

// OpenExisting opens every live segment file of the directory in numeric order and rebuilds
// their indexes. Files numbered below the recorded floor are leftovers of a compaction
// whose delete failed, they are removed instead of replayed. All segments but the newest
// are frozen. Numbering continues after the highest existing segment.
func (f *SegmentFactory[V]) OpenExisting() ([]*Segment[V], error) {
	ids, err := f.scanDir()
	if err != nil {
		return nil, err
	}
	floor, err := f.ReadFloor()
	if err != nil {
		return nil, err
	}

	live := ids[:0]
	for _, id := range ids {
		if id >= floor {
			live = append(live, id)
			continue
		}
		path := filepath.Join(f.dir, SegmentFileName(id))
		Logger.Warningf("removing compacted segment %s (below floor %d)", path, floor)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			Logger.Warningf("could not remove %s, skipping it: %v", path, err)
		}
	}
	ids = live

	segments := make([]*Segment[V], 0, len(ids))
	for i, id := range ids {
		segment, err := openSegment(id, filepath.Join(f.dir, SegmentFileName(id)), f.cfg)
		if err != nil {
			for _, opened := range segments {
				opened.closeFile()
			}
			return nil, err
		}
		if i < len(ids)-1 {
			segment.MarkNotWritable()
		}
		segments = append(segments, segment)
	}

	f.next = max(f.next, floor)
	if len(ids) > 0 {
		f.next = max(f.next, ids[len(ids)-1]+1)
	}
	return segments, nil
}

// --------------------------------------------------------------------------
// Compaction Floor
// --------------------------------------------------------------------------

// ReadFloor returns the recorded floor, 0 if none was written yet
func (f *SegmentFactory[V]) ReadFloor() (uint64, error) {
	path := filepath.Join(f.dir, FloorFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %w", ErrIO, path, err)
	}
	floor, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid floor file %s: %w", ErrIO, path, err)
	}
	return floor, nil
}

// WriteFloor durably records that every segment numbered below floor is obsolete.
// The value is written to a temporary file which is synced and renamed over the old
// floor file, so a crash leaves either the old or the new floor.
func (f *SegmentFactory[V]) WriteFloor(floor uint64) error {
	path := filepath.Join(f.dir, FloorFileName)
	tmp := path + ".tmp"

	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrIO, tmp, err)
	}
	_, err = file.WriteString(strconv.FormatUint(floor, 10) + "\n")
	if err == nil {
		err = file.Sync()
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: write %s: %w", ErrIO, path, err)
	}

	// the new floor is in place, a failed directory sync only weakens its durability
	if err := syncDir(f.dir); err != nil {
		Logger.Warningf("floor %d written but not synced: %v", floor, err)
	}
	return nil
}

// removeFloor deletes the floor file, a missing file is not an error
func (f *SegmentFactory[V]) removeFloor() error {
	path := filepath.Join(f.dir, FloorFileName)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %w", ErrIO, path, err)
	}
	return nil
}

// syncDir flushes the directory entry so a rename survives a crash
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("%w: open directory %s: %w", ErrIO, dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("%w: sync directory %s: %w", ErrIO, dir, err)
	}
	return nil
}

// scanDir returns the numbers of all segment files in the directory, sorted ascending
func (f *SegmentFactory[V]) scanDir() ([]uint64, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read directory %s: %w", ErrIO, f.dir, err)
	}

	var ids []uint64
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		matches := segmentFilePattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}
		id, err := strconv.ParseUint(matches[1], 10, 64)
		if err != nil {
			Logger.Warningf("ignoring segment file %s: %v", entry.Name(), err)
			continue
		}
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
