package seglog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dLog/lib/db"
	"github.com/ValentinKolb/dLog/lib/db/engines/seglog/internal"
	"github.com/ValentinKolb/dLog/lib/db/serializer"
)

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func testOptions(dir string, maxSize uint64) *Options {
	opts := DefaultOptions()
	opts.Dir = dir
	opts.MaxSegmentSizeBytes = maxSize
	opts.CompactionInterval = 0
	return opts
}

func openTestLog(t *testing.T, opts *Options) *logImpl[string] {
	t.Helper()
	l, err := newLog(opts, serializer.NewStringSerializer())
	if err != nil {
		t.Fatalf("newLog failed: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func requireGet(t *testing.T, l db.KVLog[string], key, expected string) {
	t.Helper()
	record, found, err := l.Get(key)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	if !found {
		t.Fatalf("Expected key %s to exist", key)
	}
	if *record.Value != expected {
		t.Errorf("Expected value %q for %s, got %q", expected, key, *record.Value)
	}
}

func requireMissing(t *testing.T, l db.KVLog[string], key string) {
	t.Helper()
	_, found, err := l.Get(key)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	if found {
		t.Errorf("Expected key %s to not exist", key)
	}
}

func segmentFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "segment-*.dat"))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	return matches
}

// writeAsdareKeys writes asdare1000..asdare4999 and then overwrites asdare2500..asdare4999
func writeAsdareKeys(t *testing.T, l db.KVLog[string]) {
	t.Helper()
	for i := 1000; i < 5000; i++ {
		if err := l.Put(fmt.Sprintf("asdare%d", i), fmt.Sprint(i)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	for i := 2500; i < 5000; i++ {
		if err := l.Put(fmt.Sprintf("asdare%d", i), fmt.Sprintf("second-%d", i)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
}

func requireAsdareKeys(t *testing.T, l db.KVLog[string]) {
	t.Helper()
	for i := 1000; i < 5000; i++ {
		key := fmt.Sprintf("asdare%d", i)
		if i < 2500 {
			requireGet(t, l, key, fmt.Sprint(i))
		} else {
			requireGet(t, l, key, fmt.Sprintf("second-%d", i))
		}
	}
}

// failingSerializer fails Serialize once fail is set
type failingSerializer struct {
	serializer.IValueSerializer[string]
	fail atomic.Bool
}

func (s *failingSerializer) Serialize(v string) ([]byte, error) {
	if s.fail.Load() {
		return nil, errors.New("serializer failure")
	}
	return s.IValueSerializer.Serialize(v)
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func TestSmallSegmentScenario(t *testing.T) {
	opts := testOptions(t.TempDir(), 477)
	opts.CompactionInterval = 10 * time.Second
	l := openTestLog(t, opts)

	for _, kv := range [][2]string{{"hello", "value"}, {"fello", "malue"}, {"mello", "balue"}} {
		if err := l.Put(kv[0], kv[1]); err != nil {
			t.Fatalf("Put(%s) failed: %v", kv[0], err)
		}
	}

	requireGet(t, l, "hello", "value")
	requireGet(t, l, "fello", "malue")
	requireGet(t, l, "mello", "balue")

	// the three frames fit into one segment, so no rollover happens
	if total := 3 * frameSize("hello", ptr("value")); total > 477 {
		t.Fatalf("Expected the records to fit into 477 bytes, need %d", total)
	}
	if l.segmentCount() != 1 {
		t.Errorf("Expected 1 segment, got %d", l.segmentCount())
	}
}

func TestLatestWinsAcrossRollovers(t *testing.T) {
	// room for a handful of records per segment
	l := openTestLog(t, testOptions(t.TempDir(), 5*frameSize("key-00", ptr("round-0"))))

	for round := 0; round < 5; round++ {
		for k := 0; k < 10; k++ {
			if err := l.Put(fmt.Sprintf("key-%02d", k), fmt.Sprintf("round-%d", round)); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
		}
	}

	if l.segmentCount() != 10 {
		t.Errorf("Expected 10 segments, got %d", l.segmentCount())
	}
	if got := l.metrics.rollovers.Get(); got != 9 {
		t.Errorf("Expected 9 rollovers, got %d", got)
	}
	for k := 0; k < 10; k++ {
		requireGet(t, l, fmt.Sprintf("key-%02d", k), "round-4")
	}

	// only the newest segment is writable
	list := l.current.Load()
	for i, segment := range list.segments {
		if i != list.active && segment.IsWritable() {
			t.Errorf("Segment %s is writable but not active", segment.Path())
		}
	}
}

func TestTombstones(t *testing.T) {
	l := openTestLog(t, testOptions(t.TempDir(), 256))

	_ = l.Put("keep", "1")
	_ = l.Put("gone", "2")
	for i := 0; i < 20; i++ {
		_ = l.Put(fmt.Sprintf("filler-%d", i), "x")
	}
	if err := l.Delete("gone"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	t.Run("BeforeCompaction", func(t *testing.T) {
		requireMissing(t, l, "gone")
		requireGet(t, l, "keep", "1")
	})

	if err := l.Compact(); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}

	t.Run("AfterCompaction", func(t *testing.T) {
		requireMissing(t, l, "gone")
		requireGet(t, l, "keep", "1")

		// the tombstone itself is gone as well
		for _, segment := range l.current.Load().segments {
			if _, found, _ := segment.Get("gone"); found {
				t.Errorf("Expected no record of a deleted key after compaction")
			}
		}
	})

	t.Run("RewriteAfterDelete", func(t *testing.T) {
		_ = l.Put("gone", "3")
		requireGet(t, l, "gone", "3")
	})
}

func TestCompaction(t *testing.T) {
	t.Run("ReducesSegments", func(t *testing.T) {
		dir := t.TempDir()
		l := openTestLog(t, testOptions(dir, 50_000))

		writeAsdareKeys(t, l)
		before := l.segmentCount()
		if before < 2 {
			t.Fatalf("Expected several segments before compaction, got %d", before)
		}

		if err := l.Compact(); err != nil {
			t.Fatalf("Compact failed: %v", err)
		}

		after := l.segmentCount()
		if after >= before {
			t.Errorf("Expected fewer segments after compaction, %d -> %d", before, after)
		}
		requireAsdareKeys(t, l)

		if files := segmentFiles(t, dir); len(files) != after {
			t.Errorf("Expected %d segment files on disk, got %d", after, len(files))
		}
		if l.metrics.compactions.Get() != 1 {
			t.Errorf("Expected one compaction, got %d", l.metrics.compactions.Get())
		}
		if l.metrics.reclaimedBytes.Get() == 0 {
			t.Errorf("Expected reclaimed bytes to be recorded")
		}

		// appends continue after the installed segments
		if err := l.Put("asdare1000", "third"); err != nil {
			t.Fatalf("Put after compaction failed: %v", err)
		}
		requireGet(t, l, "asdare1000", "third")
	})

	t.Run("SingleSegmentIsNoOp", func(t *testing.T) {
		dir := t.TempDir()
		l := openTestLog(t, testOptions(dir, 50_000))

		_ = l.Put("a", "1")
		_ = l.Put("a", "2")

		before := l.current.Load()
		if err := l.Compact(); err != nil {
			t.Fatalf("Compact failed: %v", err)
		}
		if l.current.Load() != before {
			t.Errorf("Expected the segment list to be unchanged")
		}
		if l.metrics.compactionsSkipped.Get() != 1 {
			t.Errorf("Expected a skipped compaction to be counted")
		}
		requireGet(t, l, "a", "2")
	})

	t.Run("AllDeleted", func(t *testing.T) {
		dir := t.TempDir()
		l := openTestLog(t, testOptions(dir, 128))

		for i := 0; i < 10; i++ {
			_ = l.Put(fmt.Sprintf("k%d", i), "v")
		}
		for i := 0; i < 10; i++ {
			_ = l.Delete(fmt.Sprintf("k%d", i))
		}
		if err := l.Compact(); err != nil {
			t.Fatalf("Compact failed: %v", err)
		}

		if l.segmentCount() != 1 || l.sizeBytes() != 0 {
			t.Errorf("Expected a single empty segment, got %d segments, %d bytes", l.segmentCount(), l.sizeBytes())
		}
		if err := l.Put("k0", "again"); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		requireGet(t, l, "k0", "again")
	})

	t.Run("InProgress", func(t *testing.T) {
		l := openTestLog(t, testOptions(t.TempDir(), 1024))

		l.compacting.Store(true)
		if err := l.Compact(); !errors.Is(err, ErrCompactionInProgress) {
			t.Errorf("Expected ErrCompactionInProgress, got %v", err)
		}
		l.compacting.Store(false)
	})

	t.Run("FailureKeepsOldSegments", func(t *testing.T) {
		dir := t.TempDir()
		s := &failingSerializer{IValueSerializer: serializer.NewStringSerializer()}
		l, err := newLog(testOptions(dir, 256), serializer.IValueSerializer[string](s))
		if err != nil {
			t.Fatalf("newLog failed: %v", err)
		}
		defer l.Close()

		for i := 0; i < 30; i++ {
			_ = l.Put(fmt.Sprintf("k%d", i%10), fmt.Sprint(i))
		}
		before := l.current.Load()
		files := segmentFiles(t, dir)

		s.fail.Store(true)
		if err := l.Compact(); err == nil {
			t.Fatalf("Expected compaction to fail")
		}
		s.fail.Store(false)

		if l.current.Load() != before {
			t.Errorf("A failed compaction must not replace the segment list")
		}
		if got := segmentFiles(t, dir); len(got) != len(files) {
			t.Errorf("Expected the partial segments to be deleted, %d files before, %d after", len(files), len(got))
		}
		if l.metrics.compactionFailures.Get() != 1 {
			t.Errorf("Expected a failed compaction to be counted")
		}
		for k := 0; k < 10; k++ {
			requireGet(t, l, fmt.Sprintf("k%d", k), fmt.Sprint(20+k))
		}

		// the next cycle succeeds
		if err := l.Compact(); err != nil {
			t.Fatalf("Compact failed: %v", err)
		}
		for k := 0; k < 10; k++ {
			requireGet(t, l, fmt.Sprintf("k%d", k), fmt.Sprint(20+k))
		}
	})
}

func TestBackgroundCompaction(t *testing.T) {
	opts := testOptions(t.TempDir(), 50_000)
	opts.CompactionInterval = 50 * time.Millisecond
	l := openTestLog(t, opts)

	// stop the compactor while writing so the counts below are deterministic
	l.stopCompactor()
	writeAsdareKeys(t, l)
	before := l.segmentCount()

	l.stopCompactorCh = make(chan struct{})
	l.startCompactor()

	deadline := time.Now().Add(5 * time.Second)
	for l.metrics.compactions.Get() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Background compaction did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if after := l.segmentCount(); after >= before {
		t.Errorf("Expected fewer segments after compaction, %d -> %d", before, after)
	}
	requireAsdareKeys(t, l)
}

func TestRecordTooLarge(t *testing.T) {
	l := openTestLog(t, testOptions(t.TempDir(), 64))

	err := l.Put("big", strings.Repeat("x", 100))
	if !errors.Is(err, ErrRecordTooLarge) {
		t.Fatalf("Expected ErrRecordTooLarge, got %v", err)
	}
	if l.sizeBytes() != 0 || l.segmentCount() != 1 {
		t.Errorf("A rejected record must not change the log")
	}
	requireMissing(t, l, "big")

	if err := l.Put("small", "ok"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	requireGet(t, l, "small", "ok")
}

func TestRecovery(t *testing.T) {
	dir := t.TempDir()

	l, err := newLog(testOptions(dir, 256), serializer.NewStringSerializer())
	if err != nil {
		t.Fatalf("newLog failed: %v", err)
	}
	for i := 0; i < 40; i++ {
		_ = l.Put(fmt.Sprintf("k%d", i%15), fmt.Sprint(i))
	}
	_ = l.Delete("k0")
	segments := l.segmentCount()
	record, _, _ := l.Get("k1")
	lastTime := record.AppendTime
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	t.Run("Reopen", func(t *testing.T) {
		// the wall clock is far behind the stored records
		opts := testOptions(dir, 256)
		opts.Clock = func() time.Time { return time.UnixMilli(1) }
		reopened := openTestLog(t, opts)

		if reopened.segmentCount() != segments {
			t.Errorf("Expected %d segments after reopen, got %d", segments, reopened.segmentCount())
		}
		requireMissing(t, reopened, "k0")
		for i := 25; i < 40; i++ {
			if i%15 != 0 {
				requireGet(t, reopened, fmt.Sprintf("k%d", i%15), fmt.Sprint(i))
			}
		}

		if err := reopened.Put("k1", "new"); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		record, _, _ := reopened.Get("k1")
		if record.AppendTime < lastTime {
			t.Errorf("Append time %d went below the recovered %d", record.AppendTime, lastTime)
		}

		// compaction still prefers the new record
		if err := reopened.Compact(); err != nil {
			t.Fatalf("Compact failed: %v", err)
		}
		requireGet(t, reopened, "k1", "new")
		_ = reopened.Close()
	})

	t.Run("NoRecover", func(t *testing.T) {
		opts := testOptions(dir, 256)
		opts.Recover = false
		fresh := openTestLog(t, opts)

		requireMissing(t, fresh, "k1")
		if files := segmentFiles(t, dir); len(files) != 1 {
			t.Errorf("Expected a single fresh segment file, got %v", files)
		}
	})
}

func TestCompactedSegmentLeftBehind(t *testing.T) {
	dir := t.TempDir()
	l, err := newLog(testOptions(dir, 256), serializer.NewStringSerializer())
	if err != nil {
		t.Fatalf("newLog failed: %v", err)
	}

	if err := l.Put("gone", "secret"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	for i := 0; i < 20; i++ {
		if err := l.Put(fmt.Sprintf("filler%d", i), fmt.Sprint(i)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	if err := l.Delete("gone"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if l.segmentCount() < 2 {
		t.Fatalf("Expected several segments, got %d", l.segmentCount())
	}

	first := filepath.Join(dir, SegmentFileName(1))
	saved, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	if err := l.Compact(); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	floor, err := l.factory.ReadFloor()
	if err != nil {
		t.Fatalf("ReadFloor failed: %v", err)
	}
	if floor <= 1 {
		t.Fatalf("Expected the floor to move past segment 1, got %d", floor)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// a compacted segment whose delete failed is still on disk
	if err := os.WriteFile(first, saved, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	reopened := openTestLog(t, testOptions(dir, 256))
	requireMissing(t, reopened, "gone")
	for i := 0; i < 20; i++ {
		requireGet(t, reopened, fmt.Sprintf("filler%d", i), fmt.Sprint(i))
	}
	if _, err := os.Stat(first); !os.IsNotExist(err) {
		t.Errorf("Expected %s to be removed on reopen, got %v", first, err)
	}
	for _, segment := range reopened.current.Load().segments {
		if segment.ID() < floor {
			t.Errorf("Segment %d below floor %d was replayed", segment.ID(), floor)
		}
	}

	// starting empty also forgets the floor
	opts := testOptions(dir, 256)
	opts.Recover = false
	_ = reopened.Close()
	fresh := openTestLog(t, opts)
	if err := fresh.Put("k", "v"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	_ = fresh.Close()
	if _, err := os.Stat(filepath.Join(dir, FloorFileName)); !os.IsNotExist(err) {
		t.Errorf("Expected the floor file to be removed, got %v", err)
	}
	requireGet(t, openTestLog(t, testOptions(dir, 256)), "k", "v")
}

func TestClockGoingBackwards(t *testing.T) {
	var now atomic.Int64
	now.Store(10_000)

	opts := testOptions(t.TempDir(), 128)
	opts.Clock = func() time.Time { return time.UnixMilli(now.Add(-100)) }
	l := openTestLog(t, opts)

	for i := 0; i < 20; i++ {
		if err := l.Put("key", fmt.Sprint(i)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	requireGet(t, l, "key", "19")

	if err := l.Compact(); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	requireGet(t, l, "key", "19")
}

func TestConcurrentCompaction(t *testing.T) {
	l := openTestLog(t, testOptions(t.TempDir(), 4096))

	const numKeys = 200
	for i := 0; i < numKeys; i++ {
		_ = l.Put(fmt.Sprintf("key-%d", i), fmt.Sprintf("value-%d", i))
	}

	var wg sync.WaitGroup
	var failures atomic.Int64
	stop := make(chan struct{})

	// readers only ever see the stable keys
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				key := fmt.Sprintf("key-%d", i%numKeys)
				record, found, err := l.Get(key)
				if err != nil || !found || *record.Value != fmt.Sprintf("value-%d", i%numKeys) {
					failures.Add(1)
				}
			}
		}()
	}

	// a writer churns other keys
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if err := l.Put(fmt.Sprintf("churn-%d", i%50), fmt.Sprint(i)); err != nil {
				failures.Add(1)
			}
		}
	}()

	for i := 0; i < 20; i++ {
		if err := l.Compact(); err != nil && !errors.Is(err, ErrCompactionInProgress) {
			t.Errorf("Compact failed: %v", err)
		}
	}
	close(stop)
	wg.Wait()

	if n := failures.Load(); n > 0 {
		t.Errorf("%d operations failed during compaction", n)
	}
}

func TestClose(t *testing.T) {
	opts := testOptions(t.TempDir(), 1024)
	opts.CompactionInterval = time.Hour
	l, err := newLog(opts, serializer.NewStringSerializer())
	if err != nil {
		t.Fatalf("newLog failed: %v", err)
	}
	_ = l.Put("a", "1")

	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if l.compactorIsRunning.Load() {
		t.Errorf("Expected the compactor to be stopped")
	}
	if err := l.Put("a", "2"); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Put, got %v", err)
	}
	if _, _, err := l.Get("a"); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Get, got %v", err)
	}
	if err := l.Compact(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Compact, got %v", err)
	}

	// files stay on disk
	if _, err := os.Stat(filepath.Join(opts.Dir, SegmentFileName(1))); err != nil {
		t.Errorf("Expected segment file to remain after Close: %v", err)
	}
}

func TestOptionsValidation(t *testing.T) {
	tests := map[string]func(o *Options){
		"EmptyDir":         func(o *Options) { o.Dir = "" },
		"ZeroSegmentSize":  func(o *Options) { o.MaxSegmentSizeBytes = 0 },
		"NegativeInterval": func(o *Options) { o.CompactionInterval = -time.Second },
		"UnreadableFrames": func(o *Options) { o.MaxSegmentSizeBytes = internal.MaxFrameSize + 1 },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			opts := testOptions(t.TempDir(), 1024)
			mutate(opts)
			if _, err := NewSegLog(opts, serializer.NewStringSerializer()); err == nil {
				t.Errorf("Expected invalid options to be rejected")
			}
		})
	}

	// the largest readable frame is still a valid segment size
	l, err := NewSegLog(testOptions(t.TempDir(), internal.MaxFrameSize), serializer.NewStringSerializer())
	if err != nil {
		t.Errorf("Expected max segment size %d to be accepted: %v", internal.MaxFrameSize, err)
	} else {
		_ = l.Close()
	}

	if _, err := NewSegLog[string](testOptions(t.TempDir(), 1024), nil); err == nil {
		t.Errorf("Expected a nil serializer to be rejected")
	}
}

func TestInfoAndMetrics(t *testing.T) {
	dir := t.TempDir()
	l := openTestLog(t, testOptions(dir, 256))

	for i := 0; i < 30; i++ {
		_ = l.Put(fmt.Sprintf("k%d", i), "value")
	}

	info := l.GetInfo()
	if info.DbType != db.ImplSegLog {
		t.Errorf("Expected db type %s, got %s", db.ImplSegLog, info.DbType)
	}
	meta, ok := info.Metadata.(*Metadata)
	if !ok {
		t.Fatalf("Expected *Metadata, got %T", info.Metadata)
	}
	if meta.SegmentCount != l.segmentCount() || meta.Directory != dir {
		t.Errorf("Unexpected metadata %+v", meta)
	}
	if meta.FrameSizes.Samples != 30 {
		t.Errorf("Expected 30 frame size samples, got %d", meta.FrameSizes.Samples)
	}
	if len(info.SupportedFeatures) != 6 {
		t.Errorf("Expected 6 features, got %v", info.SupportedFeatures)
	}

	var buf strings.Builder
	l.WriteMetrics(&buf)
	for _, name := range []string{"seglog_appends_total 30", "seglog_segments", "seglog_size_bytes"} {
		if !strings.Contains(buf.String(), name) {
			t.Errorf("Expected metric %q in output:\n%s", name, buf.String())
		}
	}
}
