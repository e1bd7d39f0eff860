package seglog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/dLog/lib/db/serializer"
)

func newTestFactory(t *testing.T, dir string) *SegmentFactory[string] {
	t.Helper()
	cfg := testConfig(1024)
	factory, err := NewSegmentFactory[string](dir, cfg.maxSizeBytes, serializer.NewStringSerializer(), cfg.clock, false)
	if err != nil {
		t.Fatalf("NewSegmentFactory failed: %v", err)
	}
	return factory
}

func TestSegmentFactoryNumbering(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "log")
	factory := newTestFactory(t, dir)

	for i := uint64(1); i <= 3; i++ {
		segment, err := factory.NewInstance()
		if err != nil {
			t.Fatalf("NewInstance failed: %v", err)
		}
		defer segment.closeFile()

		if segment.ID() != i {
			t.Errorf("Expected segment id %d, got %d", i, segment.ID())
		}
		if want := filepath.Join(dir, SegmentFileName(i)); segment.Path() != want {
			t.Errorf("Expected path %s, got %s", want, segment.Path())
		}
		if !segment.IsWritable() || segment.Size() != 0 {
			t.Errorf("Expected a new segment to be writable and empty")
		}
	}
}

func TestSegmentFactoryStaleFile(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, SegmentFileName(1))
	if err := os.WriteFile(stale, []byte("left over from an earlier run"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	factory := newTestFactory(t, dir)
	segment, err := factory.NewInstance()
	if err != nil {
		t.Fatalf("NewInstance failed: %v", err)
	}
	defer segment.closeFile()

	info, err := os.Stat(stale)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("Expected the stale file to be replaced by an empty one, got %d bytes", info.Size())
	}
}

func TestSegmentFactoryOpenExisting(t *testing.T) {
	dir := t.TempDir()

	factory := newTestFactory(t, dir)
	for i := 0; i < 3; i++ {
		segment, err := factory.NewInstance()
		if err != nil {
			t.Fatalf("NewInstance failed: %v", err)
		}
		_, _ = segment.AppendValue("key", ptr(SegmentFileName(segment.ID())))
		segment.closeFile()
	}

	// files that do not belong to the log are ignored
	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)
	_ = os.Mkdir(filepath.Join(dir, SegmentFileName(99)), 0o755)

	reopened := newTestFactory(t, dir)
	segments, err := reopened.OpenExisting()
	if err != nil {
		t.Fatalf("OpenExisting failed: %v", err)
	}
	defer func() {
		for _, segment := range segments {
			segment.closeFile()
		}
	}()

	if len(segments) != 3 {
		t.Fatalf("Expected 3 segments, got %d", len(segments))
	}
	for i, segment := range segments {
		if segment.ID() != uint64(i+1) {
			t.Errorf("Expected segment %d at position %d, got %d", i+1, i, segment.ID())
		}
		requireRecord(t, segment, "key", SegmentFileName(segment.ID()))

		if last := i == len(segments)-1; segment.IsWritable() != last {
			t.Errorf("Segment %d: writable = %v, expected %v", segment.ID(), segment.IsWritable(), last)
		}
	}

	next, err := reopened.NewInstance()
	if err != nil {
		t.Fatalf("NewInstance failed: %v", err)
	}
	defer next.closeFile()
	if next.ID() != 4 {
		t.Errorf("Expected numbering to continue at 4, got %d", next.ID())
	}
}

func TestSegmentFactoryFloor(t *testing.T) {
	dir := t.TempDir()
	factory := newTestFactory(t, dir)

	if floor, err := factory.ReadFloor(); err != nil || floor != 0 {
		t.Errorf("Expected floor 0 without a floor file, got %d (%v)", floor, err)
	}

	for i := 0; i < 3; i++ {
		segment, err := factory.NewInstance()
		if err != nil {
			t.Fatalf("NewInstance failed: %v", err)
		}
		segment.closeFile()
	}
	if err := factory.WriteFloor(3); err != nil {
		t.Fatalf("WriteFloor failed: %v", err)
	}
	if floor, err := factory.ReadFloor(); err != nil || floor != 3 {
		t.Errorf("Expected floor 3, got %d (%v)", floor, err)
	}

	reopened := newTestFactory(t, dir)
	segments, err := reopened.OpenExisting()
	if err != nil {
		t.Fatalf("OpenExisting failed: %v", err)
	}
	defer func() {
		for _, segment := range segments {
			segment.closeFile()
		}
	}()
	if len(segments) != 1 || segments[0].ID() != 3 {
		t.Errorf("Expected only segment 3 to be opened, got %d segment(s)", len(segments))
	}
	for _, id := range []uint64{1, 2} {
		if _, err := os.Stat(filepath.Join(dir, SegmentFileName(id))); !os.IsNotExist(err) {
			t.Errorf("Expected segment %d below the floor to be removed, got %v", id, err)
		}
	}

	t.Run("Invalid", func(t *testing.T) {
		dir := t.TempDir()
		_ = os.WriteFile(filepath.Join(dir, FloorFileName), []byte("not a number"), 0o644)
		if _, err := newTestFactory(t, dir).ReadFloor(); err == nil {
			t.Errorf("Expected an invalid floor file to be rejected")
		}
	})
}
